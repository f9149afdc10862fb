package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fastprodman/gamezone/internal/infra/pgutils"
	"github.com/fastprodman/gamezone/internal/repos/transactions"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

const selectColumns = `
	SELECT id, user_id, type, amount, fee, status, COALESCE(external_ref, ''),
	       lobby_id, hold_id, created_at, completed_at
	FROM wallet_transactions`

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

func (r *transactionsRepo) Insert(ctx context.Context, tx *sql.Tx, t transactions.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, user_id, type, amount, fee, status, external_ref, lobby_id, hold_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9,
			CASE WHEN $6 = 'completed' THEN NOW() END)
	`, t.ID, t.UserID, t.Type, t.Amount, t.Fee, t.Status, t.ExternalRef, t.LobbyID, t.HoldID)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return transactions.ErrDuplicateTransaction
		}

		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (r *transactionsRepo) InsertOnce(ctx context.Context, tx *sql.Tx, t transactions.Transaction) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, user_id, type, amount, fee, status, external_ref, lobby_id, hold_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9,
			CASE WHEN $6 = 'completed' THEN NOW() END)
		ON CONFLICT (external_ref) WHERE external_ref IS NOT NULL DO NOTHING
	`, t.ID, t.UserID, t.Type, t.Amount, t.Fee, t.Status, t.ExternalRef, t.LobbyID, t.HoldID)
	if err != nil {
		return false, fmt.Errorf("insert transaction once: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *transactionsRepo) LockByExternalRef(ctx context.Context, tx *sql.Tx, ref string) (transactions.Transaction, error) {
	row := tx.QueryRowContext(ctx, selectColumns+` WHERE external_ref = $1 FOR UPDATE`, ref)

	return scanOne(row)
}

func (r *transactionsRepo) GetByExternalRef(ctx context.Context, ref string) (transactions.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE external_ref = $1`, ref)

	return scanOne(row)
}

// LockHold locks the stake_hold row and reports whether a release or a
// debit already consumed it.
func (r *transactionsRepo) LockHold(ctx context.Context, tx *sql.Tx, holdID uuid.UUID) (transactions.Hold, error) {
	row := tx.QueryRowContext(ctx, selectColumns+` WHERE id = $1 AND type = 'stake_hold' FOR UPDATE`, holdID)

	t, err := scanOne(row)
	if err != nil {
		return transactions.Hold{}, err
	}

	h := transactions.Hold{Transaction: t}

	err = tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(BOOL_OR(type = 'stake_release'), FALSE),
			COALESCE(BOOL_OR(type = 'stake_debit'), FALSE)
		FROM wallet_transactions
		WHERE hold_id = $1 AND type IN ('stake_release', 'stake_debit')
	`, holdID).Scan(&h.Released, &h.Debited)
	if err != nil {
		return transactions.Hold{}, fmt.Errorf("hold settlements: %w", err)
	}

	return h, nil
}

// Complete settles a pending row with the final credited amount.
func (r *transactionsRepo) Complete(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount, fee int64) error {
	return r.settle(ctx, tx, `
		UPDATE wallet_transactions
		SET status = 'completed', amount = $2, fee = $3, completed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, amount, fee)
}

func (r *transactionsRepo) MarkFailed(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	return r.settle(ctx, tx, `
		UPDATE wallet_transactions
		SET status = 'failed', completed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
}

func (r *transactionsRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]transactions.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []transactions.Transaction

	for rows.Next() {
		t, err := scanOne(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return out, nil
}

func (r *transactionsRepo) settle(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("settle transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return transactions.ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(s scanner) (transactions.Transaction, error) {
	var t transactions.Transaction

	err := s.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Fee, &t.Status, &t.ExternalRef,
		&t.LobbyID, &t.HoldID, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transactions.Transaction{}, transactions.ErrNotFound
		}

		return transactions.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}

	return t, nil
}
