package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/gamezone/internal/repos/users"
)

var _ users.Users = (*usersRepo)(nil)

type usersRepo struct{ db *sql.DB }

func New(db *sql.DB) *usersRepo {
	return &usersRepo{db: db}
}

// Ensure creates the user on first contact. A non-empty display name
// refreshes the stored one.
func (r *usersRepo) Ensure(ctx context.Context, tx *sql.Tx, userID int64, displayName string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name
		WHERE EXCLUDED.display_name <> '' AND users.display_name <> EXCLUDED.display_name
	`, userID, displayName)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	return nil
}

func (r *usersRepo) Get(ctx context.Context, userID int64) (users.Account, error) {
	acc := users.Account{UserID: userID}

	err := r.db.QueryRowContext(ctx, `
		SELECT display_name, balance, held
		FROM users
		WHERE id = $1
	`, userID).Scan(&acc.DisplayName, &acc.Balance, &acc.Held)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return users.Account{}, users.ErrUserNotFound
		}

		return users.Account{}, fmt.Errorf("get account: %w", err)
	}

	return acc, nil
}

func (r *usersRepo) LockFunds(ctx context.Context, tx *sql.Tx, userID int64) (users.Account, error) {
	acc := users.Account{UserID: userID}

	err := tx.QueryRowContext(ctx, `
		SELECT display_name, balance, held
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&acc.DisplayName, &acc.Balance, &acc.Held)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return users.Account{}, users.ErrUserNotFound
		}

		return users.Account{}, fmt.Errorf("lock funds: %w", err)
	}

	return acc, nil
}

// AdjustBalance applies delta to balance. The table CHECKs reject any
// result that would go negative or below held.
func (r *usersRepo) AdjustBalance(ctx context.Context, tx *sql.Tx, userID int64, delta int64) error {
	return r.adjust(ctx, tx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, userID, delta)
}

func (r *usersRepo) AdjustHeld(ctx context.Context, tx *sql.Tx, userID int64, delta int64) error {
	return r.adjust(ctx, tx, `UPDATE users SET held = held + $2 WHERE id = $1`, userID, delta)
}

func (r *usersRepo) adjust(ctx context.Context, tx *sql.Tx, query string, userID, delta int64) error {
	res, err := tx.ExecContext(ctx, query, userID, delta)
	if err != nil {
		return fmt.Errorf("adjust user %d: %w", userID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return users.ErrUserNotFound
	}

	return nil
}
