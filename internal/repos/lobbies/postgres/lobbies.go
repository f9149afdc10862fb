package lobbies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fastprodman/gamezone/internal/repos/lobbies"
)

var _ lobbies.Lobbies = (*lobbiesRepo)(nil)

const returningColumns = `
	id, creator_id, opponent_id, stake, win_condition, status,
	creator_hold_id, opponent_hold_id, winner_id, draw,
	created_at, expires_at, activated_at, completed_at, handed_off_at`

type lobbiesRepo struct{ db *sql.DB }

func New(db *sql.DB) *lobbiesRepo {
	return &lobbiesRepo{db: db}
}

func (r *lobbiesRepo) Insert(ctx context.Context, tx *sql.Tx, l lobbies.Lobby) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lobbies (id, creator_id, stake, win_condition, status, creator_hold_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.ID, l.CreatorID, l.Stake, l.WinCondition, l.Status, l.CreatorHoldID, l.CreatedAt, l.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert lobby: %w", err)
	}

	return nil
}

func (r *lobbiesRepo) Get(ctx context.Context, id uuid.UUID) (lobbies.Lobby, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+returningColumns+` FROM lobbies WHERE id = $1`, id)

	return scanLobby(row, lobbies.ErrNotFound)
}

// Activate seats the opponent. Only one caller can win the
// awaiting_opponent row; everyone else gets ErrConflict.
func (r *lobbiesRepo) Activate(
	ctx context.Context, tx *sql.Tx, id uuid.UUID, opponentID int64, holdID uuid.UUID, now time.Time,
) (lobbies.Lobby, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE lobbies
		SET status = 'active', opponent_id = $2, opponent_hold_id = $3, activated_at = $4
		WHERE id = $1
		  AND status = 'awaiting_opponent'
		  AND creator_id <> $2
		  AND opponent_id IS NULL
		  AND expires_at > $4
		RETURNING `+returningColumns, id, opponentID, holdID, now)

	return scanLobby(row, lobbies.ErrConflict)
}

func (r *lobbiesRepo) Cancel(ctx context.Context, tx *sql.Tx, id uuid.UUID, creatorID int64) (lobbies.Lobby, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE lobbies
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'awaiting_opponent' AND creator_id = $2
		RETURNING `+returningColumns, id, creatorID)

	return scanLobby(row, lobbies.ErrConflict)
}

func (r *lobbiesRepo) Expire(ctx context.Context, tx *sql.Tx, id uuid.UUID, now time.Time) (lobbies.Lobby, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE lobbies
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'awaiting_opponent' AND expires_at <= $2
		RETURNING `+returningColumns, id, now)

	return scanLobby(row, lobbies.ErrConflict)
}

func (r *lobbiesRepo) Complete(
	ctx context.Context, tx *sql.Tx, id uuid.UUID, winnerID *int64, draw bool, now time.Time,
) (lobbies.Lobby, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE lobbies
		SET status = 'completed', winner_id = $2, draw = $3, completed_at = $4
		WHERE id = $1 AND status = 'active'
		RETURNING `+returningColumns, id, winnerID, draw, now)

	return scanLobby(row, lobbies.ErrConflict)
}

func (r *lobbiesRepo) ListOpen(ctx context.Context, now time.Time, limit int) ([]lobbies.Lobby, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+returningColumns+`
		FROM lobbies
		WHERE status = 'awaiting_opponent' AND expires_at > $1
		ORDER BY created_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list open lobbies: %w", err)
	}

	return collect(rows)
}

func (r *lobbiesRepo) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id
		FROM lobbies
		WHERE status = 'awaiting_opponent' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due lobbies: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID

	for rows.Next() {
		var id uuid.UUID

		err = rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("scan lobby id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate due lobbies: %w", err)
	}

	return ids, nil
}

func (r *lobbiesRepo) PendingHandoff(ctx context.Context, limit int) ([]lobbies.Lobby, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+returningColumns+`
		FROM lobbies
		WHERE status = 'active' AND handed_off_at IS NULL
		ORDER BY activated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending handoff: %w", err)
	}

	return collect(rows)
}

func (r *lobbiesRepo) MarkHandedOff(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE lobbies SET handed_off_at = $2 WHERE id = $1 AND handed_off_at IS NULL
	`, id, now)
	if err != nil {
		return fmt.Errorf("mark handed off: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLobby(s scanner, noRows error) (lobbies.Lobby, error) {
	var l lobbies.Lobby

	err := s.Scan(
		&l.ID, &l.CreatorID, &l.OpponentID, &l.Stake, &l.WinCondition, &l.Status,
		&l.CreatorHoldID, &l.OpponentHoldID, &l.WinnerID, &l.Draw,
		&l.CreatedAt, &l.ExpiresAt, &l.ActivatedAt, &l.CompletedAt, &l.HandedOffAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lobbies.Lobby{}, noRows
		}

		return lobbies.Lobby{}, fmt.Errorf("scan lobby: %w", err)
	}

	return l, nil
}

func collect(rows *sql.Rows) ([]lobbies.Lobby, error) {
	defer rows.Close()

	var out []lobbies.Lobby

	for rows.Next() {
		l, err := scanLobby(rows, lobbies.ErrNotFound)
		if err != nil {
			return nil, err
		}

		out = append(out, l)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate lobbies: %w", err)
	}

	return out, nil
}
