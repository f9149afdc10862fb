package conversations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fastprodman/gamezone/internal/repos/conversations"
)

var _ conversations.Conversations = (*conversationsRepo)(nil)

type conversationsRepo struct{ db *sql.DB }

func New(db *sql.DB) *conversationsRepo {
	return &conversationsRepo{db: db}
}

// LockOrCreate upserts the user's row and locks it for the rest of tx.
// Every event for one user serializes here.
func (r *conversationsRepo) LockOrCreate(ctx context.Context, tx *sql.Tx, userID int64) (conversations.Record, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_states (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return conversations.Record{}, fmt.Errorf("upsert conversation: %w", err)
	}

	rec := conversations.Record{UserID: userID}

	err = tx.QueryRowContext(ctx, `
		SELECT state, stake, message_id, updated_at, expires_at
		FROM conversation_states
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&rec.State, &rec.Stake, &rec.MessageID, &rec.UpdatedAt, &rec.ExpiresAt)
	if err != nil {
		return conversations.Record{}, fmt.Errorf("lock conversation: %w", err)
	}

	return rec, nil
}

func (r *conversationsRepo) Save(ctx context.Context, tx *sql.Tx, rec conversations.Record) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE conversation_states
		SET state = $2, stake = $3, message_id = $4, updated_at = $5, expires_at = $6
		WHERE user_id = $1
	`, rec.UserID, rec.State, rec.Stake, rec.MessageID, rec.UpdatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	return nil
}

// ResetExpired moves timed-out conversations back to idle and returns
// them as they were before the reset. Rows locked by a live event are
// skipped and picked up by a later sweep.
func (r *conversationsRepo) ResetExpired(ctx context.Context, now time.Time, limit int) ([]conversations.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH due AS (
			SELECT user_id, state, stake, message_id, expires_at
			FROM conversation_states
			WHERE state <> 'idle' AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE conversation_states c
		SET state = 'idle', stake = NULL, expires_at = NULL, updated_at = $1
		FROM due
		WHERE c.user_id = due.user_id
		RETURNING due.user_id, due.state, due.stake, due.message_id, due.expires_at
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("reset expired conversations: %w", err)
	}
	defer rows.Close()

	var out []conversations.Record

	for rows.Next() {
		rec := conversations.Record{UpdatedAt: now}

		err = rows.Scan(&rec.UserID, &rec.State, &rec.Stake, &rec.MessageID, &rec.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}

		out = append(out, rec)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return out, nil
}
