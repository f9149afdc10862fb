package conversations

import (
	"context"
	"database/sql"
	"time"
)

type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingStake        State = "awaiting_stake"
	StateAwaitingWinCondition State = "awaiting_win_condition"
)

// Record is the persisted per-user conversation. Stake is the transient
// selection made in awaiting_stake; MessageID is the bot message being
// edited in place.
type Record struct {
	UserID    int64
	State     State
	Stake     *int64
	MessageID *int64
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether a non-idle conversation ran past its deadline.
func (r Record) Expired(now time.Time) bool {
	return r.State != StateIdle && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

type Conversations interface {
	LockOrCreate(ctx context.Context, tx *sql.Tx, userID int64) (Record, error)
	Save(ctx context.Context, tx *sql.Tx, rec Record) error
	ResetExpired(ctx context.Context, now time.Time, limit int) ([]Record, error)
}
