package lobbies

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("lobby not found")
	// ErrConflict means the conditional transition matched no row: the
	// lobby is missing or no longer in the required state.
	ErrConflict = errors.New("lobby state conflict")
)

type Status string

const (
	StatusAwaitingOpponent Status = "awaiting_opponent"
	StatusActive           Status = "active"
	StatusCancelled        Status = "cancelled"
	StatusCompleted        Status = "completed"
)

type Lobby struct {
	ID             uuid.UUID
	CreatorID      int64
	OpponentID     *int64
	Stake          int64
	WinCondition   int
	Status         Status
	CreatorHoldID  uuid.UUID
	OpponentHoldID *uuid.UUID
	WinnerID       *int64
	Draw           bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ActivatedAt    *time.Time
	CompletedAt    *time.Time
	HandedOffAt    *time.Time
}

// Participants lists the creator and, once joined, the opponent.
func (l Lobby) Participants() []int64 {
	if l.OpponentID == nil {
		return []int64{l.CreatorID}
	}

	return []int64{l.CreatorID, *l.OpponentID}
}

// Pot is the sum of both stakes.
func (l Lobby) Pot() int64 {
	return l.Stake * int64(len(l.Participants()))
}

type Lobbies interface {
	Insert(ctx context.Context, tx *sql.Tx, l Lobby) error
	Get(ctx context.Context, id uuid.UUID) (Lobby, error)
	Activate(ctx context.Context, tx *sql.Tx, id uuid.UUID, opponentID int64, holdID uuid.UUID, now time.Time) (Lobby, error)
	Cancel(ctx context.Context, tx *sql.Tx, id uuid.UUID, creatorID int64) (Lobby, error)
	Expire(ctx context.Context, tx *sql.Tx, id uuid.UUID, now time.Time) (Lobby, error)
	Complete(ctx context.Context, tx *sql.Tx, id uuid.UUID, winnerID *int64, draw bool, now time.Time) (Lobby, error)
	ListOpen(ctx context.Context, now time.Time, limit int) ([]Lobby, error)
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	PendingHandoff(ctx context.Context, limit int) ([]Lobby, error)
	MarkHandedOff(ctx context.Context, id uuid.UUID, now time.Time) error
}
