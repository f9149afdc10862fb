package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fastprodman/gamezone/internal/repos/lobbies"
)

var (
	ErrLobbyNotFound    = errors.New("lobby not found")
	ErrLobbyNotJoinable = errors.New("lobby is not joinable")
	ErrNotCreator       = errors.New("only the creator can cancel a lobby")
	ErrNotCancellable   = errors.New("lobby can no longer be cancelled")
	ErrLobbyNotActive   = errors.New("lobby is not active")
	// ErrAlreadySettled is benign: the outcome was applied before.
	ErrAlreadySettled = errors.New("lobby already settled")
	ErrInvalidOutcome = errors.New("outcome needs exactly one of winner or draw")
	ErrInvalidLobby   = errors.New("stake and win condition must be positive")
)

type (
	Lobby  = lobbies.Lobby
	Status = lobbies.Status
)

const (
	StatusAwaitingOpponent = lobbies.StatusAwaitingOpponent
	StatusActive           = lobbies.StatusActive
	StatusCancelled        = lobbies.StatusCancelled
	StatusCompleted        = lobbies.StatusCompleted
)

// Outcome is reported by the game collaborator once a match ends.
type Outcome struct {
	LobbyID  uuid.UUID
	WinnerID *int64
	Draw     bool
}

func (o Outcome) Validate() error {
	if o.Draw == (o.WinnerID != nil) {
		return ErrInvalidOutcome
	}

	return nil
}

// Activation is handed to the game collaborator when a lobby fills.
type Activation struct {
	LobbyID      uuid.UUID `json:"lobby_id"`
	CreatorID    int64     `json:"creator_id"`
	OpponentID   int64     `json:"opponent_id"`
	Stake        int64     `json:"stake"`
	WinCondition int       `json:"win_condition"`
	ActivatedAt  time.Time `json:"activated_at"`
}

func activationOf(l Lobby) Activation {
	a := Activation{
		LobbyID:      l.ID,
		CreatorID:    l.CreatorID,
		Stake:        l.Stake,
		WinCondition: l.WinCondition,
	}

	if l.OpponentID != nil {
		a.OpponentID = *l.OpponentID
	}

	if l.ActivatedAt != nil {
		a.ActivatedAt = *l.ActivatedAt
	}

	return a
}

// Publisher delivers activations to the game collaborator.
type Publisher interface {
	PublishActivation(ctx context.Context, a Activation) error
}

// Settlement is the result of applying an outcome.
type Settlement struct {
	Lobby        Lobby
	WinnerCredit int64
	Commission   int64
}
