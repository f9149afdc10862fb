// Package lobby is the lobby registry and matchmaker. Every status change
// is a conditional UPDATE on the lobby row, so exactly one concurrent
// caller wins each transition; funds move through the wallet in the same
// transaction.
package lobby

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fastprodman/gamezone/internal/infra/metrics"
	"github.com/fastprodman/gamezone/internal/infra/pgutils"
	"github.com/fastprodman/gamezone/internal/repos/lobbies"
	pglobbies "github.com/fastprodman/gamezone/internal/repos/lobbies/postgres"
	"github.com/fastprodman/gamezone/internal/services/wallet"
)

type Config struct {
	LobbyTTL       time.Duration
	CommissionRate decimal.Decimal
}

type Registry struct {
	db        *sql.DB
	lobbies   lobbies.Lobbies
	wallet    *wallet.Service
	publisher Publisher
	cfg       Config
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Registry)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New builds a registry. A nil publisher leaves activations for the
// worker's relay.
func New(db *sql.DB, w *wallet.Service, pub Publisher, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		db:        db,
		lobbies:   pglobbies.New(db),
		wallet:    w,
		publisher: pub,
		cfg:       cfg,
		metrics:   metrics.Discard(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Registry) CreateLobby(ctx context.Context, creatorID, stake int64, winCondition int) (Lobby, error) {
	var l Lobby

	err := pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		l, err = r.CreateInTx(ctx, tx, creatorID, stake, winCondition)
		return err
	})
	if err != nil {
		return Lobby{}, err
	}

	return l, nil
}

// CreateInTx holds the creator's stake and opens the lobby. Insufficient
// funds leave nothing behind once tx rolls back.
func (r *Registry) CreateInTx(ctx context.Context, tx *sql.Tx, creatorID, stake int64, winCondition int) (Lobby, error) {
	if stake <= 0 || winCondition <= 0 {
		return Lobby{}, ErrInvalidLobby
	}

	now := r.now().UTC()
	l := Lobby{
		ID:            uuid.New(),
		CreatorID:     creatorID,
		Stake:         stake,
		WinCondition:  winCondition,
		Status:        StatusAwaitingOpponent,
		CreatorHoldID: uuid.New(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(r.cfg.LobbyTTL),
	}

	err := r.wallet.HoldInTx(ctx, tx, creatorID, stake, l.ID, l.CreatorHoldID)
	if err != nil {
		return Lobby{}, fmt.Errorf("hold creator stake: %w", err)
	}

	err = r.lobbies.Insert(ctx, tx, l)
	if err != nil {
		return Lobby{}, fmt.Errorf("create lobby: %w", err)
	}

	r.metrics.LobbyTransitions.WithLabelValues(string(StatusAwaitingOpponent)).Inc()

	return l, nil
}

// JoinLobby seats userID as the opponent and holds their stake. The
// status flip and the hold commit together or not at all.
func (r *Registry) JoinLobby(ctx context.Context, lobbyID uuid.UUID, userID int64) (Lobby, error) {
	var l Lobby

	err := pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		l, err = r.JoinInTx(ctx, tx, lobbyID, userID)
		return err
	})
	if err != nil {
		return Lobby{}, err
	}

	r.HandOff(ctx, l)

	return l, nil
}

// JoinInTx is JoinLobby for callers that own the transaction. They must
// call HandOff after commit.
func (r *Registry) JoinInTx(ctx context.Context, tx *sql.Tx, lobbyID uuid.UUID, userID int64) (Lobby, error) {
	holdID := uuid.New()

	l, err := r.lobbies.Activate(ctx, tx, lobbyID, userID, holdID, r.now().UTC())
	if err != nil {
		if errors.Is(err, lobbies.ErrConflict) {
			return Lobby{}, fmt.Errorf("join %s: %w", lobbyID, ErrLobbyNotJoinable)
		}

		return Lobby{}, fmt.Errorf("activate lobby: %w", err)
	}

	err = r.wallet.HoldInTx(ctx, tx, userID, l.Stake, l.ID, holdID)
	if err != nil {
		return Lobby{}, fmt.Errorf("hold opponent stake: %w", err)
	}

	r.metrics.LobbyTransitions.WithLabelValues(string(StatusActive)).Inc()

	return l, nil
}

// CancelLobby lets the creator withdraw an unjoined lobby.
func (r *Registry) CancelLobby(ctx context.Context, lobbyID uuid.UUID, requesterID int64) (Lobby, error) {
	var l Lobby

	err := pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		l, err = r.CancelInTx(ctx, tx, lobbyID, requesterID)
		return err
	})
	if err != nil {
		return Lobby{}, err
	}

	return l, nil
}

func (r *Registry) CancelInTx(ctx context.Context, tx *sql.Tx, lobbyID uuid.UUID, requesterID int64) (Lobby, error) {
	l, err := r.lobbies.Cancel(ctx, tx, lobbyID, requesterID)
	if err != nil {
		if errors.Is(err, lobbies.ErrConflict) {
			return Lobby{}, r.whyNotCancelled(ctx, lobbyID, requesterID)
		}

		return Lobby{}, fmt.Errorf("cancel lobby: %w", err)
	}

	_, err = r.wallet.ReleaseInTx(ctx, tx, l.CreatorHoldID)
	if err != nil {
		return Lobby{}, fmt.Errorf("release creator stake: %w", err)
	}

	r.metrics.LobbyTransitions.WithLabelValues(string(StatusCancelled)).Inc()

	return l, nil
}

func (r *Registry) whyNotCancelled(ctx context.Context, lobbyID uuid.UUID, requesterID int64) error {
	l, err := r.lobbies.Get(ctx, lobbyID)
	switch {
	case errors.Is(err, lobbies.ErrNotFound):
		return ErrLobbyNotFound
	case err != nil:
		return fmt.Errorf("inspect lobby: %w", err)
	case l.CreatorID != requesterID:
		return ErrNotCreator
	default:
		return fmt.Errorf("lobby is %s: %w", l.Status, ErrNotCancellable)
	}
}

// ExpireLobby cancels a lobby whose deadline passed with no opponent.
// It reports false when someone else already moved the lobby on.
func (r *Registry) ExpireLobby(ctx context.Context, lobbyID uuid.UUID) (Lobby, bool, error) {
	var (
		l       Lobby
		expired bool
	)

	err := pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error

		l, err = r.lobbies.Expire(ctx, tx, lobbyID, r.now().UTC())
		if errors.Is(err, lobbies.ErrConflict) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("expire lobby: %w", err)
		}

		_, err = r.wallet.ReleaseInTx(ctx, tx, l.CreatorHoldID)
		if err != nil {
			return fmt.Errorf("release creator stake: %w", err)
		}

		expired = true

		return nil
	})
	if err != nil {
		return Lobby{}, false, err
	}

	if expired {
		r.metrics.LobbyTransitions.WithLabelValues("expired").Inc()
	}

	return l, expired, nil
}

// ExpireDue expires up to limit overdue lobbies and returns the ones this
// call expired. Failures on single lobbies do not stop the sweep.
func (r *Registry) ExpireDue(ctx context.Context, limit int) ([]Lobby, error) {
	ids, err := r.lobbies.DueForExpiry(ctx, r.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find due lobbies: %w", err)
	}

	var (
		out  []Lobby
		errs []error
	)

	for _, id := range ids {
		l, expired, err := r.ExpireLobby(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("lobby %s: %w", id, err))
			continue
		}

		if expired {
			out = append(out, l)
		}
	}

	return out, errors.Join(errs...)
}

// Complete applies a game outcome and pays out in one transaction.
// Redelivered outcomes return ErrAlreadySettled.
func (r *Registry) Complete(ctx context.Context, o Outcome) (Settlement, error) {
	err := o.Validate()
	if err != nil {
		return Settlement{}, err
	}

	var st Settlement

	err = pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		l, err := r.lobbies.Complete(ctx, tx, o.LobbyID, o.WinnerID, o.Draw, r.now().UTC())
		if err != nil {
			if errors.Is(err, lobbies.ErrConflict) {
				return r.whyNotCompleted(ctx, o.LobbyID)
			}

			return fmt.Errorf("complete lobby: %w", err)
		}

		holds := map[int64]uuid.UUID{l.CreatorID: l.CreatorHoldID}
		if l.OpponentID != nil && l.OpponentHoldID != nil {
			holds[*l.OpponentID] = *l.OpponentHoldID
		}

		res, err := r.wallet.PayoutInTx(ctx, tx, wallet.PayoutRequest{
			LobbyID:        l.ID,
			Holds:          holds,
			WinnerID:       o.WinnerID,
			Draw:           o.Draw,
			Pot:            l.Pot(),
			CommissionRate: r.cfg.CommissionRate,
		})
		if err != nil {
			return fmt.Errorf("payout lobby %s: %w", l.ID, err)
		}

		st = Settlement{Lobby: l, WinnerCredit: res.WinnerCredit, Commission: res.Commission}

		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	r.metrics.LobbyTransitions.WithLabelValues(string(StatusCompleted)).Inc()

	return st, nil
}

func (r *Registry) whyNotCompleted(ctx context.Context, lobbyID uuid.UUID) error {
	l, err := r.lobbies.Get(ctx, lobbyID)
	switch {
	case errors.Is(err, lobbies.ErrNotFound):
		return ErrLobbyNotFound
	case err != nil:
		return fmt.Errorf("inspect lobby: %w", err)
	case l.Status == StatusCompleted:
		return ErrAlreadySettled
	default:
		return fmt.Errorf("lobby is %s: %w", l.Status, ErrLobbyNotActive)
	}
}

func (r *Registry) Get(ctx context.Context, lobbyID uuid.UUID) (Lobby, error) {
	l, err := r.lobbies.Get(ctx, lobbyID)
	if err != nil {
		if errors.Is(err, lobbies.ErrNotFound) {
			return Lobby{}, ErrLobbyNotFound
		}

		return Lobby{}, fmt.Errorf("get lobby: %w", err)
	}

	return l, nil
}

func (r *Registry) ListOpen(ctx context.Context, limit int) ([]Lobby, error) {
	list, err := r.lobbies.ListOpen(ctx, r.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list open lobbies: %w", err)
	}

	return list, nil
}

// RelayHandoffs publishes activated lobbies whose handoff never made it
// out, e.g. because the process died between commit and publish.
func (r *Registry) RelayHandoffs(ctx context.Context, limit int) (int, error) {
	if r.publisher == nil {
		return 0, nil
	}

	pending, err := r.lobbies.PendingHandoff(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("pending handoffs: %w", err)
	}

	var (
		sent int
		errs []error
	)

	for _, l := range pending {
		err = r.publish(ctx, l)
		if err != nil {
			errs = append(errs, fmt.Errorf("lobby %s: %w", l.ID, err))
			continue
		}

		sent++
	}

	return sent, errors.Join(errs...)
}

// HandOff publishes a freshly activated lobby. It is best effort; the
// relay retries whatever fails here.
func (r *Registry) HandOff(ctx context.Context, l Lobby) {
	if r.publisher == nil {
		return
	}

	err := r.publish(ctx, l)
	if err != nil {
		slog.Warn("lobby handoff deferred to relay", "lobby_id", l.ID, "error", err)
	}
}

func (r *Registry) publish(ctx context.Context, l Lobby) error {
	err := r.publisher.PublishActivation(ctx, activationOf(l))

	r.metrics.Handoffs.WithLabelValues(metrics.Result(err)).Inc()

	if err != nil {
		return fmt.Errorf("publish activation: %w", err)
	}

	err = r.lobbies.MarkHandedOff(ctx, l.ID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("stamp handoff: %w", err)
	}

	return nil
}
