package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/fastprodman/gamezone/internal/services/lobby"
	"github.com/fastprodman/gamezone/internal/services/wallet"
)

// OutcomeMessage is the game collaborator's report on a finished match.
type OutcomeMessage struct {
	LobbyID  uuid.UUID `json:"lobby_id"`
	WinnerID *int64    `json:"winner_id,omitempty"`
	Draw     bool      `json:"draw"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Settler interface {
	Complete(ctx context.Context, o lobby.Outcome) (lobby.Settlement, error)
}

// SettlementFunc is told about every outcome applied for the first time.
type SettlementFunc func(ctx context.Context, st lobby.Settlement)

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// OutcomeConsumer applies outcomes and commits offsets only after the
// settlement transaction has committed, so a crash redelivers and the
// lobby status check makes the redelivery a no-op.
type OutcomeConsumer struct {
	r         messageReader
	settler   Settler
	onSettled SettlementFunc
	retry     time.Duration
}

func NewOutcomeConsumer(r messageReader, s Settler, onSettled SettlementFunc) *OutcomeConsumer {
	return &OutcomeConsumer{r: r, settler: s, onSettled: onSettled, retry: time.Second}
}

// Run consumes until ctx is done.
func (c *OutcomeConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			slog.Warn("fetch outcome", "error", err)

			if !sleep(ctx, c.retry) {
				return nil
			}

			continue
		}

		// infrastructure failures keep the offset and retry the message
		for {
			err = c.handle(ctx, msg)
			if err == nil {
				break
			}

			slog.Error("apply outcome, retrying", "offset", msg.Offset, "partition", msg.Partition, "error", err)

			if !sleep(ctx, c.retry) {
				return nil
			}
		}

		err = c.r.CommitMessages(ctx, msg)
		if err != nil && ctx.Err() == nil {
			slog.Warn("commit outcome offset", "offset", msg.Offset, "error", err)
		}
	}
}

// handle returns an error only when the message should be retried.
func (c *OutcomeConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var m OutcomeMessage

	err := json.Unmarshal(msg.Value, &m)
	if err != nil || m.LobbyID == uuid.Nil {
		slog.Error("dropping malformed outcome", "offset", msg.Offset, "key", string(msg.Key), "error", err)
		return nil
	}

	log := slog.With("lobby_id", m.LobbyID)

	st, err := c.settler.Complete(ctx, lobby.Outcome{LobbyID: m.LobbyID, WinnerID: m.WinnerID, Draw: m.Draw})

	switch {
	case err == nil:
		log.Info("lobby settled", "winner_credit", st.WinnerCredit, "commission", st.Commission, "draw", m.Draw)

		if c.onSettled != nil {
			c.onSettled(ctx, st)
		}

		return nil
	case errors.Is(err, lobby.ErrAlreadySettled):
		log.Info("outcome redelivered, already settled")
		return nil
	case errors.Is(err, lobby.ErrInvalidOutcome),
		errors.Is(err, lobby.ErrLobbyNotFound),
		errors.Is(err, lobby.ErrLobbyNotActive),
		errors.Is(err, wallet.ErrInvalidOutcome):
		log.Error("dropping unusable outcome", "error", err)
		return nil
	default:
		return fmt.Errorf("complete lobby %s: %w", m.LobbyID, err)
	}
}

func (c *OutcomeConsumer) Close() error {
	return c.r.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
