// Package conversation drives the per-user chat flow. Each event runs in
// one transaction holding the user's conversation row lock, so events of
// one user are serialized across processes while different users never
// contend. Replies go out only after commit.
package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/gamezone/internal/config"
	"github.com/fastprodman/gamezone/internal/infra/metrics"
	"github.com/fastprodman/gamezone/internal/infra/pgutils"
	"github.com/fastprodman/gamezone/internal/repos/conversations"
	pgconversations "github.com/fastprodman/gamezone/internal/repos/conversations/postgres"
	"github.com/fastprodman/gamezone/internal/services/lobby"
	"github.com/fastprodman/gamezone/internal/services/wallet"
)

const (
	listLimit    = 10
	historyLimit = 5
)

// Event is one inbound chat action.
type Event struct {
	UserID      int64
	ChatID      int64
	DisplayName string
	Input       Input
	// CallbackID and MessageID are set when a button was pressed.
	CallbackID string
	MessageID  int64
}

type Messenger interface {
	Send(ctx context.Context, chatID int64, msg Message) error
	Edit(ctx context.Context, chatID, messageID int64, msg Message) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Depositor opens a gateway checkout and returns its URL.
type Depositor interface {
	StartDeposit(ctx context.Context, userID, amount int64) (string, error)
}

type Config struct {
	Options Options
	TTL     time.Duration
}

type Engine struct {
	db        *sql.DB
	convs     conversations.Conversations
	wallet    *wallet.Service
	lobbies   *lobby.Registry
	deposits  Depositor
	messenger Messenger
	cfg       Config
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(
	db *sql.DB, w *wallet.Service, reg *lobby.Registry, deposits Depositor, messenger Messenger, cfg Config, opts ...Option,
) *Engine {
	e := &Engine{
		db:        db,
		convs:     pgconversations.New(db),
		wallet:    w,
		lobbies:   reg,
		deposits:  deposits,
		messenger: messenger,
		cfg:       cfg,
		metrics:   metrics.Discard(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// outcome is what the transaction decided, rendered after commit.
type outcome struct {
	decision Decision
	timedOut bool
	created  *lobby.Lobby
	joined   *lobby.Lobby
	canceled *lobby.Lobby
	failure  error
}

// Handle processes one event. Only infrastructure failures are returned;
// business rejections become replies.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	var out outcome

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		out, err = e.apply(ctx, tx, ev)
		return err
	})
	if err != nil {
		e.metrics.Updates.WithLabelValues("failed").Inc()
		return fmt.Errorf("handle %s from user %d: %w", ev.Input.Kind, ev.UserID, err)
	}

	e.metrics.Updates.WithLabelValues("processed").Inc()

	if out.joined != nil {
		e.lobbies.HandOff(ctx, *out.joined)
	}

	e.respond(ctx, ev, out)

	return nil
}

func (e *Engine) apply(ctx context.Context, tx *sql.Tx, ev Event) (outcome, error) {
	err := e.wallet.EnsureUserInTx(ctx, tx, ev.UserID, ev.DisplayName)
	if err != nil {
		return outcome{}, err
	}

	rec, err := e.convs.LockOrCreate(ctx, tx, ev.UserID)
	if err != nil {
		return outcome{}, err
	}

	now := e.now().UTC()

	state, stake := rec.State, rec.Stake

	out := outcome{timedOut: rec.Expired(now)}
	if out.timedOut {
		state, stake = StateIdle, nil
	}

	d := Transition(state, stake, ev.Input, e.cfg.Options)

	switch d.Effect {
	case EffectCreateLobby:
		var l lobby.Lobby

		err = pgutils.WithSavepoint(ctx, tx, "create_lobby", func() error {
			var err error
			l, err = e.lobbies.CreateInTx(ctx, tx, ev.UserID, d.Amount, d.Win)
			return err
		})

		switch {
		case err == nil:
			out.created = &l
		case errors.Is(err, wallet.ErrInsufficientFunds):
			// back to the stake menu so a smaller stake can be picked
			out.failure = err
			d.Next, d.Stake = StateAwaitingStake, nil
		default:
			if _, ok := domainMessage(err); !ok {
				return outcome{}, err
			}

			out.failure = err
		}

	case EffectJoinLobby:
		var l lobby.Lobby

		err = pgutils.WithSavepoint(ctx, tx, "join_lobby", func() error {
			var err error
			l, err = e.lobbies.JoinInTx(ctx, tx, d.LobbyID, ev.UserID)
			return err
		})
		if err != nil {
			if _, ok := domainMessage(err); !ok {
				return outcome{}, err
			}

			out.failure = err
		} else {
			out.joined = &l
		}

	case EffectCancelLobby:
		var l lobby.Lobby

		err = pgutils.WithSavepoint(ctx, tx, "cancel_lobby", func() error {
			var err error
			l, err = e.lobbies.CancelInTx(ctx, tx, d.LobbyID, ev.UserID)
			return err
		})
		if err != nil {
			if _, ok := domainMessage(err); !ok {
				return outcome{}, err
			}

			out.failure = err
		} else {
			out.canceled = &l
		}
	}

	out.decision = d

	rec.State = d.Next
	rec.Stake = d.Stake
	rec.UpdatedAt = now
	rec.ExpiresAt = nil

	if d.Next != StateIdle {
		exp := now.Add(e.cfg.TTL)
		rec.ExpiresAt = &exp
	}

	if ev.MessageID != 0 {
		rec.MessageID = &ev.MessageID
	}

	err = e.convs.Save(ctx, tx, rec)
	if err != nil {
		return outcome{}, err
	}

	return out, nil
}

// respond renders and delivers replies. Delivery failures are logged and
// never undo committed work.
func (e *Engine) respond(ctx context.Context, ev Event, out outcome) {
	var replies []Message

	if out.timedOut {
		replies = append(replies, Message{Text: "Your previous match setup timed out."})
	}

	d := out.decision

	switch {
	case out.failure != nil:
		if errors.Is(out.failure, wallet.ErrInvariantViolation) {
			slog.Error("update rejected by ledger invariant",
				"user_id", ev.UserID,
				"input", ev.Input.Kind,
				"error", out.failure,
			)
		}

		msg, _ := domainMessage(out.failure)
		replies = append(replies, msg)

		if d.Next == StateAwaitingStake {
			replies = append(replies, promptMessage(PromptChooseStake, nil, e.cfg.Options))
		}
	case out.created != nil:
		replies = append(replies, lobbyCreatedMessage(*out.created))
	case out.joined != nil:
		l := *out.joined
		replies = append(replies, Message{
			Text: fmt.Sprintf("You joined the match: stake %d, first to %d wins. Good luck!", l.Stake, l.WinCondition),
		})

		e.send(ctx, l.CreatorID, Message{
			Text: fmt.Sprintf("An opponent joined your lobby (stake %d). The match is starting.", l.Stake),
		})
	case out.canceled != nil:
		replies = append(replies, Message{Text: fmt.Sprintf("Lobby cancelled, %d returned to your balance.", out.canceled.Stake)})
	}

	switch d.Effect {
	case EffectShowBalance:
		acc, err := e.wallet.GetAccount(ctx, ev.UserID)
		if err != nil {
			slog.Error("read balance", "user_id", ev.UserID, "error", err)
			replies = append(replies, Message{Text: "Could not read your balance, try again shortly."})

			break
		}

		recent, err := e.wallet.History(ctx, ev.UserID, historyLimit)
		if err != nil {
			// the balance alone is still worth showing
			slog.Warn("read history", "user_id", ev.UserID, "error", err)
		}

		replies = append(replies, balanceMessage(acc, recent))
	case EffectListLobbies:
		list, err := e.lobbies.ListOpen(ctx, listLimit)
		if err != nil {
			slog.Error("list lobbies", "user_id", ev.UserID, "error", err)
			replies = append(replies, Message{Text: "Could not load lobbies, try again shortly."})
		} else {
			replies = append(replies, lobbyListMessage(list, ev.UserID))
		}
	case EffectStartDeposit:
		replies = append(replies, e.startDeposit(ctx, ev.UserID, d.Amount))
	}

	if d.Prompt != PromptNone {
		replies = append(replies, promptMessage(d.Prompt, d.Stake, e.cfg.Options))
	}

	if ev.CallbackID != "" {
		err := e.messenger.AnswerCallback(ctx, ev.CallbackID, "")
		if err != nil {
			slog.Warn("answer callback", "user_id", ev.UserID, "error", err)
		}
	}

	for i, msg := range replies {
		// the first reply replaces the menu the button came from
		if i == 0 && ev.MessageID != 0 && len(msg.Keyboard) > 0 {
			err := e.messenger.Edit(ctx, ev.ChatID, ev.MessageID, msg)
			if err == nil {
				continue
			}

			slog.Warn("edit message, sending instead", "user_id", ev.UserID, "error", err)
		}

		e.send(ctx, ev.ChatID, msg)
	}
}

func (e *Engine) startDeposit(ctx context.Context, userID, amount int64) Message {
	if e.deposits == nil {
		return Message{Text: "Deposits are not available right now."}
	}

	url, err := e.deposits.StartDeposit(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, config.ErrUnconfigured) {
			return Message{Text: "Deposits are not available right now."}
		}

		slog.Error("start deposit", "user_id", userID, "amount", amount, "error", err)

		return Message{Text: "Could not start the deposit, try again shortly."}
	}

	return Message{
		Text:     fmt.Sprintf("Complete your deposit of %d here:\n%s", amount, url),
		Keyboard: [][]Button{{{Text: "Balance", Data: BalanceToken}}},
	}
}

func (e *Engine) send(ctx context.Context, chatID int64, msg Message) {
	if msg.Text == "" {
		return
	}

	err := e.messenger.Send(ctx, chatID, msg)
	if err != nil {
		slog.Warn("send message", "chat_id", chatID, "error", err)
	}
}

// ExpireIdle times out conversations left mid-setup and tells their users.
// Private chats share the user's id, so the user id is the chat id.
func (e *Engine) ExpireIdle(ctx context.Context, limit int) (int, error) {
	reset, err := e.convs.ResetExpired(ctx, e.now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("expire conversations: %w", err)
	}

	for _, rec := range reset {
		msg := Message{Text: "Your match setup timed out. Send /play to start again."}

		if rec.MessageID != nil {
			err = e.messenger.Edit(ctx, rec.UserID, *rec.MessageID, msg)
			if err == nil {
				continue
			}
		}

		e.send(ctx, rec.UserID, msg)
	}

	return len(reset), nil
}

// NotifyExpired tells creators their lobby expired and the stake is back.
func (e *Engine) NotifyExpired(ctx context.Context, expired []lobby.Lobby) {
	for _, l := range expired {
		e.send(ctx, l.CreatorID, Message{
			Text:     fmt.Sprintf("Nobody joined your lobby in time; %d returned to your balance.", l.Stake),
			Keyboard: [][]Button{{{Text: "New match", Data: PlayToken}}},
		})
	}
}

// NotifySettlement reports a finished match to both players.
func (e *Engine) NotifySettlement(ctx context.Context, st lobby.Settlement) {
	l := st.Lobby

	for _, id := range l.Participants() {
		var text string

		switch {
		case l.Draw:
			text = fmt.Sprintf("The match ended in a draw; your stake of %d is back.", l.Stake)
		case l.WinnerID != nil && *l.WinnerID == id:
			text = fmt.Sprintf("You won! %d credited to your balance.", st.WinnerCredit)
		default:
			text = fmt.Sprintf("You lost this match (stake %d).", l.Stake)
		}

		e.send(ctx, id, Message{Text: text, Keyboard: [][]Button{{{Text: "New match", Data: PlayToken}}}})
	}
}

// NotifyText sends plain text to a user's private chat.
func (e *Engine) NotifyText(ctx context.Context, userID int64, text string) {
	e.send(ctx, userID, Message{Text: text})
}
