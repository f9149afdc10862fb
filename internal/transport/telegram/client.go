// Package telegram adapts the Bot API to the conversation engine: it
// parses webhook updates into events and delivers replies.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/fastprodman/gamezone/internal/config"
	"github.com/fastprodman/gamezone/internal/services/conversation"
	"github.com/fastprodman/gamezone/pkg/retry"
)

const redacted = "<redacted>"

type Client struct {
	bot    *bot.Bot
	token  string
	policy retry.Policy
}

type options struct {
	httpc  *http.Client
	policy retry.Policy
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpc = c }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) { o.policy = p }
}

// New returns a client, or config.ErrUnconfigured without a bot token.
// No request is made until the first call.
func New(cfg config.TelegramConfig, opts ...Option) (*Client, error) {
	err := cfg.Check()
	if err != nil {
		return nil, err
	}

	o := options{
		httpc:  &http.Client{Timeout: 10 * time.Second},
		policy: retry.Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
	}

	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{token: cfg.BotToken, policy: o.policy}

	b, err := bot.New(cfg.BotToken,
		bot.WithSkipGetMe(),
		bot.WithServerURL(strings.TrimRight(cfg.APIBaseURL, "/")),
		bot.WithHTTPClient(o.httpc.Timeout, o.httpc),
		bot.WithErrorsHandler(func(err error) {
			slog.Warn("telegram client", "error", c.redact(err))
		}),
	)
	if err != nil {
		return nil, c.redact(err)
	}

	c.bot = b

	return c, nil
}

// do runs one Bot API call under the retry policy: 429 waits for
// retry_after, client errors stop at once, the rest is retried.
func (c *Client) do(ctx context.Context, method string, call func(ctx context.Context) error) error {
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		err := call(ctx)

		var tooMany *bot.TooManyRequestsError

		switch {
		case err == nil:
			return nil
		case errors.As(err, &tooMany):
			return retry.After(time.Duration(tooMany.RetryAfter)*time.Second, err)
		case errors.Is(err, bot.ErrorBadRequest),
			errors.Is(err, bot.ErrorForbidden),
			errors.Is(err, bot.ErrorUnauthorized),
			errors.Is(err, bot.ErrorNotFound),
			errors.Is(err, bot.ErrorConflict):
			return retry.Permanent(err)
		default:
			return err
		}
	})
	if err != nil {
		return c.redact(&callError{method: method, err: err})
	}

	return nil
}

type callError struct {
	method string
	err    error
}

func (e *callError) Error() string { return e.method + ": " + e.err.Error() }

func (e *callError) Unwrap() error { return e.err }

// redactedError hides the token in the message and keeps the chain for
// errors.Is and errors.As.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

// redact strips the bot token from err. Request URLs carry the token in
// their path, so every transport error would otherwise leak it into logs.
func (c *Client) redact(err error) error {
	if err == nil || c.token == "" {
		return err
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = strings.ReplaceAll(ue.URL, c.token, redacted)
	}

	msg := err.Error()
	if !strings.Contains(msg, c.token) {
		return err
	}

	return &redactedError{msg: strings.ReplaceAll(msg, c.token, redacted), err: err}
}

// keyboardOf returns a nil interface for no buttons: a typed nil would be
// sent as reply_markup=null.
func keyboardOf(rows [][]conversation.Button) models.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}

	kb := &models.InlineKeyboardMarkup{InlineKeyboard: make([][]models.InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		out := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			out = append(out, models.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}

		kb.InlineKeyboard = append(kb.InlineKeyboard, out)
	}

	return kb
}

// Send implements conversation.Messenger.
func (c *Client) Send(ctx context.Context, chatID int64, msg conversation.Message) error {
	return c.do(ctx, "sendMessage", func(ctx context.Context) error {
		_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        msg.Text,
			ReplyMarkup: keyboardOf(msg.Keyboard),
		})

		return err
	})
}

// Edit replaces a message in place. Re-sending identical content is not
// an error.
func (c *Client) Edit(ctx context.Context, chatID, messageID int64, msg conversation.Message) error {
	err := c.do(ctx, "editMessageText", func(ctx context.Context) error {
		_, err := c.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      chatID,
			MessageID:   int(messageID),
			Text:        msg.Text,
			ReplyMarkup: keyboardOf(msg.Keyboard),
		})

		return err
	})

	if errors.Is(err, bot.ErrorBadRequest) && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}

	return err
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.do(ctx, "answerCallbackQuery", func(ctx context.Context) error {
		_, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID, Text: text})
		return err
	})
}

// SetWebhook registers url for message and callback_query updates.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	return c.do(ctx, "setWebhook", func(ctx context.Context) error {
		_, err := c.bot.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:            url,
			SecretToken:    secret,
			AllowedUpdates: []string{models.AllowedUpdateMessage, models.AllowedUpdateCallbackQuery},
		})

		return err
	})
}

// RegisterWebhook is SetWebhook for startup: a failure is logged, not
// returned, so the service still comes up.
func (c *Client) RegisterWebhook(ctx context.Context, url, secret string) {
	if url == "" {
		slog.Warn("TELEGRAM_WEBHOOK_URL is empty, webhook not registered")
		return
	}

	err := c.SetWebhook(ctx, url, secret)
	if err != nil {
		slog.Warn("register telegram webhook", "error", err)
		return
	}

	slog.Info("telegram webhook registered", "url", url)
}
