package telegram

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-telegram/bot"

	"github.com/fastprodman/gamezone/internal/config"
	"github.com/fastprodman/gamezone/internal/services/conversation"
	"github.com/fastprodman/gamezone/pkg/retry"
)

const testToken = "123:SECRET-TOKEN"

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return clientFor(t, srv.URL)
}

func clientFor(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := New(config.TelegramConfig{BotToken: testToken, APIBaseURL: baseURL},
		WithRetryPolicy(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	return c
}

// form reads the multipart params of a Bot API request.
func form(t *testing.T, r *http.Request) map[string]string {
	t.Helper()

	err := r.ParseMultipartForm(1 << 20)
	if err != nil {
		t.Errorf("parse form: %v", err)
		return nil
	}

	out := make(map[string]string, len(r.MultipartForm.Value))
	for k, v := range r.MultipartForm.Value {
		out[k] = v[0]
	}

	return out
}

func TestNew_Unconfigured(t *testing.T) {
	t.Parallel()

	_, err := New(config.TelegramConfig{APIBaseURL: "http://x"})
	if !errors.Is(err, config.ErrUnconfigured) {
		t.Fatalf("want ErrUnconfigured, got %v", err)
	}
}

func TestSend_WithKeyboard(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot"+testToken+"/sendMessage" {
			t.Errorf("path %q", r.URL.Path)
		}

		got := form(t, r)

		var kb struct {
			InlineKeyboard [][]struct {
				Text         string `json:"text"`
				CallbackData string `json:"callback_data"`
			} `json:"inline_keyboard"`
		}

		err := json.Unmarshal([]byte(got["reply_markup"]), &kb)
		if err != nil {
			t.Errorf("reply_markup %q: %v", got["reply_markup"], err)
		}

		if got["chat_id"] != "42" || got["text"] != "pick" || len(kb.InlineKeyboard) != 2 ||
			kb.InlineKeyboard[0][0].CallbackData != conversation.StakeToken(10) {
			t.Errorf("params %v", got)
		}

		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":42}}}`)
	})

	err := c.Send(t.Context(), 42, conversation.Message{
		Text: "pick",
		Keyboard: [][]conversation.Button{
			{{Text: "10", Data: conversation.StakeToken(10)}},
			{{Text: "Cancel", Data: conversation.CancelToken}},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSend_WithoutKeyboardOmitsMarkup(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := form(t, r); got != nil {
			if _, ok := got["reply_markup"]; ok {
				t.Errorf("reply_markup sent for a plain message: %v", got)
			}
		}

		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":42}}}`)
	})

	err := c.Send(t.Context(), 42, conversation.Message{Text: "plain"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestCall_ErrorHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responses []string
		status    int
		wantCalls int32
		wantErr   bool
		wantIs    error
	}{
		{
			name:      "bad_request_not_retried",
			status:    http.StatusBadRequest,
			responses: []string{`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`},
			wantCalls: 1,
			wantErr:   true,
			wantIs:    bot.ErrorBadRequest,
		},
		{
			name:   "rate_limited_then_ok",
			status: http.StatusTooManyRequests,
			responses: []string{
				`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":0}}`,
				`{"ok":true,"result":true}`,
			},
			wantCalls: 2,
		},
		{
			name:      "server_errors_exhaust",
			status:    http.StatusBadGateway,
			responses: []string{`{"ok":false,"error_code":502,"description":"Bad Gateway"}`},
			wantCalls: 3,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				n := int(calls.Add(1))
				body := tt.responses[min(n, len(tt.responses))-1]

				if n < len(tt.responses) || len(tt.responses) == 1 {
					w.WriteHeader(tt.status)
				}

				_, _ = io.WriteString(w, body)
			})

			err := c.AnswerCallback(t.Context(), "cb", "")

			switch {
			case !tt.wantErr && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.wantErr && err == nil:
				t.Fatalf("want error")
			case tt.wantIs != nil && !errors.Is(err, tt.wantIs):
				t.Fatalf("want %v, got %v", tt.wantIs, err)
			}

			if calls.Load() != tt.wantCalls {
				t.Fatalf("want %d calls, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestCall_TransportErrorHidesToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := clientFor(t, base)

	err := c.Send(t.Context(), 42, conversation.Message{Text: "hi"})
	if err == nil {
		t.Fatalf("want a transport error")
	}

	if strings.Contains(err.Error(), "SECRET-TOKEN") {
		t.Fatalf("token leaked into error: %v", err)
	}
	if !strings.Contains(err.Error(), "sendMessage") {
		t.Fatalf("error should name the method: %v", err)
	}
}

func TestSetWebhook_HonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var (
		calls atomic.Int32
		first atomic.Int64
		gap   atomic.Int64
	)

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			first.Store(time.Now().UnixNano())

			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`)

			return
		}

		gap.Store(time.Now().UnixNano() - first.Load())

		got := form(t, r)
		if got["url"] != "https://bot.test/api/telegram/webhook" || got["secret_token"] != "s" {
			t.Errorf("params %v", got)
		}

		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	})

	err := c.SetWebhook(t.Context(), "https://bot.test/api/telegram/webhook", "s")
	if err != nil {
		t.Fatalf("set webhook: %v", err)
	}

	if got := time.Duration(gap.Load()); got < time.Second {
		t.Fatalf("retried after %s, want at least retry_after", got)
	}
}

func TestEdit_NotModifiedIsSuccess(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`)
	})

	err := c.Edit(t.Context(), 1, 2, conversation.Message{Text: "same"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
}
