package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fastprodman/gamezone/internal/config"
	"github.com/fastprodman/gamezone/internal/gateway/chapa"
	"github.com/fastprodman/gamezone/internal/services/conversation"
	"github.com/fastprodman/gamezone/internal/services/payments"
	"github.com/fastprodman/gamezone/internal/transport/telegram"
)

const (
	maxBodyBytes = 1 << 20

	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

type UpdateHandler interface {
	Handle(ctx context.Context, ev conversation.Event) error
}

type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb payments.Callback) error
}

type Deduper interface {
	Claim(ctx context.Context, id string) bool
	Release(ctx context.Context, id string)
}

// HandlerProvider exposes the webhook endpoints.
type HandlerProvider struct {
	updates        UpdateHandler
	dedupe         Deduper
	callbacks      CallbackHandler
	telegramSecret string
	chapaSecret    string
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStatus(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	//nolint:errcheck
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return nil, false
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return nil, false
	}

	return body, true
}

// --- Handlers ---

// TelegramWebhookHandler handles POST /api/telegram/webhook. A non-2xx
// answer makes Telegram redeliver the update.
func (h *HandlerProvider) TelegramWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.telegramSecret != "" && r.Header.Get(telegramSecretHeader) != h.telegramSecret {
		writeError(w, http.StatusUnauthorized, "bad secret token")
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	upd, err := telegram.ParseUpdate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed update")
		return
	}

	if upd.Event == nil {
		writeStatus(w, "ignored")
		return
	}

	id := strconv.FormatInt(upd.ID, 10)

	if !h.dedupe.Claim(r.Context(), id) {
		writeStatus(w, "duplicate")
		return
	}

	err = h.updates.Handle(r.Context(), *upd.Event)
	if err != nil {
		h.dedupe.Release(context.WithoutCancel(r.Context()), id)

		slog.Error("handle telegram update", "update_id", upd.ID, "user_id", upd.Event.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	writeStatus(w, "ok")
}

type chapaCallbackBody struct {
	TxRef  string `json:"tx_ref"`
	TrxRef string `json:"trx_ref"`
	Status string `json:"status"`
}

// ChapaWebhookHandler handles POST /api/chapa/callback.
func (h *HandlerProvider) ChapaWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	if h.chapaSecret != "" {
		sig := r.Header.Get("Chapa-Signature")
		if sig == "" {
			sig = r.Header.Get("X-Chapa-Signature")
		}

		if chapa.VerifySignature(h.chapaSecret, body, sig) != nil {
			writeError(w, http.StatusUnauthorized, "bad signature")
			return
		}
	}

	var req chapaCallbackBody

	err := json.Unmarshal(body, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ref := req.TxRef
	if ref == "" {
		ref = req.TrxRef
	}

	h.reconcile(w, r, payments.Callback{TxRef: ref, Status: req.Status})
}

// ChapaRedirectHandler handles GET /api/chapa/callback?trx_ref=..&status=..
func (h *HandlerProvider) ChapaRedirectHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ref := q.Get("trx_ref")
	if ref == "" {
		ref = q.Get("tx_ref")
	}

	h.reconcile(w, r, payments.Callback{TxRef: ref, Status: q.Get("status")})
}

func (h *HandlerProvider) reconcile(w http.ResponseWriter, r *http.Request, cb payments.Callback) {
	if cb.TxRef == "" {
		writeError(w, http.StatusBadRequest, "tx_ref required")
		return
	}

	err := h.callbacks.HandleCallback(r.Context(), cb)

	switch {
	case err == nil:
		writeStatus(w, "ok")
	case errors.Is(err, payments.ErrGatewayVerificationFailed):
		writeStatus(w, "failed")
	case errors.Is(err, payments.ErrTransientDelivery), errors.Is(err, config.ErrUnconfigured):
		slog.Warn("payment callback deferred", "tx_ref", cb.TxRef, "error", err)
		writeError(w, http.StatusServiceUnavailable, "try again later")
	default:
		slog.Error("payment callback", "tx_ref", cb.TxRef, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
