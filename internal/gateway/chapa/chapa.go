// Package chapa is a client for the Chapa hosted checkout API: it opens a
// checkout for a pending deposit and verifies a transaction reference.
package chapa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/fastprodman/gamezone/internal/config"
	"github.com/fastprodman/gamezone/internal/infra/metrics"
	"github.com/fastprodman/gamezone/pkg/retry"
)

var (
	// ErrUnavailable is a transport failure, a 5xx or a 429 that outlived
	// the retry budget. The caller should let the provider retry.
	ErrUnavailable = errors.New("chapa unavailable")

	// ErrRejected is a 4xx answer: the request or reference is invalid.
	ErrRejected = errors.New("chapa rejected request")

	ErrBadSignature = errors.New("chapa signature mismatch")
)

// Ledger amounts are minor units with two decimals.
const minorDigits = 2

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

type Client struct {
	rc          *resty.Client
	currency    string
	callbackURL string
	returnURL   string
	policy      retry.Policy
	metrics     *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.rc = resty.NewWithClient(c).
			SetBaseURL(cl.rc.BaseURL).
			SetAuthToken(cl.rc.Token).
			SetLogger(slogLogger{})
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithRetryDelay overrides the first backoff step.
func WithRetryDelay(d time.Duration) Option {
	return func(cl *Client) { cl.policy.BaseDelay = d }
}

// New returns a client, or config.ErrUnconfigured when no secret key is set.
func New(cfg config.ChapaConfig, opts ...Option) (*Client, error) {
	err := cfg.Check()
	if err != nil {
		return nil, err
	}

	c := &Client{
		rc: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetAuthToken(cfg.SecretKey).
			SetTimeout(cfg.Timeout).
			SetLogger(slogLogger{}),
		currency:    cfg.Currency,
		callbackURL: cfg.CallbackURL,
		returnURL:   cfg.ReturnURL,
		policy:      retry.Policy{Attempts: cfg.MaxAttempts, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second},
		metrics:     metrics.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type InitializeRequest struct {
	TxRef     string
	Amount    int64
	Email     string
	FirstName string
	Title     string
}

type initializeBody struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	TxRef         string `json:"tx_ref"`
	CallbackURL   string `json:"callback_url,omitempty"`
	ReturnURL     string `json:"return_url,omitempty"`
	Customization struct {
		Title string `json:"title,omitempty"`
	} `json:"customization"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize opens a hosted checkout and returns its URL.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrRejected)
	}

	body := initializeBody{
		Amount:      FormatAmount(req.Amount),
		Currency:    c.currency,
		Email:       req.Email,
		FirstName:   req.FirstName,
		TxRef:       req.TxRef,
		CallbackURL: c.callbackURL,
		ReturnURL:   c.returnURL,
	}
	body.Customization.Title = req.Title

	var data struct {
		CheckoutURL string `json:"checkout_url"`
	}

	err := c.call(ctx, "initialize", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).Post("/v1/transaction/initialize")
	}, &data)
	if err != nil {
		return "", err
	}

	if data.CheckoutURL == "" {
		return "", fmt.Errorf("%w: initialize returned no checkout_url", ErrUnavailable)
	}

	return data.CheckoutURL, nil
}

// Verification is the gateway's view of a transaction reference.
type Verification struct {
	TxRef     string
	Status    string
	Amount    int64
	Fee       int64
	Currency  string
	Reference string
}

func (v Verification) Succeeded() bool { return v.Status == StatusSuccess }

type verifyData struct {
	TxRef     string          `json:"tx_ref"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Charge    decimal.Decimal `json:"charge"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
}

// Verify asks the gateway for the settled state of txRef.
func (c *Client) Verify(ctx context.Context, txRef string) (Verification, error) {
	var data verifyData

	err := c.call(ctx, "verify", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("txRef", txRef).Get("/v1/transaction/verify/{txRef}")
	}, &data)
	if err != nil {
		return Verification{}, err
	}

	if data.TxRef != "" && data.TxRef != txRef {
		return Verification{}, fmt.Errorf("%w: verify answered for %q, asked %q", ErrRejected, data.TxRef, txRef)
	}

	return Verification{
		TxRef:     txRef,
		Status:    strings.ToLower(data.Status),
		Amount:    ParseAmount(data.Amount),
		Fee:       ParseAmount(data.Charge),
		Currency:  data.Currency,
		Reference: data.Reference,
	}, nil
}

func (c *Client) call(ctx context.Context, name string, send func(*resty.Request) (*resty.Response, error), out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.GatewayCalls.WithLabelValues(name, metrics.Result(err)).Observe(time.Since(start).Seconds())
	}()

	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.once(ctx, send, out)
	})
	if err != nil {
		return fmt.Errorf("chapa %s: %w", name, err)
	}

	return nil
}

func (c *Client) once(ctx context.Context, send func(*resty.Request) (*resty.Response, error), out any) error {
	var env envelope

	res, err := send(c.rc.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&env))

	code := 0
	if res != nil {
		code = res.StatusCode()
	}

	switch {
	case code == 0:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: http %d", ErrUnavailable, code)
	case code >= 400:
		return retry.Permanent(fmt.Errorf("%w: http %d: %s", ErrRejected, code, messageOf(res.Body())))
	case err != nil:
		return retry.Permanent(fmt.Errorf("%w: decode response: %w", ErrUnavailable, err))
	}

	if !strings.EqualFold(env.Status, StatusSuccess) {
		return retry.Permanent(fmt.Errorf("%w: status %q: %s", ErrRejected, env.Status, messageOf(res.Body())))
	}

	err = json.Unmarshal(env.Data, out)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%w: decode data: %w", ErrUnavailable, err))
	}

	return nil
}

// slogLogger routes resty's own diagnostics into the service log.
type slogLogger struct{}

func (slogLogger) Errorf(format string, v ...any) { slog.Error("chapa http: " + fmt.Sprintf(format, v...)) }

func (slogLogger) Warnf(format string, v ...any) { slog.Warn("chapa http: " + fmt.Sprintf(format, v...)) }

func (slogLogger) Debugf(format string, v ...any) { slog.Debug("chapa http: " + fmt.Sprintf(format, v...)) }

// messageOf extracts the provider's message, which is either a string or
// an object of field errors.
func messageOf(raw []byte) string {
	var env envelope
	if json.Unmarshal(raw, &env) != nil || len(env.Message) == 0 {
		return strings.TrimSpace(string(raw))
	}

	var s string
	if json.Unmarshal(env.Message, &s) == nil {
		return s
	}

	return string(env.Message)
}

// FormatAmount renders minor units as the decimal string the API expects.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -minorDigits).StringFixed(minorDigits)
}

// ParseAmount converts a decimal amount into minor units, rounding half up.
func ParseAmount(d decimal.Decimal) int64 {
	return d.Shift(minorDigits).Round(0).IntPart()
}

// VerifySignature checks an HMAC-SHA256 hex signature of body.
func VerifySignature(secret string, body []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}

	return nil
}

// Sign is the counterpart of VerifySignature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}
