package chapa

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fastprodman/gamezone/internal/config"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(config.ChapaConfig{
		SecretKey:   "CHASECK_TEST",
		BaseURL:     srv.URL,
		CallbackURL: "https://bot.test/api/chapa/callback",
		Currency:    "ETB",
		Timeout:     time.Second,
		MaxAttempts: 3,
	}, WithRetryDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	return c
}

func TestNew_Unconfigured(t *testing.T) {
	t.Parallel()

	_, err := New(config.ChapaConfig{BaseURL: "http://x"})
	if !errors.Is(err, config.ErrUnconfigured) {
		t.Fatalf("want ErrUnconfigured, got %v", err)
	}
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/transaction/initialize" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer CHASECK_TEST" {
			t.Errorf("authorization header %q", got)
		}

		var body initializeBody

		err := json.NewDecoder(r.Body).Decode(&body)
		if err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Amount != "12.50" || body.TxRef != "ref-1" || body.Currency != "ETB" {
			t.Errorf("body %+v", body)
		}
		if body.CallbackURL != "https://bot.test/api/chapa/callback" {
			t.Errorf("callback url %q", body.CallbackURL)
		}

		_, _ = io.WriteString(w, `{"message":"Hosted Link","status":"success","data":{"checkout_url":"https://checkout.chapa.co/x"}}`)
	})

	url, err := c.Initialize(t.Context(), InitializeRequest{TxRef: "ref-1", Amount: 1250})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if url != "https://checkout.chapa.co/x" {
		t.Fatalf("checkout url %q", url)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		want     Verification
		wantErr  error
		maxCalls int32
	}{
		{
			name:   "success_numeric_amount",
			status: http.StatusOK,
			body: `{"message":"Payment details","status":"success","data":{"tx_ref":"ref-1","status":"success",` +
				`"amount":100,"charge":3.5,"currency":"ETB","reference":"APabc"}}`,
			want: Verification{TxRef: "ref-1", Status: StatusSuccess, Amount: 10000, Fee: 350, Currency: "ETB", Reference: "APabc"},
		},
		{
			name:   "string_amount_null_charge",
			status: http.StatusOK,
			body:   `{"status":"success","data":{"tx_ref":"ref-1","status":"failed","amount":"20.00","charge":null}}`,
			want:   Verification{TxRef: "ref-1", Status: StatusFailed, Amount: 2000},
		},
		{
			name:    "unknown_reference",
			status:  http.StatusNotFound,
			body:    `{"message":"Invalid transaction or Transaction not found","status":"failed","data":null}`,
			wantErr: ErrRejected,
		},
		{
			name:     "server_error_retried",
			status:   http.StatusBadGateway,
			body:     `oops`,
			wantErr:  ErrUnavailable,
			maxCalls: 3,
		},
		{
			name:    "other_reference",
			status:  http.StatusOK,
			body:    `{"status":"success","data":{"tx_ref":"ref-2","status":"success","amount":1}}`,
			wantErr: ErrRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)

				if r.URL.Path != "/v1/transaction/verify/ref-1" {
					t.Errorf("path %q", r.URL.Path)
				}

				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			got, err := c.Verify(t.Context(), "ref-1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("verify: %v", err)
				}
				if got != tt.want {
					t.Fatalf("want %+v, got %+v", tt.want, got)
				}
			}

			want := tt.maxCalls
			if want == 0 {
				want = 1
			}
			if calls.Load() != want {
				t.Fatalf("want %d calls, got %d", want, calls.Load())
			}
		})
	}
}

func TestVerify_RecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = io.WriteString(w, `{"status":"success","data":{"tx_ref":"ref-1","status":"success","amount":"1.00"}}`)
	})

	got, err := c.Verify(t.Context(), "ref-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Succeeded() || got.Amount != 100 {
		t.Fatalf("verification %+v", got)
	}
}

func TestAmounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minor int64
		text  string
	}{
		{minor: 1, text: "0.01"},
		{minor: 1250, text: "12.50"},
		{minor: 100000, text: "1000.00"},
	}

	for _, tt := range tests {
		if got := FormatAmount(tt.minor); got != tt.text {
			t.Errorf("format %d: got %s want %s", tt.minor, got, tt.text)
		}
		if got := ParseAmount(decimal.RequireFromString(tt.text)); got != tt.minor {
			t.Errorf("parse %s: got %d want %d", tt.text, got, tt.minor)
		}
	}

	if got := ParseAmount(decimal.RequireFromString("0.005")); got != 1 {
		t.Errorf("half up rounding: got %d", got)
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"tx_ref":"ref-1","status":"success"}`)
	sig := Sign("s3cret", body)

	if err := VerifySignature("s3cret", body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	for _, bad := range []string{"", "zz", Sign("other", body)} {
		if err := VerifySignature("s3cret", body, bad); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("signature %q accepted", bad)
		}
	}
}

func TestVerify_EscapesReference(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); got != "/v1/transaction/verify/dep%2F7" {
			t.Errorf("path %q", got)
		}

		_, _ = io.WriteString(w, `{"status":"success","data":{"tx_ref":"dep/7","status":"pending","amount":"5"}}`)
	})

	got, err := c.Verify(t.Context(), "dep/7")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Status != StatusPending || got.Amount != 500 {
		t.Fatalf("verification %+v", got)
	}
}
