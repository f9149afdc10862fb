package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastprodman/gamezone/internal/infra/metrics"
)

// Deps are the collaborators behind the routes. A nil Updates or
// Callbacks keeps its routes answering 503.
type Deps struct {
	Updates            UpdateHandler
	Dedupe             Deduper
	Callbacks          CallbackHandler
	TelegramSecret     string
	ChapaWebhookSecret string
	Ping               func(ctx context.Context) error
	Metrics            *metrics.Metrics
	Gatherer           prometheus.Gatherer
}

// NewRouter constructs the chi router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = metrics.Discard()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Dedupe == nil {
		d.Dedupe = noDedupe{}
	}

	h := &HandlerProvider{
		updates:        d.Updates,
		dedupe:         d.Dedupe,
		callbacks:      d.Callbacks,
		telegramSecret: d.TelegramSecret,
		chapaSecret:    d.ChapaWebhookSecret,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe(d.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()

			if err := d.Ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}

		writeStatus(w, "ok")
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/telegram", func(r chi.Router) {
		r.Use(requireConfigured(d.Updates != nil))
		r.Post("/webhook", h.TelegramWebhookHandler)
	})

	r.Route("/api/chapa", func(r chi.Router) {
		r.Use(requireConfigured(d.Callbacks != nil))
		r.Post("/callback", h.ChapaWebhookHandler)
		r.Get("/callback", h.ChapaRedirectHandler)
	})

	return r
}

// requireConfigured fails closed when the integration has no credentials.
func requireConfigured(ok bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ok {
				writeError(w, http.StatusServiceUnavailable, "integration not configured")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func observe(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
		})
	}
}

type noDedupe struct{}

func (noDedupe) Claim(context.Context, string) bool { return true }

func (noDedupe) Release(context.Context, string) {}
