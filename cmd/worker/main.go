// Command worker runs the background loops: lobby expiry, conversation
// timeouts, the activation handoff relay and the game outcome consumer.
// Every loop is safe to run in several replicas at once.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fastprodman/gamezone/internal/events"
	"github.com/fastprodman/gamezone/internal/infra/logging"
	"github.com/fastprodman/gamezone/internal/infra/metrics"
	"github.com/fastprodman/gamezone/internal/infra/pgutils"
	"github.com/fastprodman/gamezone/internal/services/conversation"
	"github.com/fastprodman/gamezone/internal/services/lobby"
	"github.com/fastprodman/gamezone/internal/services/wallet"
	"github.com/fastprodman/gamezone/internal/transport/telegram"
	"github.com/fastprodman/gamezone/pkg/envconf"
	"github.com/fastprodman/gamezone/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running worker: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

//nolint:funlen
func run(ctx context.Context) (retErr error) {
	cfg := new(workerConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	err = cfg.Game.Validate()
	if err != nil {
		return fmt.Errorf("game config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel, "worker")

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add("postgres", func(context.Context) error { return db.Close() })

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publisher lobby.Publisher

	if cfg.Kafka.Enabled() {
		p := events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.TopicLobbyActivated))
		publisher = p

		shutdownqueue.Add("kafka writer", func(context.Context) error { return p.Close() })
	}

	ledger := wallet.New(db, cfg.Game.HouseUserID, m)
	lobbies := lobby.New(db, ledger, publisher, lobby.Config{
		LobbyTTL:       cfg.Game.LobbyTTL,
		CommissionRate: cfg.Game.CommissionRate,
	}, lobby.WithMetrics(m))

	var messenger conversation.Messenger = logMessenger{}

	bot, err := telegram.New(cfg.Telegram)
	if err != nil {
		slog.Warn("telegram disabled, notifications are only logged", "error", err)
	} else {
		messenger = bot
	}

	engine := conversation.NewEngine(db, ledger, lobbies, nil, messenger, conversation.Config{
		Options: conversation.Options{Stakes: cfg.Game.StakeOptions, WinConditions: cfg.Game.WinConditions},
		TTL:     cfg.Game.ConversationTTL,
	}, conversation.WithMetrics(m))

	srv := metricsServer(cfg.MetricsPort, reg, db.PingContext)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		serr := srv.ListenAndServe()
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", serr)
		}

		return nil
	})

	g.Go(func() error {
		return every(ctx, cfg.SweepInterval, "lobby_expiry", m, func(ctx context.Context) (int, error) {
			expired, err := lobbies.ExpireDue(ctx, cfg.SweepBatch)
			engine.NotifyExpired(ctx, expired)

			return len(expired), err
		})
	})

	g.Go(func() error {
		return every(ctx, cfg.SweepInterval, "conversation_timeout", m, func(ctx context.Context) (int, error) {
			return engine.ExpireIdle(ctx, cfg.SweepBatch)
		})
	})

	if cfg.Kafka.Enabled() {
		g.Go(func() error {
			return every(ctx, cfg.SweepInterval, "handoff_relay", m, func(ctx context.Context) (int, error) {
				return lobbies.RelayHandoffs(ctx, cfg.SweepBatch)
			})
		})

		consumer := events.NewOutcomeConsumer(
			events.NewReader(cfg.Kafka.Brokers, cfg.Kafka.TopicGameOutcomes, cfg.Kafka.OutcomeConsumerGroup),
			lobbies,
			engine.NotifySettlement,
		)

		shutdownqueue.Add("kafka reader", func(context.Context) error { return consumer.Close() })

		g.Go(func() error { return consumer.Run(ctx) })
	} else {
		slog.Warn("KAFKA_BROKERS is empty, handoff relay and outcome consumer are off")
	}

	// the metrics server stops with the loops
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("worker started", "sweep_interval", cfg.SweepInterval)

	return g.Wait()
}

// every runs fn on each tick until ctx is done. Failures are logged and
// retried on the next tick.
func every(ctx context.Context, interval time.Duration, name string, m *metrics.Metrics,
	fn func(ctx context.Context) (int, error),
) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		n, err := fn(ctx)
		if n > 0 {
			m.Sweeps.WithLabelValues(name, "ok").Add(float64(n))
			slog.Info("sweep", "sweep", name, "count", n)
		}

		if err != nil && ctx.Err() == nil {
			m.Sweeps.WithLabelValues(name, "error").Inc()
			slog.Error("sweep failed", "sweep", name, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func metricsServer(port uint16, reg *prometheus.Registry, ping func(context.Context) error) *http.Server {
	r := chi.NewRouter()

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		if err := ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// logMessenger stands in for the bot when no token is configured.
type logMessenger struct{}

func (logMessenger) Send(_ context.Context, chatID int64, msg conversation.Message) error {
	slog.Info("notification", "chat_id", chatID, "text", msg.Text)
	return nil
}

func (logMessenger) Edit(_ context.Context, chatID, messageID int64, msg conversation.Message) error {
	slog.Info("notification edit", "chat_id", chatID, "message_id", messageID, "text", msg.Text)
	return nil
}

func (logMessenger) AnswerCallback(context.Context, string, string) error { return nil }
