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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fastprodman/gamezone/internal/api"
	"github.com/fastprodman/gamezone/internal/dedupe"
	"github.com/fastprodman/gamezone/internal/events"
	"github.com/fastprodman/gamezone/internal/gateway/chapa"
	"github.com/fastprodman/gamezone/internal/infra/logging"
	"github.com/fastprodman/gamezone/internal/infra/metrics"
	"github.com/fastprodman/gamezone/internal/infra/pgutils"
	"github.com/fastprodman/gamezone/internal/services/conversation"
	"github.com/fastprodman/gamezone/internal/services/lobby"
	"github.com/fastprodman/gamezone/internal/services/payments"
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
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

//nolint:funlen,cyclop
func run(ctx context.Context) (retErr error) {
	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	err = cfg.Game.Validate()
	if err != nil {
		return fmt.Errorf("game config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel, "api")

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add("postgres", func(context.Context) error { return db.Close() })

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	updateDedupe := dedupe.New(nil, "", 0)

	if cfg.Redis.Addr != "" {
		rdb, rerr := dedupe.Connect(ctx, cfg.Redis.Addr)
		if rerr != nil {
			slog.Warn("redis unavailable, update dedupe disabled", "error", rerr)
		} else {
			updateDedupe = dedupe.New(rdb, "tg:update", cfg.Redis.DedupeTTL)
			shutdownqueue.Add("redis", func(context.Context) error { return rdb.Close() })
		}
	}

	var publisher lobby.Publisher

	if cfg.Kafka.Enabled() {
		p := events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.TopicLobbyActivated))
		publisher = p

		shutdownqueue.Add("kafka writer", func(context.Context) error { return p.Close() })
	} else {
		slog.Warn("KAFKA_BROKERS is empty, lobby handoff waits for the relay")
	}

	// --- Services ---
	ledger := wallet.New(db, cfg.Game.HouseUserID, m)
	lobbies := lobby.New(db, ledger, publisher, lobby.Config{
		LobbyTTL:       cfg.Game.LobbyTTL,
		CommissionRate: cfg.Game.CommissionRate,
	}, lobby.WithMetrics(m))

	var gateway payments.Gateway

	gw, err := chapa.New(cfg.Chapa, chapa.WithMetrics(m))
	if err != nil {
		slog.Warn("deposits disabled", "error", err)
	} else {
		gateway = gw
	}

	reconciler := payments.New(ledger, gateway, nil, payments.WithMetrics(m))

	deps := api.Deps{
		Dedupe:             updateDedupe,
		TelegramSecret:     cfg.Telegram.WebhookSecret,
		ChapaWebhookSecret: cfg.Chapa.WebhookSecret,
		Ping:               db.PingContext,
		Metrics:            m,
		Gatherer:           reg,
	}

	if gateway != nil {
		deps.Callbacks = reconciler
	}

	bot, err := telegram.New(cfg.Telegram)
	if err != nil {
		slog.Warn("telegram disabled, webhook answers 503", "error", err)
	} else {
		engine := conversation.NewEngine(db, ledger, lobbies, reconciler, bot, conversation.Config{
			Options: conversation.Options{Stakes: cfg.Game.StakeOptions, WinConditions: cfg.Game.WinConditions},
			TTL:     cfg.Game.ConversationTTL,
		}, conversation.WithMetrics(m))

		reconciler.SetNotifier(engine)
		deps.Updates = engine

		go bot.RegisterWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret)
	}

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, deps)

	shutdownqueue.Add("http server", func(c context.Context) error {
		slog.Info("Shut down server")

		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "port", cfg.Port)

	select {
	case <-ctx.Done():
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}
