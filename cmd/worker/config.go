package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/gamezone/internal/config"
)

type workerConfig struct {
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" envDefault:"INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SweepBatch      int           `env:"SWEEP_BATCH" envDefault:"100"`
	MetricsPort     uint16        `env:"WORKER_METRICS_PORT" envDefault:"9090"`

	Postgres config.PostgresConfig
	Kafka    config.KafkaConfig
	Game     config.GameConfig
	Telegram config.TelegramConfig
}
