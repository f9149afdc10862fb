package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/gamezone/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"APP_PORT" envDefault:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" envDefault:"INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Postgres config.PostgresConfig
	Redis    config.RedisConfig
	Kafka    config.KafkaConfig
	Game     config.GameConfig
	Telegram config.TelegramConfig
	Chapa    config.ChapaConfig
}
