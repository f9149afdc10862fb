// Package config holds the environment-backed settings shared by the api,
// worker and migrator binaries. Values are loaded with pkg/envconf.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalid = errors.New("invalid configuration")

// ErrUnconfigured marks an integration whose credentials are absent.
// Routes depending on it fail closed.
var ErrUnconfigured = errors.New("integration not configured")

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig is optional: without an address update dedupe is off and
// the database transitions alone absorb redeliveries.
type RedisConfig struct {
	Addr      string        `env:"REDIS_ADDR,optional"`
	DedupeTTL time.Duration `env:"DEDUPE_TTL" envDefault:"24h"`
}

// KafkaConfig is optional: without brokers activated lobbies wait for the
// handoff relay until Kafka is configured.
type KafkaConfig struct {
	Brokers              []string `env:"KAFKA_BROKERS,optional"`
	TopicLobbyActivated  string   `env:"KAFKA_TOPIC_LOBBY_ACTIVATED" envDefault:"lobby_activated"`
	TopicGameOutcomes    string   `env:"KAFKA_TOPIC_GAME_OUTCOMES" envDefault:"game_outcomes"`
	OutcomeConsumerGroup string   `env:"KAFKA_OUTCOME_GROUP" envDefault:"lobby-settlement"`
}

// GameConfig carries the business parameters. Stakes, win conditions,
// commission and lobby lifetime are supplied by the operator.
type GameConfig struct {
	StakeOptions    []int64         `env:"STAKE_OPTIONS"`
	WinConditions   []int           `env:"WIN_CONDITIONS"`
	CommissionRate  decimal.Decimal `env:"COMMISSION_RATE"`
	LobbyTTL        time.Duration   `env:"LOBBY_TTL"`
	ConversationTTL time.Duration   `env:"CONVERSATION_TTL"`
	HouseUserID     int64           `env:"HOUSE_USER_ID" envDefault:"0"`
}

// Validate rejects parameter sets the wallet and lobby flow cannot honor.
func (g GameConfig) Validate() error {
	var errs []error

	if len(g.StakeOptions) == 0 {
		errs = append(errs, fmt.Errorf("%w: STAKE_OPTIONS is empty", ErrInvalid))
	}

	for _, s := range g.StakeOptions {
		if s <= 0 {
			errs = append(errs, fmt.Errorf("%w: stake option %d must be positive", ErrInvalid, s))
		}
	}

	if len(g.WinConditions) == 0 {
		errs = append(errs, fmt.Errorf("%w: WIN_CONDITIONS is empty", ErrInvalid))
	}

	for _, w := range g.WinConditions {
		if w <= 0 {
			errs = append(errs, fmt.Errorf("%w: win condition %d must be positive", ErrInvalid, w))
		}
	}

	if g.CommissionRate.IsNegative() || g.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("%w: COMMISSION_RATE %s outside [0,1)", ErrInvalid, g.CommissionRate))
	}

	if g.LobbyTTL <= 0 {
		errs = append(errs, fmt.Errorf("%w: LOBBY_TTL must be positive", ErrInvalid))
	}

	if g.ConversationTTL <= 0 {
		errs = append(errs, fmt.Errorf("%w: CONVERSATION_TTL must be positive", ErrInvalid))
	}

	return errors.Join(errs...)
}

type TelegramConfig struct {
	BotToken      string `env:"TELEGRAM_BOT_TOKEN,optional"`
	WebhookURL    string `env:"TELEGRAM_WEBHOOK_URL,optional"`
	WebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET,optional"`
	APIBaseURL    string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
}

func (c TelegramConfig) Check() error {
	if c.BotToken == "" {
		return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is empty", ErrUnconfigured)
	}

	return nil
}

type ChapaConfig struct {
	SecretKey     string        `env:"CHAPA_SECRET_KEY,optional"`
	BaseURL       string        `env:"CHAPA_BASE_URL" envDefault:"https://api.chapa.co"`
	CallbackURL   string        `env:"CHAPA_CALLBACK_URL,optional"`
	ReturnURL     string        `env:"CHAPA_RETURN_URL,optional"`
	WebhookSecret string        `env:"CHAPA_WEBHOOK_SECRET,optional"`
	Currency      string        `env:"CHAPA_CURRENCY" envDefault:"ETB"`
	Timeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	MaxAttempts   int           `env:"GATEWAY_MAX_ATTEMPTS" envDefault:"3"`
}

func (c ChapaConfig) Check() error {
	if c.SecretKey == "" {
		return fmt.Errorf("%w: CHAPA_SECRET_KEY is empty", ErrUnconfigured)
	}

	return nil
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }
