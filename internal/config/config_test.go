package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validGame() GameConfig {
	return GameConfig{
		StakeOptions:    []int64{10, 50, 100},
		WinConditions:   []int{1, 3, 5},
		CommissionRate:  decimal.RequireFromString("0.1"),
		LobbyTTL:        10 * time.Minute,
		ConversationTTL: 5 * time.Minute,
	}
}

func TestGameConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*GameConfig)
		wantMsg string
	}{
		{name: "valid", mutate: func(*GameConfig) {}},
		{name: "zero_commission", mutate: func(g *GameConfig) { g.CommissionRate = decimal.Zero }},
		{name: "no_stakes", mutate: func(g *GameConfig) { g.StakeOptions = nil }, wantMsg: "STAKE_OPTIONS"},
		{name: "negative_stake", mutate: func(g *GameConfig) { g.StakeOptions = []int64{10, -5} }, wantMsg: "stake option -5"},
		{name: "no_win_conditions", mutate: func(g *GameConfig) { g.WinConditions = nil }, wantMsg: "WIN_CONDITIONS"},
		{name: "zero_win_condition", mutate: func(g *GameConfig) { g.WinConditions = []int{0} }, wantMsg: "win condition 0"},
		{
			name:    "full_commission",
			mutate:  func(g *GameConfig) { g.CommissionRate = decimal.NewFromInt(1) },
			wantMsg: "COMMISSION_RATE",
		},
		{
			name:    "negative_commission",
			mutate:  func(g *GameConfig) { g.CommissionRate = decimal.RequireFromString("-0.01") },
			wantMsg: "COMMISSION_RATE",
		},
		{name: "no_lobby_ttl", mutate: func(g *GameConfig) { g.LobbyTTL = 0 }, wantMsg: "LOBBY_TTL"},
		{name: "no_conversation_ttl", mutate: func(g *GameConfig) { g.ConversationTTL = -time.Second }, wantMsg: "CONVERSATION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := validGame()
			tt.mutate(&g)

			err := g.Validate()
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				return
			}

			if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("want ErrInvalid mentioning %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestCredentialChecks(t *testing.T) {
	t.Parallel()

	if err := (TelegramConfig{}).Check(); !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("telegram without token: %v", err)
	}
	if err := (TelegramConfig{BotToken: "t"}).Check(); err != nil {
		t.Fatalf("telegram with token: %v", err)
	}
	if err := (ChapaConfig{}).Check(); !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("chapa without key: %v", err)
	}
	if (KafkaConfig{}).Enabled() || !(KafkaConfig{Brokers: []string{"k:9092"}}).Enabled() {
		t.Fatalf("kafka enabled flag")
	}
}
