package envconf

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type nestedConf struct {
	DSN string `env:"ENVCONF_TEST_DSN"`
}

type sampleConf struct {
	Port     uint16        `env:"ENVCONF_TEST_PORT"`
	Timeout  time.Duration `env:"ENVCONF_TEST_TIMEOUT" envDefault:"3s"`
	Level    slog.Level    `env:"ENVCONF_TEST_LEVEL"`
	Token    string        `env:"ENVCONF_TEST_TOKEN,optional"`
	Stakes   []int64       `env:"ENVCONF_TEST_STAKES"`
	Enabled  *bool         `env:"ENVCONF_TEST_ENABLED,optional"`
	Postgres nestedConf
}

//nolint:paralleltest
func TestLoad_AllKinds(t *testing.T) {
	t.Setenv("ENVCONF_TEST_PORT", "8080")
	t.Setenv("ENVCONF_TEST_LEVEL", "DEBUG")
	t.Setenv("ENVCONF_TEST_STAKES", "20, 50,100,")
	t.Setenv("ENVCONF_TEST_ENABLED", "true")
	t.Setenv("ENVCONF_TEST_DSN", "postgres://x")

	cfg := new(sampleConf)

	err := Load(cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != 8080 {
		t.Fatalf("port: want 8080, got %d", cfg.Port)
	}
	if cfg.Timeout != 3*time.Second {
		t.Fatalf("timeout default: want 3s, got %s", cfg.Timeout)
	}
	if cfg.Level != slog.LevelDebug {
		t.Fatalf("level: want DEBUG, got %s", cfg.Level)
	}
	if cfg.Token != "" {
		t.Fatalf("optional token should stay empty, got %q", cfg.Token)
	}
	if len(cfg.Stakes) != 3 || cfg.Stakes[0] != 20 || cfg.Stakes[2] != 100 {
		t.Fatalf("stakes: got %v", cfg.Stakes)
	}
	if cfg.Enabled == nil || !*cfg.Enabled {
		t.Fatalf("enabled pointer not set")
	}
	if cfg.Postgres.DSN != "postgres://x" {
		t.Fatalf("nested dsn: got %q", cfg.Postgres.DSN)
	}
}

//nolint:paralleltest
func TestLoad_ReportsEveryMissingVariable(t *testing.T) {
	t.Setenv("ENVCONF_TEST_LEVEL", "INFO")

	err := Load(new(sampleConf))
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("want ErrMissingRequired, got %v", err)
	}

	for _, name := range []string{"ENVCONF_TEST_PORT", "ENVCONF_TEST_STAKES", "ENVCONF_TEST_DSN"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error should mention %s: %v", name, err)
		}
	}
}

//nolint:paralleltest
func TestLoad_ParseErrorIsNotMissing(t *testing.T) {
	t.Setenv("ENVCONF_TEST_PORT", "not-a-port")
	t.Setenv("ENVCONF_TEST_LEVEL", "INFO")
	t.Setenv("ENVCONF_TEST_STAKES", "1")
	t.Setenv("ENVCONF_TEST_DSN", "x")

	err := Load(new(sampleConf))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if errors.Is(err, ErrMissingRequired) {
		t.Fatalf("parse error must not look like a missing variable: %v", err)
	}
}

func TestLoad_RejectsNonStruct(t *testing.T) {
	t.Parallel()

	var n int
	if err := Load(&n); err == nil {
		t.Fatal("expected error for non-struct destination")
	}
	if err := Load(nil); err == nil {
		t.Fatal("expected error for nil destination")
	}
}
