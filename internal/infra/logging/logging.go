package logging

import (
	"log/slog"
	"os"
)

// SetupJSON sets slog's default logger to use JSON output at the given level.
// service is attached to every record so workers and the API can be told apart.
func SetupJSON(level slog.Level, service string) {
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	).With("service", service)
	slog.SetDefault(logger)
}
