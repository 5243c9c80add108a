package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a JSON logger tagged with the emitting service so
// the server and consumer processes can share one log pipeline. slog
// keeps the standard library feel while still emitting structured logs
// we can ship to any backend.
func NewLogger(service, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler).With("service", service)
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
