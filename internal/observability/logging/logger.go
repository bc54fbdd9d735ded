package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger writes JSON lines to stdout. Every record carries the
// service name plus any extra key/value attrs.
func NewJSONLogger(service, level string, attrs ...any) *slog.Logger {
	lvl := ParseLevel(level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	})
	return slog.New(handler).With(append([]any{"service", service}, attrs...)...)
}

func ParseLevel(level string) slog.Level {
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
