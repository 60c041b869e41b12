package app

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger. JSON output is selected by
// LOG_FORMAT=json; anything else gets human-readable text for local runs.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: logLevel(cfg)}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func logLevel(cfg *Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
