// Package obs wires up the structured logging every outbox subsystem
// accepts as an injected *slog.Logger.
package obs

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingConfig controls the log sink used by cmd/outboxd. A library
// embedder is free to build and inject its own *slog.Logger instead.
type LoggingConfig struct {
	Level      slog.Level
	FilePath   string // empty means stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultLoggingConfig logs JSON at info level to stdout.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: slog.LevelInfo, MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14}
}

// NewLogger builds a JSON slog.Logger. When cfg.FilePath is set, output is
// written through a lumberjack.Logger so long-running daemons don't need an
// external log-rotation sidecar.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.Level})
	return slog.New(handler)
}
