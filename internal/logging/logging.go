// Package logging provides the five-level text log used throughout the
// emulator core: trace, debug, info, warn, error. It wraps log/slog so the
// rest of the tree never imports slog directly.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// LevelTrace sits one step below slog's own Debug level, following the
// documented pattern for custom slog levels.
const LevelTrace = slog.LevelDebug - 4

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
}

var logger = slog.New(newHandler(slog.LevelInfo))

func newHandler(level slog.Level) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				if name, ok := levelNames[lvl]; ok {
					a.Value = slog.StringValue(name)
				}
			}
			return a
		},
	})
}

// SetLevel rebuilds the package logger at the given minimum level.
func SetLevel(level slog.Level) {
	logger = slog.New(newHandler(level))
}

// Logger returns the shared *slog.Logger so callers can attach contextual
// fields with With(...) when a single helper call isn't enough.
func Logger() *slog.Logger { return logger }

func Trace(msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) { logger.Debug(msg, args...) }
func Info(msg string, args ...any)  { logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { logger.Warn(msg, args...) }
func Error(msg string, args ...any) { logger.Error(msg, args...) }
