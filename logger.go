package entrycache

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with cache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithKey adds a key field to the logger.
func (l *Logger) WithKey(key string) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key),
	}
}

// LogOpen logs an open attempt.
func (l *Logger) LogOpen(key string, hit bool) {
	l.WithKey(key).Debug("open entry",
		"hit", hit,
	)
}

// LogCreate logs a create operation.
func (l *Logger) LogCreate(key string, err error) {
	kl := l.WithKey(key)
	if err != nil {
		kl.Error("create failed",
			"error", err,
		)
	} else {
		kl.Debug("create completed")
	}
}

// LogDoom logs a doom request.
func (l *Logger) LogDoom(key string) {
	l.WithKey(key).Debug("doom entry")
}

// LogEviction logs one entry dropped by a trim pass.
func (l *Logger) LogEviction(key string, size int64, child bool) {
	l.WithKey(key).Debug("entry evicted",
		"size", size,
		"child", child,
	)
}

// LogTrim logs a bulk doom or eviction pass.
func (l *Logger) LogTrim(reason string, evicted int, sizeBefore, sizeAfter int64) {
	l.Info("cache trimmed",
		"reason", reason,
		"evicted", evicted,
		"size_before", sizeBefore,
		"size_after", sizeAfter,
	)
}

// LogMemoryPressure logs a memory pressure signal.
func (l *Logger) LogMemoryPressure(level MemoryPressureLevel, target int64) {
	l.Info("memory pressure",
		"level", level.String(),
		"target", target,
	)
}

// LogClose logs cache shutdown.
func (l *Logger) LogClose(entries int, size int64, err error) {
	if err != nil {
		l.Error("close failed",
			"entries", entries,
			"size", size,
			"error", err,
		)
	} else {
		l.Info("cache closed",
			"entries", entries,
			"size", size,
		)
	}
}
