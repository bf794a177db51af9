package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sandwichfarm/laostr/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return newLogger(cfg, os.Stderr, func(groups []string, a slog.Attr) slog.Attr {
		// Customize timestamp format
		if a.Key == slog.TimeKey {
			if t, ok := a.Value.Any().(time.Time); ok {
				a.Value = slog.StringValue(t.Format(time.RFC3339))
			}
		}
		return a
	})
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	return newLogger(cfg, w, nil)
}

func newLogger(cfg *config.Logging, w io.Writer, replace func([]string, slog.Attr) slog.Attr) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replace,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// Discard returns a logger that drops everything (tests, quiet CLI output)
func Discard() *Logger {
	return NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, io.Discard)
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogRelayQuery logs a one-shot relay query
func (l *Logger) LogRelayQuery(relays int, count int, duration time.Duration, err error) {
	if err != nil {
		l.Warn("relay query failed",
			"relays", relays,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("relay query completed",
			"relays", relays,
			"events", count,
			"duration_ms", duration.Milliseconds())
	}
}

// LogPublish logs a publish attempt
func (l *Logger) LogPublish(eventID string, kind int, accepted string, err error) {
	if err != nil {
		l.Warn("publish failed",
			"event_id", eventID,
			"kind", kind,
			"error", err)
	} else {
		l.Info("event published",
			"event_id", eventID,
			"kind", kind,
			"relay", accepted)
	}
}

// LogFeedLoad logs a feed controller page load
func (l *Logger) LogFeedLoad(op string, mode string, fetched int, added int, cursor int64) {
	l.Debug("feed page merged",
		"operation", op,
		"mode", mode,
		"fetched", fetched,
		"added", added,
		"cursor", cursor)
}

// LogStorageOperation logs a storage operation
func (l *Logger) LogStorageOperation(op string, duration time.Duration, err error) {
	if err != nil {
		l.Error("storage operation failed",
			"operation", op,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("storage operation completed",
			"operation", op,
			"duration_ms", duration.Milliseconds())
	}
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string, config map[string]interface{}) {
	l.Info("laostr starting",
		"version", version,
		"commit", commit,
		"config", config)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("laostr shutting down",
		"reason", reason)
}

// LogPanic logs a panic with stack trace
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", stack)
}
