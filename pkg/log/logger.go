// Package log provides structured logging utilities for the poolstats engine.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	// Parse log level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Create handler based on format
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	// Create base logger with service context
	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithRound returns a logger with round-specific fields
func (l *Logger) WithRound(roundID int64, fence uint64) *Logger {
	return l.WithFields("round_id", roundID, "fence", fence)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Performance logging helpers

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}

// Accounting-specific logging helpers

// LogShareIngested logs an ingested share
func (l *Logger) LogShareIngested(user, worker string, difficulty float64, accepted bool, roundID int64) {
	l.Debug("share ingested",
		"user", user,
		"worker_name", worker,
		"difficulty", difficulty,
		"accepted", accepted,
		"round_id", roundID,
	)
}

// LogRoundTransition logs a round state transition
func (l *Logger) LogRoundTransition(roundID int64, from, to string, fence uint64) {
	l.Info("round transition",
		"round_id", roundID,
		"from", from,
		"to", to,
		"fence", fence,
	)
}

// LogStatusReport logs receipt of a device status report
func (l *Logger) LogStatusReport(user, worker string, devices int) {
	l.Debug("status report received",
		"user", user,
		"worker_name", worker,
		"devices", devices,
	)
}
