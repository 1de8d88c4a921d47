// Package logging sets up the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// New returns a logger writing to w in the given format ("json" or text).
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard is a logger that drops everything, for tests and optional wiring.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Timing logs the start of operation at debug level and returns a func that
// logs its duration when called.
func Timing(logger *slog.Logger, operation string) func() {
	start := time.Now()
	logger.Debug("starting", "operation", operation)

	return func() {
		logger.Debug("completed", "operation", operation, "took", time.Since(start).Round(time.Millisecond))
	}
}
