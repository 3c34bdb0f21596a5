// Package observability provides structured logging, metrics, and tracing
// for parcelflow ingestion runs.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123")
//	enriched.Info("reading feed") // includes run_id
func EnrichLogger(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("run_id", runID))
}

// LogRunStart logs the start of an ingestion run.
func LogRunStart(logger *slog.Logger, runID string, capacity int) {
	if logger == nil {
		return
	}
	attrs := []any{slog.String("run_id", runID)}
	if capacity >= 0 {
		attrs = append(attrs, slog.Int("capacity", capacity))
	}
	logger.Info("ingestion run starting", attrs...)
}

// LogRunComplete logs the end of an ingestion run.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, accepted, dropped int) {
	if logger == nil {
		return
	}
	logger.Info("ingestion run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("accepted", accepted),
		slog.Int("dropped", dropped),
	)
}

// LogAccepted logs an accepted event.
func LogAccepted(logger *slog.Logger, action string, recipientID int64) {
	if logger == nil {
		return
	}
	logger.Debug("event accepted",
		slog.String("action", action),
		slog.Int64("recipient_id", recipientID),
	)
}

// LogDropped logs a dropped event. err may be nil.
func LogDropped(logger *slog.Logger, reason string, recipientID int64, err error) {
	if logger == nil {
		return
	}
	attrs := []any{slog.String("reason", reason)}
	if recipientID != 0 {
		attrs = append(attrs, slog.Int64("recipient_id", recipientID))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.Info("event dropped", attrs...)
}

// LogBackendError logs a store or sink failure.
func LogBackendError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("backend failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
// Unknown names map to info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
