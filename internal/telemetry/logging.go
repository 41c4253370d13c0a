// Package telemetry wires structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the content-security core host process.
package telemetry

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide structured logger writing to stderr
// (stdout is reserved for any stdio-transport use elsewhere in the host
// process). level is one of "debug", "info", "warn"/"warning", "error";
// unrecognized values fall back to info.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// info for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch level {
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
