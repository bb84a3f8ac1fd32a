package utils

import (
	"context"
	"log/slog"
	"os"
)

// Setup installs the default logger. Level comes from KIOSK_LOG_LEVEL
// ("debug", "info", "warn", "error"); anything else means info.
func Setup() {
	level := slog.LevelInfo
	switch os.Getenv("KIOSK_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// Log provides structured logging with subsystem identification
// Example usage:
//
//	utils.Log(slog.LevelDebug, "monitor", "Watch started", "payment_id", paymentID)
//	utils.Log(slog.LevelInfo, "poller", "Status resolved", "payment_id", paymentID, "status", "completed")
func Log(level slog.Level, subsystem string, msg string, keysAndValues ...interface{}) {
	attrs := []slog.Attr{
		slog.String("subsystem", subsystem),
	}

	// Convert key-value pairs to slog attributes
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			key, ok := keysAndValues[i].(string)
			if !ok {
				continue
			}
			attrs = append(attrs, slog.Any(key, keysAndValues[i+1]))
		}
	}

	slog.LogAttrs(context.Background(), level, msg, attrs...)
}

// Convenience functions for common log levels
func Debug(subsystem string, msg string, keysAndValues ...interface{}) {
	Log(slog.LevelDebug, subsystem, msg, keysAndValues...)
}

func Info(subsystem string, msg string, keysAndValues ...interface{}) {
	Log(slog.LevelInfo, subsystem, msg, keysAndValues...)
}

func Warn(subsystem string, msg string, keysAndValues ...interface{}) {
	Log(slog.LevelWarn, subsystem, msg, keysAndValues...)
}

func Error(subsystem string, msg string, keysAndValues ...interface{}) {
	Log(slog.LevelError, subsystem, msg, keysAndValues...)
}
