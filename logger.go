package socket

import (
	"io"
	"log/slog"
)

// Logger receives the server's structured records. *slog.Logger satisfies
// it, so LoggerOption(slog.Default()) and any slog handler work as is.
//
// Records carry key-value pairs such as client_id, addr and error. Methods
// are called from the event loop as well as from application goroutines,
// so implementations must be safe for concurrent use and should not block.
//
// Levels: Debug for per-client lifecycle, Info for server start and stop
// and clients lost to an error, Warn for dropped messages and accept
// failures, Error for panicking callbacks and loop failures.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// DiscardLogger returns a Logger that drops every record.
func DiscardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
