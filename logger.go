package nexus

// Logger defines the interface for structured logging across the nexus core.
// All core operations (registration, status transitions, message drops) are
// logged through this interface using key-value pairs, so embedding
// applications control how core logs appear.
//
// The variadic arguments are key-value pairs:
//
//	logger.Info("module registered", "module", "vision-1", "capabilities", 2)
//
// This shape is directly compatible with log/slog and with structured
// logging libraries like zap's sugared logger or logrus adapters.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}
