package logger

import (
	"log/slog"

	"reserve_tracker/internal/app/port"
)

// slogAdapter implements port.Logger on top of a slog.Logger.
// A nil inner logger routes through the package-level functions.
type slogAdapter struct {
	inner *slog.Logger
}

// NewSlogAdapter returns a port.Logger backed by the global zap-routed slog logger.
func NewSlogAdapter() port.Logger {
	return &slogAdapter{}
}

// Named returns a port.Logger that tags every record with component.
func Named(component string) port.Logger {
	ensureInitialized()
	return &slogAdapter{inner: globalLogger.With("component", component)}
}

// NewNop returns a port.Logger that discards everything.
func NewNop() port.Logger {
	return &slogAdapter{inner: slog.New(slog.DiscardHandler)}
}

// Info logs an informational message.
func (a *slogAdapter) Info(msg string, args ...any) {
	if a.inner != nil {
		a.inner.Info(msg, args...)
		return
	}
	Info(msg, args...)
}

// Debug logs a debug message.
func (a *slogAdapter) Debug(msg string, args ...any) {
	if a.inner != nil {
		a.inner.Debug(msg, args...)
		return
	}
	Debug(msg, args...)
}

// Warn logs a warning.
func (a *slogAdapter) Warn(msg string, args ...any) {
	if a.inner != nil {
		a.inner.Warn(msg, args...)
		return
	}
	Warn(msg, args...)
}

// Error logs an error.
func (a *slogAdapter) Error(msg string, args ...any) {
	if a.inner != nil {
		a.inner.Error(msg, args...)
		return
	}
	Error(msg, args...)
}
