package logger

import (
	"io"
	"log/slog"
)

// Logger is the logging interface components depend on
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, err error, args ...any)
}

// Adapter wraps slog.Logger to match our interface
type Adapter struct {
	*slog.Logger
}

// NewAdapter creates a new logger adapter
func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{Logger: logger}
}

// Discard returns an adapter that drops every record
func Discard() *Adapter {
	return NewAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Named returns an adapter tagging every record with the component name
func (a *Adapter) Named(component string) *Adapter {
	return &Adapter{Logger: a.Logger.With("component", component)}
}

// Debug logs a debug message
func (a *Adapter) Debug(msg string, args ...any) {
	a.Logger.Debug(msg, args...)
}

// Info logs an info message
func (a *Adapter) Info(msg string, args ...any) {
	a.Logger.Info(msg, args...)
}

// Error logs an error message
func (a *Adapter) Error(msg string, err error, args ...any) {
	allArgs := append([]any{"error", err}, args...)
	a.Logger.Error(msg, allArgs...)
}

// Warn logs a warning message
func (a *Adapter) Warn(msg string, args ...any) {
	a.Logger.Warn(msg, args...)
}
