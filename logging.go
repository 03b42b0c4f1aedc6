// logging.go: Pluggable logging system with automatic adapter detection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// loggerContextKey is a custom type for context keys to avoid collisions
type loggerContextKey string

const (
	// Context keys for logger storage
	loggerKey loggerContextKey = "logger"
)

// Logger defines the pluggable logging interface for the go-appkit library.
//
// This interface enables users to integrate any logging framework (slog, zap,
// logrus, zerolog, custom loggers) without committing the library to one of
// them. Every subsystem (caches, runners, sessions, watchers) logs through it.
//
// Design principles:
//   - Backend neutral: any framework can sit behind the interface
//   - Performance friendly: structured logging with minimal allocations
//   - Contextual logging: With() method for adding persistent context
//   - Level-based: standard log levels (Debug, Info, Warn, Error)
//   - Structured args: key-value pairs for structured logging
//
// Example usage:
//
//	// Automatic adapter detection
//	logger := NewLogger(zap.NewExample())
//	apps, err := NewApps().WithLogger(logger).Build()
//
//	// Custom logger implementation
//	customLogger := &MyCustomLogger{}
//	apps, err := NewApps().WithLogger(customLogger).Build()
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	// The returned logger should include all provided context in subsequent log calls
	With(args ...any) Logger
}

// LevelController is implemented by adapters whose minimum level can be
// changed at runtime. The configuration hot-reload applicator uses it to
// apply logging level changes without a restart.
type LevelController interface {
	// SetLevel changes the minimum level ("debug", "info", "warn", "error").
	SetLevel(level string) error
}

// NewLogger creates a Logger from supported logger types.
//
// Supported types:
//   - Logger interface: used directly
//   - *slog.Logger: wrapped in SlogAdapter
//   - *zap.Logger: wrapped in ZapAdapter
//   - zerolog.Logger (or pointer): wrapped in ZerologAdapter
//   - *logrus.Logger: wrapped in LogrusAdapter
//   - nil: returns the library default (leveled slog to stdout)
//   - Unsupported types: panic with descriptive message
func NewLogger(logger any) Logger {
	adapted, err := loggerFromBackend(logger)
	if err != nil {
		panic("unsupported logger type: expected Logger, *slog.Logger, *zap.Logger, zerolog.Logger, *logrus.Logger or nil")
	}
	return adapted
}

// loggerFromBackend performs the adapter detection behind NewLogger but
// reports unsupported backends as an error. The facade builder uses it
// so that WithLoggerBackend turns a bad backend into a build error
// instead of a panic.
func loggerFromBackend(logger any) (Logger, error) {
	switch l := logger.(type) {
	case Logger:
		return l, nil // Already implements our interface
	case *slog.Logger:
		return NewSlogAdapter(l), nil
	case *zap.Logger:
		return NewZapAdapter(l), nil
	case zerolog.Logger:
		return NewZerologAdapter(l), nil
	case *zerolog.Logger:
		return NewZerologAdapter(*l), nil
	case *logrus.Logger:
		return NewLogrusAdapter(l), nil
	case nil:
		return DefaultLogger(), nil
	default:
		return nil, NewConfigInvalidError("logger", fmt.Sprintf("unsupported logger backend %T", logger))
	}
}

// NoOpLogger provides a silent logger implementation for testing and minimal setups.
//
// This logger discards all log messages and is useful for:
//   - Testing environments where log output is not desired
//   - Production setups that use external logging systems
//   - Minimal overhead scenarios where logging is disabled
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n // Return same instance since it's stateless
}

// TestLogger for testing - captures log messages
type TestLogger struct {
	mu       sync.RWMutex     `json:"-"`
	Messages []TestLogMessage `json:"messages"`
}

// TestLogMessage represents a captured log message for testing.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		Messages: make([]TestLogMessage, 0),
	}
}

// Debug implements Logger interface (captures message)
func (t *TestLogger) Debug(msg string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   "DEBUG",
		Message: msg,
		Args:    args,
	})
}

// Info implements Logger interface (captures message)
func (t *TestLogger) Info(msg string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   "INFO",
		Message: msg,
		Args:    args,
	})
}

// Warn implements Logger interface (captures message)
func (t *TestLogger) Warn(msg string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   "WARN",
		Message: msg,
		Args:    args,
	})
}

// Error implements Logger interface (captures message)
func (t *TestLogger) Error(msg string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   "ERROR",
		Message: msg,
		Args:    args,
	})
}

// With implements Logger interface (returns new logger with fields)
func (t *TestLogger) With(args ...any) Logger {
	// For testing, we don't need to implement context chaining
	// Return a new instance to avoid sharing state
	t.mu.RLock()
	messages := make([]TestLogMessage, len(t.Messages))
	copy(messages, t.Messages)
	t.mu.RUnlock()

	return &TestLogger{Messages: messages}
}

// HasMessage checks if the logger captured a message with the given level and text.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

// DefaultLogger creates a reasonable default logger for the library.
//
// Returns a leveled slog text logger writing to stdout at info level.
// The returned adapter implements LevelController so the level can be
// changed at runtime.
func DefaultLogger() Logger {
	return NewDefaultLogger("info")
}

// DiscardLogger creates a logger that discards all output.
func DiscardLogger() Logger {
	return NewNoOpLogger()
}

// LoggerFromContext extracts a logger from context if available.
//
// This function enables context-based logger propagation through
// the application stack. Falls back to DefaultLogger if no logger
// is found in the context.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}

	return DefaultLogger()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
