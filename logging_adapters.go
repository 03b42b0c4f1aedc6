// logging_adapters.go: Logger adapters for slog, zap, zerolog and logrus backends
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// SlogAdapter wraps *slog.Logger behind the Logger interface.
//
// When created through NewDefaultLogger it owns a slog.LevelVar and
// implements LevelController, so the configuration hot-reload can adjust
// the minimum level at runtime. When wrapping an externally built
// *slog.Logger the level is owned by the caller's handler and SetLevel
// reports an error instead of silently doing nothing.
type SlogAdapter struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewSlogAdapter wraps an existing *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// NewDefaultLogger builds a leveled slog text logger writing to stdout.
//
// The level string accepts "debug", "info", "warn" and "error". An
// unrecognized level falls back to info.
func NewDefaultLogger(level string) *SlogAdapter {
	levelVar := new(slog.LevelVar)
	if parsed, err := parseSlogLevel(level); err == nil {
		levelVar.Set(parsed)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})
	return &SlogAdapter{
		logger: slog.New(handler),
		level:  levelVar,
	}
}

// NewJSONLogger builds a leveled slog JSON logger writing to stdout.
// Same level handling as NewDefaultLogger; the facade selects it when
// the logging configuration asks for the "json" format.
func NewJSONLogger(level string) *SlogAdapter {
	levelVar := new(slog.LevelVar)
	if parsed, err := parseSlogLevel(level); err == nil {
		levelVar.Set(parsed)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})
	return &SlogAdapter{
		logger: slog.New(handler),
		level:  levelVar,
	}
}

// Debug implements Logger interface
func (a *SlogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }

// Info implements Logger interface
func (a *SlogAdapter) Info(msg string, args ...any) { a.logger.Info(msg, args...) }

// Warn implements Logger interface
func (a *SlogAdapter) Warn(msg string, args ...any) { a.logger.Warn(msg, args...) }

// Error implements Logger interface
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }

// With implements Logger interface
func (a *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: a.logger.With(args...), level: a.level}
}

// SetLevel implements LevelController for adapters built by NewDefaultLogger.
func (a *SlogAdapter) SetLevel(level string) error {
	if a.level == nil {
		return NewConfigInvalidError("logging.level", "level is owned by the wrapped slog handler")
	}

	parsed, err := parseSlogLevel(level)
	if err != nil {
		return err
	}

	a.level.Set(parsed)
	return nil
}

func parseSlogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, NewConfigInvalidError("logging.level", fmt.Sprintf("unknown level %q", level))
	}
}

// ZapAdapter wraps *zap.Logger behind the Logger interface.
//
// Key-value args are forwarded through the sugared logger, which matches
// the loosely typed argument style of the Logger interface.
type ZapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewZapAdapter wraps an existing *zap.Logger.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{sugar: logger.Sugar()}
}

// Debug implements Logger interface
func (a *ZapAdapter) Debug(msg string, args ...any) { a.sugar.Debugw(msg, args...) }

// Info implements Logger interface
func (a *ZapAdapter) Info(msg string, args ...any) { a.sugar.Infow(msg, args...) }

// Warn implements Logger interface
func (a *ZapAdapter) Warn(msg string, args ...any) { a.sugar.Warnw(msg, args...) }

// Error implements Logger interface
func (a *ZapAdapter) Error(msg string, args ...any) { a.sugar.Errorw(msg, args...) }

// With implements Logger interface
func (a *ZapAdapter) With(args ...any) Logger {
	return &ZapAdapter{sugar: a.sugar.With(args...)}
}

// ZerologAdapter wraps zerolog.Logger behind the Logger interface.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps an existing zerolog.Logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Debug implements Logger interface
func (a *ZerologAdapter) Debug(msg string, args ...any) {
	a.logger.Debug().Fields(args).Msg(msg)
}

// Info implements Logger interface
func (a *ZerologAdapter) Info(msg string, args ...any) {
	a.logger.Info().Fields(args).Msg(msg)
}

// Warn implements Logger interface
func (a *ZerologAdapter) Warn(msg string, args ...any) {
	a.logger.Warn().Fields(args).Msg(msg)
}

// Error implements Logger interface
func (a *ZerologAdapter) Error(msg string, args ...any) {
	a.logger.Error().Fields(args).Msg(msg)
}

// With implements Logger interface
func (a *ZerologAdapter) With(args ...any) Logger {
	return &ZerologAdapter{logger: a.logger.With().Fields(args).Logger()}
}

// LogrusAdapter wraps *logrus.Logger behind the Logger interface.
//
// Implements LevelController: logrus levels are mutable on the logger
// itself, so configuration hot-reload works with logrus backends.
type LogrusAdapter struct {
	root  *logrus.Logger
	entry *logrus.Entry
}

// NewLogrusAdapter wraps an existing *logrus.Logger.
func NewLogrusAdapter(logger *logrus.Logger) *LogrusAdapter {
	return &LogrusAdapter{
		root:  logger,
		entry: logrus.NewEntry(logger),
	}
}

// Debug implements Logger interface
func (a *LogrusAdapter) Debug(msg string, args ...any) {
	a.entry.WithFields(logrusFields(args)).Debug(msg)
}

// Info implements Logger interface
func (a *LogrusAdapter) Info(msg string, args ...any) {
	a.entry.WithFields(logrusFields(args)).Info(msg)
}

// Warn implements Logger interface
func (a *LogrusAdapter) Warn(msg string, args ...any) {
	a.entry.WithFields(logrusFields(args)).Warn(msg)
}

// Error implements Logger interface
func (a *LogrusAdapter) Error(msg string, args ...any) {
	a.entry.WithFields(logrusFields(args)).Error(msg)
}

// With implements Logger interface
func (a *LogrusAdapter) With(args ...any) Logger {
	return &LogrusAdapter{
		root:  a.root,
		entry: a.entry.WithFields(logrusFields(args)),
	}
}

// SetLevel implements LevelController.
func (a *LogrusAdapter) SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return NewConfigInvalidError("logging.level", fmt.Sprintf("unknown level %q", level))
	}

	a.root.SetLevel(parsed)
	return nil
}

// logrusFields converts interleaved key-value args into logrus.Fields.
// A trailing key without a value is kept under "!BADKEY" so the
// information is not silently dropped.
func logrusFields(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields[key] = args[i+1]
	}
	if len(args)%2 == 1 {
		fields["!BADKEY"] = args[len(args)-1]
	}
	return fields
}
