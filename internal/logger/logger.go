// Package logger wraps zerolog with the printf-style call surface the
// rest of this module uses (Debug/Info/Warn/Error(format, args...)),
// so call sites read the same as the docdb logger they were ported
// from while the output is zerolog's structured JSON/console stream.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog.Level so callers don't need to import zerolog
// directly just to call SetLevel.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Logger is a thin, component-scoped wrapper around a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger writing to out at the given level, tagging every
// line with a "component" field instead of docdb's bracketed prefix.
func New(out io.Writer, level Level, component string) *Logger {
	zl := zerolog.New(out).With().Timestamp().Str("component", component).Logger().Level(level)
	return &Logger{zl: zl}
}

// Default returns a console-formatted logger at Info level writing to
// stderr, suitable for CLI-adjacent tooling and tests.
func Default() *Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return &Logger{zl: zerolog.New(console).With().Timestamp().Str("component", "strata").Logger().Level(LevelInfo)}
}

// With returns a child logger tagged with an additional component
// suffix, e.g. log.With("wal") for per-subsystem scoping.
func (l *Logger) With(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("subcomponent", component).Logger()}
}

// SetLevel adjusts the minimum level this logger emits.
func (l *Logger) SetLevel(level Level) {
	l.zl = l.zl.Level(level)
}

// SetOutput redirects this logger's writer.
func (l *Logger) SetOutput(out io.Writer) {
	l.zl = l.zl.Output(out)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// WithError attaches an error field before logging at Error level, so a
// failure is logged without losing the original error in a free-text
// message.
func (l *Logger) WithError(err error, format string, args ...interface{}) {
	l.zl.Error().Err(err).Msgf(format, args...)
}
