// Package logging adapts zerolog to the auth.Logger interface.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	auth "github.com/service-laboratory/lab-auth"
)

// Logger implements auth.Logger on top of a zerolog.Logger
type Logger struct {
	log zerolog.Logger
}

var _ auth.Logger = (*Logger)(nil)

// New wraps an existing zerolog logger
func New(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

// NewConsole writes human readable lines to stderr at level
func NewConsole(level string) *Logger {
	return NewWriter(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

// NewWriter writes JSON lines to w at level
func NewWriter(w io.Writer, level string) *Logger {
	log := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("component", "auth").
		Logger()
	return New(log)
}

// ParseLevel falls back to info for unknown names
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Zerolog returns the underlying logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.log
}

func (l *Logger) Debug(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
