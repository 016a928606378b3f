// Package logging wraps zerolog with the console-writer setup the rest of
// the engine expects: timestamped, human-readable lines on stderr, with a
// package-level switch for verbose/debug CLI flags.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin wrapper so callers depend on this package, not zerolog
// directly, and so output can be redirected (e.g. above a progress bar).
type Logger struct {
	zlog zerolog.Logger
}

// New creates a logger writing to stderr with a console (non-JSON) format.
func New() *Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	return &Logger{
		zlog: zerolog.New(output).With().Timestamp().Logger(),
	}
}

// NewWithComponent creates a logger pre-tagged with a "component" field,
// used so discovery/receiver/sender/manager log lines are attributable.
func NewWithComponent(component string) *Logger {
	return &Logger{zlog: New().zlog.With().Str("component", component).Logger()}
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

// SetGlobalLevel adjusts the process-wide minimum log level, bound to the
// CLI's --verbose/--debug flags.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
