// Package logger provides a lightweight, centralized logging facility
// with configurable verbosity levels.
//
// Call sites stay format-string based (Errorf, Warnf, Infof, Debugf, Tracef)
// while output is produced by a single zerolog logger, either as a
// human-friendly console stream or as JSON lines.
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Warnings are emitted whenever Info is enabled.
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("event=run_start ticker=%s", ticker)
//	logger.Debugf("spot=%f vol=%f", spot, vol)
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level application progress.
	Debug              // Debug logs detailed diagnostic information.
	Trace              // Trace logs very fine-grained execution details.
)

var (
	mu      sync.RWMutex
	current = Info
	base    = newLogger("console", os.Stderr)
)

func newLogger(format string, w io.Writer) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Configure replaces the output sink. format is "console" or "json";
// a nil writer keeps stderr.
func Configure(format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	l := newLogger(format, w)

	mu.Lock()
	base = l
	mu.Unlock()
}

// SetVerbosity sets the global logging verbosity.
// Typically called once during application startup
// (e.g. after parsing CLI flags).
func SetVerbosity(v int) {
	if v < int(Error) {
		v = int(Error)
	}
	mu.Lock()
	current = Level(v)
	mu.Unlock()
}

// Verbosity returns the active level.
func Verbosity() Level {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func logf(l Level, zl zerolog.Level, format string, args ...any) {
	mu.RLock()
	enabled := current >= l
	lg := base
	mu.RUnlock()

	if enabled {
		lg.WithLevel(zl).Msgf(format, args...)
	}
}

// Errorf logs an error-level message.
// Use this for failures that require attention.
func Errorf(format string, args ...any) {
	logf(Error, zerolog.ErrorLevel, format, args...)
}

// Warnf logs a recoverable problem, such as a fallback being taken.
func Warnf(format string, args ...any) {
	logf(Info, zerolog.WarnLevel, format, args...)
}

// Infof logs an informational message.
// Use this for major lifecycle events.
func Infof(format string, args ...any) {
	logf(Info, zerolog.InfoLevel, format, args...)
}

// Debugf logs debugging information.
// Use this for diagnostic output useful during development.
func Debugf(format string, args ...any) {
	logf(Debug, zerolog.DebugLevel, format, args...)
}

// Tracef logs very detailed execution traces.
// Use this sparingly due to high volume.
func Tracef(format string, args ...any) {
	logf(Trace, zerolog.TraceLevel, format, args...)
}
