// Package logging provides the structured logger used across hatago-hub.
//
// Unlike a process-wide singleton, a *Logger is constructed once at startup
// and passed explicitly to every component that needs it, so tests can
// swap in a discard logger or assert on captured output without mutating
// global state.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger with the subsystem-scoped helpers hatago-hub's
// components expect, as a value passed around explicitly instead of
// package-level functions.
type Logger struct {
	base *slog.Logger
}

// Options configures New.
type Options struct {
	// Level is the minimum level that will be emitted.
	Level slog.Level
	// Writer receives log output. Defaults to os.Stderr.
	Writer io.Writer
	// JSON selects slog.JSONHandler over slog.TextHandler. Operators
	// piping into log aggregators want JSON; interactive CLI use wants
	// text.
	JSON bool
}

// New builds a Logger per Options.
func New(opts Options) *Logger {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Writer, handlerOpts)
	}
	return &Logger{base: slog.New(handler)}
}

// Discard returns a Logger that drops everything, for tests that don't
// care about log output.
func Discard() *Logger {
	return &Logger{base: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a Logger that always attaches the given subsystem tag, and
// any extra key/value pairs, to every record it emits.
func (l *Logger) With(subsystem string, args ...any) *Logger {
	return &Logger{base: l.base.With(append([]any{"subsystem", subsystem}, args...)...)}
}

// WithUpstream scopes a Logger to a single upstream id, the most common
// scoping need in this codebase.
func (l *Logger) WithUpstream(id string) *Logger {
	return &Logger{base: l.base.With("upstream", id)}
}

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)   { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)   { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any)  { l.base.Error(msg, args...) }

// Slog exposes the underlying *slog.Logger for interop with libraries that
// accept one directly (e.g. an otel bridge).
func (l *Logger) Slog() *slog.Logger { return l.base }
