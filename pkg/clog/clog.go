// Package clog provides the logging used across mcdrop. All loggers share one
// Handler; a "context" is a named logger whose level can be raised or lowered on its
// own, for example to trace a single misbehaving session without turning on debug
// output for the whole daemon.
package clog

import (
	"fmt"
	"io"
	"sync"

	"github.com/apex/log"
)

const GlobalLoggerCtx = "global"

type ContextLogger struct {
	handler        *Handler
	GlobalLogger   *log.Logger
	ContextLoggers sync.Map
}

func NewContextLogger(w io.Writer) *ContextLogger {
	h := NewHandler(w)
	return &ContextLogger{
		handler:      h,
		GlobalLogger: &log.Logger{Handler: h, Level: log.InfoLevel},
	}
}

// AddLoggingContext registers a named logger starting at level.
func (l *ContextLogger) AddLoggingContext(ctx string, level log.Level) {
	l.ContextLoggers.Store(ctx, &log.Logger{Handler: l.handler, Level: level})
}

func (l *ContextLogger) RemoveLoggingContext(ctx string) {
	l.ContextLoggers.Delete(ctx)
}

func (l *ContextLogger) SetLevel(ctx string, level log.Level) {
	if ctx == GlobalLoggerCtx {
		l.GlobalLogger.Level = level
		return
	}

	if logger := l.contextLogger(ctx); logger != nil {
		logger.Level = level
	}
}

func (l *ContextLogger) SetLevelFromString(ctx, s string) error {
	level, err := log.ParseLevel(s)
	if err != nil {
		return err
	}

	l.SetLevel(ctx, level)
	return nil
}

func (l *ContextLogger) Level(ctx string) log.Level {
	if logger := l.contextLogger(ctx); logger != nil {
		return logger.Level
	}

	return l.GlobalLogger.Level
}

func (l *ContextLogger) SetOutput(w io.Writer) {
	l.handler.SetOutput(w)
}

// UsingCtx returns an entry for the named context, falling back to the global logger
// when the context was never added.
func (l *ContextLogger) UsingCtx(ctx string) *log.Entry {
	if logger := l.contextLogger(ctx); logger != nil {
		return logger.WithField("ctx", ctx)
	}

	return l.GlobalLogger.WithField("ctx", ctx)
}

func (l *ContextLogger) Global() *log.Entry {
	return l.UsingCtx(GlobalLoggerCtx)
}

// ForSession returns an entry tagged with a transfer session code.
func (l *ContextLogger) ForSession(code string) *log.Entry {
	return l.UsingCtx(SessionCtx(code)).WithField("code", code)
}

// Security returns an entry for security relevant events such as a sandbox escape.
func (l *ContextLogger) Security() *log.Entry {
	return l.Global().WithField("security", true)
}

func SessionCtx(code string) string {
	return fmt.Sprintf("session:%s", code)
}

func (l *ContextLogger) contextLogger(ctx string) *log.Logger {
	logger, ok := l.ContextLoggers.Load(ctx)
	if !ok {
		return nil
	}

	clogger, _ := logger.(*log.Logger)
	return clogger
}
