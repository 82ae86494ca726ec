package clog

import (
	"io"
	"os"

	"github.com/apex/log"
)

var clogger = NewContextLogger(os.Stdout)

func AddLoggingContext(ctx string, level log.Level) {
	clogger.AddLoggingContext(ctx, level)
}

func RemoveLoggingContext(ctx string) {
	clogger.RemoveLoggingContext(ctx)
}

func SetLevel(ctx string, level log.Level) {
	clogger.SetLevel(ctx, level)
}

func SetLevelFromString(ctx, s string) error {
	return clogger.SetLevelFromString(ctx, s)
}

func SetGlobalLoggerLevelFromString(s string) error {
	return clogger.SetLevelFromString(GlobalLoggerCtx, s)
}

func GlobalLevel() log.Level {
	return clogger.Level(GlobalLoggerCtx)
}

func SetOutput(w io.Writer) {
	clogger.SetOutput(w)
}

func UsingCtx(ctx string) *log.Entry {
	return clogger.UsingCtx(ctx)
}

func Global() *log.Entry {
	return clogger.Global()
}

func ForSession(code string) *log.Entry {
	return clogger.ForSession(code)
}

func Security() *log.Entry {
	return clogger.Security()
}
