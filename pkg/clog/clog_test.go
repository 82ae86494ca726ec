package clog

import (
	"bytes"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*ContextLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewContextLogger(&buf)
	l.handler.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l, &buf
}

func TestHandlerFormatsSortedFields(t *testing.T) {
	l, buf := newTestLogger()

	l.ForSession("123456").WithField("index", 3).Info("chunk accepted")

	assert.Equal(t, " INFO 2026-01-02 03:04:05 chunk accepted            code=123456 ctx=session:123456 index=3\n", buf.String())
}

func TestContextLevelIsIndependent(t *testing.T) {
	l, buf := newTestLogger()
	l.AddLoggingContext(SessionCtx("000001"), log.DebugLevel)

	l.ForSession("000001").Debug("visible")
	l.Global().Debug("hidden")

	assert.Contains(t, buf.String(), "visible")
	assert.NotContains(t, buf.String(), "hidden")

	require.NoError(t, l.SetLevelFromString(SessionCtx("000001"), "error"))
	assert.Equal(t, log.ErrorLevel, l.Level(SessionCtx("000001")))
	assert.Error(t, l.SetLevelFromString(GlobalLoggerCtx, "not-a-level"))
}

func TestSecurityEntryIsTagged(t *testing.T) {
	l, buf := newTestLogger()

	l.Security().Warn("path escape")

	assert.Contains(t, buf.String(), "security=true")
	assert.Contains(t, buf.String(), " WARN ")
}
