package logging

import (
	"testing"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// tbAppender writes lines through tb.Log so they are attributed to the test that produced them.
// Pipeline workers may still log while a test's cleanups stop them; once the test has finished
// those lines are dropped, since testing panics on Log after completion.
type tbAppender struct {
	tb       testing.TB
	finished *atomic.Bool
}

// NewTestAppender returns an appender that logs to tb until tb's cleanups run.
func NewTestAppender(tb testing.TB) Appender {
	finished := atomic.NewBool(false)
	tb.Cleanup(func() { finished.Store(true) })
	return tbAppender{tb: tb, finished: finished}
}

func (a tbAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if a.finished.Load() {
		return nil
	}
	a.tb.Helper()
	line, err := formatEntry(entry, fields)
	a.tb.Log(line)
	return err
}

func (a tbAppender) Sync() error {
	return nil
}

// NewTestLogger returns a new logger that outputs Debug+ logs to the test object in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also records every entry for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	const inUTC = false
	observerCore, observedLogs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	logger := &impl{"", NewAtomicLevelAt(DEBUG), inUTC, []Appender{NewTestAppender(tb), observerCore}}
	return logger, observedLogs
}
