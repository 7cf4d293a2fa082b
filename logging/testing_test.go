package logging

import (
	"testing"

	"go.viam.com/test"
)

// recordingTB captures Log lines and cleanups instead of handing them to the real test.
type recordingTB struct {
	testing.TB
	lines    []string
	cleanups []func()
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Log(args ...any) {
	for _, a := range args {
		r.lines = append(r.lines, a.(string))
	}
}

func (r *recordingTB) Cleanup(f func()) {
	r.cleanups = append(r.cleanups, f)
}

func TestTestAppenderDropsLinesAfterCleanup(t *testing.T) {
	tb := &recordingTB{TB: t}
	logger := &impl{"pipeline", NewAtomicLevelAt(DEBUG), true, []Appender{NewTestAppender(tb)}}

	logger.Infow("frame accepted", "camera_id", "0")
	test.That(t, tb.lines, test.ShouldHaveLength, 1)
	test.That(t, tb.lines[0], test.ShouldContainSubstring, "INFO\tpipeline")
	test.That(t, tb.lines[0], test.ShouldEndWith, `frame accepted	{"camera_id":"0"}`)
	test.That(t, tb.cleanups, test.ShouldHaveLength, 1)

	for _, f := range tb.cleanups {
		f()
	}
	logger.Warn("worker still running")
	test.That(t, tb.lines, test.ShouldHaveLength, 1)
}
