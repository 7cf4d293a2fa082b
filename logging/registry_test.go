package logging

import (
	"testing"

	"go.viam.com/test"
)

func TestValidatePattern(t *testing.T) {
	for _, p := range []string{"aruco", "aruco.pipeline", "aruco.*", "*", "aruco.cam-01.fusion", "a_b.*.c"} {
		test.That(t, validatePattern(p), test.ShouldBeTrue)
	}
	for _, p := range []string{"", ".", "aruco.", "aruco..pipeline", "aruco/pipeline", "-a"} {
		test.That(t, validatePattern(p), test.ShouldBeFalse)
	}
}

func TestRegistryUpdateConfig(t *testing.T) {
	reg := newRegistry()
	pipeline := NewBlankLogger("aruco.pipeline")
	fusion := NewBlankLogger("aruco.fusion")
	other := NewBlankLogger("bus")
	reg.register(pipeline.Name(), pipeline)
	reg.register(fusion.Name(), fusion)
	reg.register(other.Name(), other)

	err := reg.UpdateConfig([]LoggerPatternConfig{
		{Pattern: "aruco.*", Level: "warn"},
		{Pattern: "aruco.fusion", Level: "error"},
		{Pattern: "bad..pattern", Level: "info"},
	}, NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad..pattern")

	test.That(t, pipeline.GetLevel(), test.ShouldEqual, WARN)
	test.That(t, fusion.GetLevel(), test.ShouldEqual, ERROR)
	test.That(t, other.GetLevel(), test.ShouldEqual, DEBUG)

	// Loggers registered after the config is set pick it up too.
	late := NewBlankLogger("aruco.detector")
	reg.register(late.Name(), late)
	test.That(t, late.GetLevel(), test.ShouldEqual, WARN)

	got, ok := reg.loggerNamed("aruco.detector")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, late)
	test.That(t, reg.loggerNames(), test.ShouldResemble, []string{"aruco.detector", "aruco.fusion", "aruco.pipeline", "bus"})
}
