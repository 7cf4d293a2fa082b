package calibration

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.viam.com/test"

	"github.com/labviros/is-aruco-localization/spatialmath"
)

var (
	testK        = [3][3]float64{{800, 0, 640}, {0, 800, 360}, {0, 0, 1}}
	testIdentity = [4][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	testSizes    = MarkerSizes{Default: 0.2, ByID: map[int]float64{7: 0.1}}
)

func TestNewCameraCalibration(t *testing.T) {
	tf := testIdentity
	tf[0][3], tf[2][3] = 1.5, 2
	calib, err := NewCameraCalibration("0", 1280, 720, testK, []float64{0.1, -0.05, 0, 0}, tf, testSizes)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, calib.CameraID, test.ShouldEqual, "0")
	test.That(t, calib.WorldFrame, test.ShouldEqual, DefaultWorldFrame)
	test.That(t, calib.Intrinsics.Fx, test.ShouldEqual, 800)
	test.That(t, calib.Distortion.RadialK1, test.ShouldEqual, 0.1)
	test.That(t, calib.CameraToWorld.Point(), test.ShouldResemble, r3.Vector{X: 1.5, Y: 0, Z: 2})
	test.That(t, calib.Model().Distortion, test.ShouldEqual, calib.Distortion)

	l, ok := calib.MarkerSize(7)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, l, test.ShouldEqual, 0.1)
	l, ok = calib.MarkerSize(3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, l, test.ShouldEqual, 0.2)

	onlySeven := calib.WithMarkerSizes(MarkerSizes{ByID: map[int]float64{7: 0.1}})
	_, ok = onlySeven.MarkerSize(3)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = calib.MarkerSize(3)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestNewCameraCalibrationAggregatesErrors(t *testing.T) {
	badK := testK
	badK[0][0] = -1
	badTF := testIdentity
	badTF[0][1] = 0.5
	_, err := NewCameraCalibration("0", 1280, 720, badK, []float64{1, 2, 3}, badTF, MarkerSizes{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(multierr.Errors(err)), test.ShouldEqual, 4)
	test.That(t, err.Error(), test.ShouldContainSubstring, "intrinsic")
	test.That(t, err.Error(), test.ShouldContainSubstring, "distortion")
	test.That(t, err.Error(), test.ShouldContainSubstring, "not orthonormal")
	test.That(t, err.Error(), test.ShouldContainSubstring, "no marker size")
}

func TestNewCameraCalibrationGeometry(t *testing.T) {
	t.Run("ill conditioned intrinsics", func(t *testing.T) {
		k := [3][3]float64{{1e9, 0, 640}, {0, 0.5, 360}, {0, 0, 1}}
		_, err := NewCameraCalibration("0", 1280, 720, k, nil, testIdentity, testSizes)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "ill conditioned")
	})

	t.Run("nonzero bottom row", func(t *testing.T) {
		k := testK
		k[2][0] = 0.1
		_, err := NewCameraCalibration("0", 1280, 720, k, nil, testIdentity, testSizes)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("reflection", func(t *testing.T) {
		tf := testIdentity
		tf[2][2] = -1
		_, err := NewCameraCalibration("0", 1280, 720, testK, nil, tf, testSizes)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "determinant")
	})

	t.Run("non finite translation", func(t *testing.T) {
		tf := testIdentity
		tf[1][3] = math.Inf(1)
		_, err := NewCameraCalibration("0", 1280, 720, testK, nil, tf, testSizes)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("bad homogeneous row", func(t *testing.T) {
		tf := testIdentity
		tf[3][3] = 2
		_, err := NewCameraCalibration("0", 1280, 720, testK, nil, tf, testSizes)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "bottom row")
	})
}

func TestScaledTo(t *testing.T) {
	calib, err := NewCameraCalibration("0", 1280, 720, testK, nil, testIdentity, testSizes)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, calib.ScaledTo(1280, 720), test.ShouldEqual, calib)

	half := calib.ScaledTo(640, 360)
	test.That(t, half.Intrinsics.Fx, test.ShouldAlmostEqual, 400)
	test.That(t, half.Intrinsics.Ppy, test.ShouldAlmostEqual, 180)
	test.That(t, half.Distortion, test.ShouldEqual, calib.Distortion)
	test.That(t, calib.Intrinsics.Fx, test.ShouldEqual, 800)
}

func TestMarkerSizes(t *testing.T) {
	test.That(t, testSizes.Validate(), test.ShouldBeNil)
	test.That(t, MarkerSizes{ByID: map[int]float64{1: 0.1}}.Validate(), test.ShouldBeNil)
	test.That(t, MarkerSizes{Default: -1}.Validate(), test.ShouldNotBeNil)
	test.That(t, MarkerSizes{Default: 1, ByID: map[int]float64{2: 0}}.Validate(), test.ShouldNotBeNil)
	test.That(t, MarkerSizes{Default: math.NaN()}.Validate(), test.ShouldNotBeNil)
}

func TestHomogeneousRoundTrip(t *testing.T) {
	pose := spatialmath.NewPose(
		r3.Vector{X: 1, Y: 2, Z: 3},
		&spatialmath.R4AA{Theta: 0.7, RX: 0, RY: 0, RZ: 1},
	)
	back, err := rigidTransform(homogeneous(pose))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(pose, back), test.ShouldBeTrue)
}
