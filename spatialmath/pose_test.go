package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestPoseCompose(t *testing.T) {
	// camera -> world: camera 2m up, looking along world +x.
	cameraToWorld := NewPose(r3.Vector{Z: 2}, &EulerAngles{Yaw: math.Pi / 2})
	markerInCamera := NewPose(r3.Vector{X: 1}, NewZeroOrientation())

	world := Compose(cameraToWorld, markerInCamera)
	test.That(t, world.Point().X, test.ShouldAlmostEqual, 0)
	test.That(t, world.Point().Y, test.ShouldAlmostEqual, 1)
	test.That(t, world.Point().Z, test.ShouldAlmostEqual, 2)
	test.That(t, world.Orientation().EulerAngles().Yaw, test.ShouldAlmostEqual, math.Pi/2)

	pt := TransformPoint(world, r3.Vector{X: 1})
	test.That(t, pt.X, test.ShouldAlmostEqual, 0)
	test.That(t, pt.Y, test.ShouldAlmostEqual, 2)
	test.That(t, pt.Z, test.ShouldAlmostEqual, 2)
}

func TestPoseInverse(t *testing.T) {
	p := NewPose(r3.Vector{X: 0.3, Y: -1.2, Z: 4}, &R4AA{Theta: 1.1, RX: 1, RY: 2, RZ: -0.5})
	ident := Compose(p, PoseInverse(p))
	test.That(t, PoseAlmostEqualEps(ident, NewZeroPose(), 1e-9), test.ShouldBeTrue)
	ident = Compose(PoseInverse(p), p)
	test.That(t, PoseAlmostEqualEps(ident, NewZeroPose(), 1e-9), test.ShouldBeTrue)
}

func TestPoseFromRotationMatrix(t *testing.T) {
	p := NewPoseFromRotationMatrix(r3.Vector{Z: 1}, rm45x)
	assertQuatAlmostEqual(t, p.Orientation().Quaternion(), q45x)
	test.That(t, p.Point().X, test.ShouldAlmostEqual, 0)
	test.That(t, p.Point().Z, test.ShouldAlmostEqual, 1)
	test.That(t, PoseAlmostEqual(p, NewPose(r3.Vector{Z: 1}, aa45x)), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(p, NewPose(r3.Vector{Z: 1.1}, aa45x)), test.ShouldBeFalse)
}

func TestAverageQuaternions(t *testing.T) {
	a := (&R4AA{Theta: 0.1, RZ: 1}).ToQuat()
	b := (&R4AA{Theta: 0.3, RZ: 1}).ToQuat()

	// The sign of an input does not change the average.
	avg, err := AverageQuaternions([]quat.Number{a, Flip(b)}, []float64{1, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, QuatToR4AA(avg).Theta, test.ShouldAlmostEqual, 0.2, 1e-3)
	test.That(t, avg.Real, test.ShouldBeGreaterThan, 0)

	// Weights pull the mean toward the heavier input.
	avg, err = AverageQuaternions([]quat.Number{a, b}, []float64{3, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, QuatToR4AA(avg).Theta, test.ShouldBeLessThan, 0.2)
	test.That(t, quat.Abs(avg), test.ShouldAlmostEqual, 1)

	_, err = AverageQuaternions(nil, nil)
	test.That(t, err, test.ShouldEqual, ErrEmptyAverage)
	_, err = AverageQuaternions([]quat.Number{a}, []float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWeightedMeansAndSpread(t *testing.T) {
	pts := []r3.Vector{{X: 0}, {X: 1}}
	mean, err := WeightedMeanPoint(pts, []float64{1, 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mean.X, test.ShouldAlmostEqual, 0.75)

	spread := WeightedPositionSpread(pts, []float64{1, 1}, r3.Vector{X: 0.5})
	test.That(t, spread, test.ShouldAlmostEqual, 0.5)

	_, err = WeightedMeanPoint(pts, []float64{0, 0})
	test.That(t, err, test.ShouldEqual, ErrEmptyAverage)

	qs := []quat.Number{(&R4AA{Theta: 0.1, RX: 1}).ToQuat(), (&R4AA{Theta: -0.1, RX: 1}).ToQuat()}
	test.That(t, WeightedAngularSpread(qs, []float64{1, 1}, quat.Number{Real: 1}), test.ShouldAlmostEqual, 0.1, 1e-6)
}
