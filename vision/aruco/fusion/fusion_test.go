package fusion

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/labviros/is-aruco-localization/spatialmath"
	"github.com/labviros/is-aruco-localization/vision/aruco/pose"
)

var frameTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func worldPose(id int, pt r3.Vector, rotation r3.Vector, quality, reprojErr float64) pose.MarkerPose {
	return pose.MarkerPose{
		ID:                id,
		Pose:              spatialmath.NewPose(pt, spatialmath.NewOrientationFromQuaternion(spatialmath.R3ToR4(rotation).ToQuat())),
		ReprojectionError: reprojErr,
		Frame:             pose.WorldFrame,
		MarkerFrameID:     pose.MarkerFrameOffset + id,
		ParentFrame:       "world",
		Quality:           quality,
		SideLength:        0.1,
	}
}

func newTestFuser(t *testing.T) *Fuser {
	t.Helper()
	f, err := NewFuser(DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	return f
}

func TestFuseNoPoses(t *testing.T) {
	f := newTestFuser(t)
	for _, poses := range [][]pose.MarkerPose{nil, {}} {
		res := f.Fuse("cam0", frameTime, poses)
		test.That(t, res.Status, test.ShouldEqual, StatusNoDetection)
		test.That(t, res.MarkerCount, test.ShouldEqual, 0)
		test.That(t, res.Confidence, test.ShouldEqual, 0.0)
		test.That(t, res.CameraID, test.ShouldEqual, "cam0")
		test.That(t, res.Timestamp, test.ShouldEqual, frameTime)
		test.That(t, spatialmath.PoseAlmostEqual(res.Pose, spatialmath.NewZeroPose()), test.ShouldBeTrue)
		test.That(t, res.Markers, test.ShouldBeEmpty)
	}
}

func TestFuseRejections(t *testing.T) {
	f := newTestFuser(t)
	camPose := worldPose(4, r3.Vector{X: 1}, r3.Vector{}, 0.9, 0.5)
	camPose.Frame = pose.CameraFrame
	poses := []pose.MarkerPose{
		worldPose(2, r3.Vector{X: 1}, r3.Vector{}, 0.1, 3.5),
		camPose,
	}

	res := f.Fuse("cam0", frameTime, poses)
	test.That(t, res.Status, test.ShouldEqual, StatusNoDetection)
	test.That(t, res.MarkerCount, test.ShouldEqual, 0)
	test.That(t, res.Accepted(), test.ShouldBeEmpty)
	rejected := res.Rejected()
	test.That(t, len(rejected), test.ShouldEqual, 2)
	test.That(t, rejected[0].ID, test.ShouldEqual, 2)
	test.That(t, rejected[0].Reason, test.ShouldEqual, ReasonReprojectionError)
	test.That(t, rejected[1].ID, test.ShouldEqual, 4)
	test.That(t, rejected[1].Reason, test.ShouldEqual, ReasonNotWorldFrame)

	t.Run("threshold is inclusive", func(t *testing.T) {
		res := f.Fuse("cam0", frameTime, []pose.MarkerPose{worldPose(2, r3.Vector{X: 1}, r3.Vector{}, 0.1, 3)})
		test.That(t, res.Status, test.ShouldEqual, StatusOK)
	})
}

func TestFuseSinglePose(t *testing.T) {
	f := newTestFuser(t)
	p := worldPose(7, r3.Vector{X: 1, Y: 2, Z: 0.5}, r3.Vector{Z: 0.3}, 0.95, 0.2)

	res := f.Fuse("cam0", frameTime, []pose.MarkerPose{p})
	test.That(t, res.Status, test.ShouldEqual, StatusOK)
	test.That(t, res.MarkerCount, test.ShouldEqual, 1)
	test.That(t, spatialmath.PoseAlmostEqual(res.Pose, p.Pose), test.ShouldBeTrue)
	test.That(t, res.Confidence, test.ShouldAlmostEqual, 0.95/(0.95+0.05))
	test.That(t, len(res.Markers), test.ShouldEqual, 1)
	test.That(t, res.Markers[0].Accepted, test.ShouldBeTrue)
	test.That(t, res.Markers[0].MarkerFrameID, test.ShouldEqual, 107)
}

func TestFuseOrderInvariant(t *testing.T) {
	f := newTestFuser(t)
	poses := []pose.MarkerPose{
		worldPose(1, r3.Vector{X: 1.00, Y: 2.00, Z: 0.5}, r3.Vector{Z: 0.30}, 0.90, 0.4),
		worldPose(2, r3.Vector{X: 1.01, Y: 1.99, Z: 0.5}, r3.Vector{Z: 0.31, X: 0.01}, 0.80, 0.7),
		worldPose(2, r3.Vector{X: 0.99, Y: 2.02, Z: 0.49}, r3.Vector{Z: 0.29}, 0.85, 0.6),
		worldPose(5, r3.Vector{X: 1.02, Y: 2.01, Z: 0.51}, r3.Vector{Z: 0.32, Y: -0.01}, 0.70, 1.1),
		worldPose(9, r3.Vector{X: 3, Y: 3, Z: 3}, r3.Vector{}, 0.20, 9),
	}
	want := f.Fuse("cam0", frameTime, poses)
	test.That(t, want.MarkerCount, test.ShouldEqual, 4)

	opts := cmp.Options{
		cmp.Comparer(func(a, b spatialmath.Pose) bool {
			return spatialmath.PoseAlmostEqualEps(a, b, 1e-12)
		}),
		cmpopts.EquateNaNs(),
	}
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 20; i++ {
		shuffled := append([]pose.MarkerPose(nil), poses...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := f.Fuse("cam0", frameTime, shuffled)
		test.That(t, cmp.Diff(want, got, opts), test.ShouldBeEmpty)
	}
}

func TestFuseAgreementRaisesConfidence(t *testing.T) {
	f := newTestFuser(t)
	agreeing := []pose.MarkerPose{
		worldPose(1, r3.Vector{X: 1.000, Y: 2.000, Z: 0.5}, r3.Vector{Z: 0.300}, 0.95, 0.3),
		worldPose(2, r3.Vector{X: 1.002, Y: 1.999, Z: 0.5}, r3.Vector{Z: 0.305}, 0.90, 0.5),
		worldPose(3, r3.Vector{X: 0.999, Y: 2.001, Z: 0.5}, r3.Vector{Z: 0.298}, 0.92, 0.4),
	}
	fused := f.Fuse("cam0", frameTime, agreeing)
	test.That(t, fused.MarkerCount, test.ShouldEqual, 3)
	for _, p := range agreeing {
		alone := f.Fuse("cam0", frameTime, []pose.MarkerPose{p})
		test.That(t, fused.Confidence, test.ShouldBeGreaterThan, alone.Confidence)
	}
	pair := f.Fuse("cam0", frameTime, agreeing[:2])
	test.That(t, fused.Confidence, test.ShouldBeGreaterThan, pair.Confidence)
}

func TestFuseDisagreementLowersConfidence(t *testing.T) {
	f := newTestFuser(t)
	agreeing := []pose.MarkerPose{
		worldPose(1, r3.Vector{X: 1.000, Y: 2.000, Z: 0.5}, r3.Vector{Z: 0.300}, 0.9, 0.3),
		worldPose(2, r3.Vector{X: 1.003, Y: 2.001, Z: 0.5}, r3.Vector{Z: 0.302}, 0.9, 0.3),
	}
	apart := []pose.MarkerPose{
		worldPose(1, r3.Vector{X: 1.0, Y: 2.0, Z: 0.5}, r3.Vector{Z: 0.3}, 0.9, 0.3),
		worldPose(2, r3.Vector{X: 1.3, Y: 2.0, Z: 0.5}, r3.Vector{Z: 0.3}, 0.9, 0.3),
	}
	twisted := []pose.MarkerPose{
		worldPose(1, r3.Vector{X: 1.000, Y: 2.000, Z: 0.5}, r3.Vector{Z: 0.3}, 0.9, 0.3),
		worldPose(2, r3.Vector{X: 1.003, Y: 2.001, Z: 0.5}, r3.Vector{Z: 1.2}, 0.9, 0.3),
	}
	good := f.Fuse("cam0", frameTime, agreeing)
	far := f.Fuse("cam0", frameTime, apart)
	turned := f.Fuse("cam0", frameTime, twisted)
	test.That(t, far.MarkerCount, test.ShouldEqual, good.MarkerCount)
	test.That(t, far.Confidence, test.ShouldBeLessThan, good.Confidence)
	test.That(t, turned.Confidence, test.ShouldBeLessThan, good.Confidence)
	test.That(t, far.Confidence, test.ShouldBeLessThan, 0.2)
	alone := f.Fuse("cam0", frameTime, apart[:1])
	test.That(t, far.Confidence, test.ShouldBeLessThan, alone.Confidence)
}

func TestFuseWithinSigmaRaisesConfidence(t *testing.T) {
	f := newTestFuser(t)
	deg := math.Pi / 180
	base := worldPose(1, r3.Vector{X: 1, Y: 2, Z: 0.5}, r3.Vector{Z: 0.3}, 0.95, 0.3)
	alone := f.Fuse("cam0", frameTime, []pose.MarkerPose{base})

	for _, tc := range []struct {
		name   string
		offset r3.Vector
		turn   float64
	}{
		{"3cm", r3.Vector{X: 0.03}, 0},
		{"4deg", r3.Vector{}, 4 * deg},
		{"6deg", r3.Vector{}, 6 * deg},
		{"half sigma both", r3.Vector{X: 0.05}, 5 * deg},
	} {
		t.Run(tc.name, func(t *testing.T) {
			other := worldPose(2, base.Pose.Point().Add(tc.offset), r3.Vector{Z: 0.3 + tc.turn}, 0.95, 0.3)
			pair := f.Fuse("cam0", frameTime, []pose.MarkerPose{base, other})
			test.That(t, pair.MarkerCount, test.ShouldEqual, 2)
			test.That(t, pair.Confidence, test.ShouldBeGreaterThan, alone.Confidence)
			test.That(t, pair.Confidence, test.ShouldAlmostEqual, 1.9/1.95, 1e-9)
		})
	}

	// unequal qualities still beat the better pose alone
	weak := worldPose(2, r3.Vector{X: 1.04, Y: 2, Z: 0.5}, r3.Vector{Z: 0.3 + 8*deg}, 0.1, 0.3)
	pair := f.Fuse("cam0", frameTime, []pose.MarkerPose{base, weak})
	test.That(t, pair.Confidence, test.ShouldBeGreaterThan, alone.Confidence)
}

func TestFusedPositionInsideHull(t *testing.T) {
	f := newTestFuser(t)
	a := worldPose(3, r3.Vector{X: 2.00, Y: 1.00, Z: 0.80}, r3.Vector{Z: 1.0}, 0.9, 0.4)
	b := worldPose(4, r3.Vector{X: 2.04, Y: 1.02, Z: 0.79}, r3.Vector{Z: 1.02}, 0.6, 0.8)

	res := f.Fuse("cam0", frameTime, []pose.MarkerPose{a, b})
	test.That(t, res.MarkerCount, test.ShouldEqual, 2)

	// inside the segment between the two estimates, nearer the better one
	pa, pb, got := a.Pose.Point(), b.Pose.Point(), res.Pose.Point()
	seg := pb.Sub(pa)
	s := got.Sub(pa).Dot(seg) / seg.Norm2()
	test.That(t, s, test.ShouldBeBetween, 0.0, 0.5)
	test.That(t, got.Distance(pa.Add(seg.Mul(s))), test.ShouldBeLessThan, 1e-12)
	test.That(t, s, test.ShouldAlmostEqual, 0.6/1.5)

	angle := spatialmath.AngleBetween(res.Pose.Orientation(), a.Pose.Orientation())
	test.That(t, angle, test.ShouldBeBetween, 0.0, 0.02)
}

func TestFuseZeroQuality(t *testing.T) {
	f := newTestFuser(t)
	res := f.Fuse("cam0", frameTime, []pose.MarkerPose{
		worldPose(1, r3.Vector{X: 0}, r3.Vector{}, 0, 0.5),
		worldPose(2, r3.Vector{X: 2}, r3.Vector{}, 0, 0.5),
	})
	test.That(t, res.Status, test.ShouldEqual, StatusOK)
	test.That(t, res.MarkerCount, test.ShouldEqual, 2)
	test.That(t, res.Confidence, test.ShouldEqual, 0.0)
	test.That(t, res.Pose.Point().X, test.ShouldAlmostEqual, 1)
}

func TestRejectedDiagnostic(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want RejectReason
	}{
		{errors.Wrap(pose.ErrUnknownMarkerSize, "marker 3"), ReasonUnknownSize},
		{errors.Wrap(pose.ErrDegenerateGeometry, "collinear"), ReasonDegenerateGeometry},
		{pose.ErrBehindCamera, ReasonBehindCamera},
		{errors.New("boom"), ReasonEstimationFailed},
	} {
		d := RejectedDiagnostic(3, tc.err)
		test.That(t, d.Reason, test.ShouldEqual, tc.want)
		test.That(t, d.Accepted, test.ShouldBeFalse)
		test.That(t, d.MarkerFrameID, test.ShouldEqual, 103)
		test.That(t, math.IsNaN(d.ReprojectionError), test.ShouldBeTrue)
	}

	var res LocalizationResult
	res.AppendDiagnostics(RejectedDiagnostic(9, pose.ErrBehindCamera), RejectedDiagnostic(1, pose.ErrUnknownMarkerSize))
	test.That(t, res.Markers[0].ID, test.ShouldEqual, 1)
	test.That(t, res.Markers[1].ID, test.ShouldEqual, 9)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
	_, err := NewFuser(Config{Kappa: 1})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reprojectionErrorThresholdPixels")
	test.That(t, err.Error(), test.ShouldContainSubstring, "positionSigmaMeters")
	test.That(t, err.Error(), test.ShouldNotContainSubstring, "kappa")
}
