package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

var unitSquare = []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}

func TestEstimateHomographyExact(t *testing.T) {
	quad := []r2.Point{{X: 100, Y: 120}, {X: 210, Y: 100}, {X: 230, Y: 260}, {X: 90, Y: 240}}
	for _, normalize := range []bool{true, false} {
		h, err := EstimateHomography(unitSquare, quad, normalize)
		test.That(t, err, test.ShouldBeNil)
		for i, p := range unitSquare {
			q := h.Apply(p)
			test.That(t, q.X, test.ShouldAlmostEqual, quad[i].X, 1e-6)
			test.That(t, q.Y, test.ShouldAlmostEqual, quad[i].Y, 1e-6)
		}
		test.That(t, h.At(2, 2), test.ShouldAlmostEqual, 1)

		inv, err := h.Inverse()
		test.That(t, err, test.ShouldBeNil)
		back := inv.Apply(quad[2])
		test.That(t, back.X, test.ShouldAlmostEqual, 1, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, 1, 1e-9)
	}
}

func TestEstimateHomographyOverdetermined(t *testing.T) {
	truth := &Homography{{1.2, 0.1, 30}, {-0.05, 0.9, 12}, {0.0004, -0.0002, 1}}
	var src, dst []r2.Point
	for y := 0.0; y <= 100; y += 25 {
		for x := 0.0; x <= 100; x += 25 {
			p := r2.Point{X: x, Y: y}
			src = append(src, p)
			dst = append(dst, truth.Apply(p))
		}
	}
	h, err := EstimateHomography(src, dst, true)
	test.That(t, err, test.ShouldBeNil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			test.That(t, h.At(r, c), test.ShouldAlmostEqual, truth.At(r, c), 1e-8)
		}
	}
}

func TestEstimateHomographyDegenerate(t *testing.T) {
	collinear := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	_, err := EstimateHomography(unitSquare, collinear, true)
	test.That(t, errors.Is(err, ErrDegenerateHomography), test.ShouldBeTrue)

	_, err = EstimateHomography(unitSquare[:3], collinear[:3], true)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EstimateHomography(unitSquare, collinear[:3], true)
	test.That(t, err, test.ShouldNotBeNil)

	singular := &Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 0}}
	_, err = singular.Inverse()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, math.IsInf(singular.Apply(r2.Point{X: 1, Y: 1}).X, 1), test.ShouldBeTrue)
}

func TestPoseFromPlanarHomography(t *testing.T) {
	angle := 20 * math.Pi / 180
	rot := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(angle), -math.Sin(angle),
		0, math.Sin(angle), math.Cos(angle),
	})
	trans := r3.Vector{X: 0.1, Y: -0.05, Z: 1.2}

	for _, scale := range []float64{3, -0.5} {
		var h Homography
		for r := 0; r < 3; r++ {
			h[r][0] = scale * rot.At(r, 0)
			h[r][1] = scale * rot.At(r, 1)
		}
		h[0][2], h[1][2], h[2][2] = scale*trans.X, scale*trans.Y, scale*trans.Z

		camPose, err := PoseFromPlanarHomography(&h)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mat.EqualApprox(camPose.Rotation, rot, 1e-9), test.ShouldBeTrue)
		test.That(t, camPose.Translation.Sub(trans).Norm(), test.ShouldBeLessThan, 1e-9)

		pose, err := camPose.Pose()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.Point().Sub(trans).Norm(), test.ShouldBeLessThan, 1e-9)
	}

	_, err := PoseFromPlanarHomography(&Homography{})
	test.That(t, errors.Is(err, ErrDegenerateHomography), test.ShouldBeTrue)
}

func TestNearestRotation(t *testing.T) {
	noisy := mat.NewDense(3, 3, []float64{
		1.01, 0.02, 0,
		-0.01, 0.99, 0.01,
		0, 0.005, 1.02,
	})
	r := NearestRotation(noisy)
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	test.That(t, mat.EqualApprox(&rtr, eye(3), 1e-12), test.ShouldBeTrue)
	test.That(t, mat.Det(r), test.ShouldAlmostEqual, 1)

	reflection := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
	test.That(t, mat.Det(NearestRotation(reflection)), test.ShouldAlmostEqual, 1)
}
