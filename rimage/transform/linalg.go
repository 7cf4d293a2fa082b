package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints applies Hartley normalization: the points are centered on their centroid and
// scaled so the mean distance to it is sqrt(2). The returned matrix maps original points to
// normalized ones in homogeneous coordinates.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	var mu r2.Point
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T
}

func transposeDense(m *mat.Dense) *mat.Dense {
	var t mat.Dense
	t.CloneFrom(m.T())
	return &t
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  []float64
}

// performSVD returns the full decomposition, or nil when the factorization failed.
func performSVD(inputMatrix mat.Matrix) *matsSVD {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil
	}
	u, v := &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	return &matsSVD{U: u, V: v, VT: transposeDense(v), S: svd.Values(nil)}
}

// NearestRotation projects a 3x3 matrix onto SO(3) in the Frobenius sense.
func NearestRotation(m mat.Matrix) *mat.Dense {
	res := performSVD(m)
	if res == nil {
		return nil
	}
	var r mat.Dense
	r.Mul(res.U, res.VT)
	if mat.Det(&r) < 0 {
		// flip the axis of the smallest singular value
		d := eye(3)
		d.Set(2, 2, -1)
		var ud mat.Dense
		ud.Mul(res.U, d)
		r.Mul(&ud, res.VT)
	}
	return &r
}
