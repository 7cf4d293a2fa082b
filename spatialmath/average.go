package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// ErrEmptyAverage is returned when averaging zero inputs or inputs whose weights sum to zero.
var ErrEmptyAverage = errors.New("cannot average zero weighted inputs")

// WeightedMeanPoint returns Σwᵢpᵢ / Σwᵢ.
func WeightedMeanPoint(points []r3.Vector, weights []float64) (r3.Vector, error) {
	if len(points) != len(weights) {
		return r3.Vector{}, errors.Errorf("got %d points and %d weights", len(points), len(weights))
	}
	total := floats.Sum(weights)
	if len(points) == 0 || total <= 0 {
		return r3.Vector{}, ErrEmptyAverage
	}
	var sum r3.Vector
	for i, p := range points {
		sum = sum.Add(p.Mul(weights[i]))
	}
	return sum.Mul(1 / total), nil
}

// AverageQuaternions returns the weighted average rotation of unit quaternions, computed as the
// eigenvector of M = Σ wᵢ qᵢ qᵢᵀ with the largest eigenvalue (Markley et al., 2007). The result is
// independent of the sign of each input and of input order, and is returned in canonical form.
func AverageQuaternions(qs []quat.Number, weights []float64) (quat.Number, error) {
	if len(qs) != len(weights) {
		return quat.Number{}, errors.Errorf("got %d quaternions and %d weights", len(qs), len(weights))
	}
	if len(qs) == 0 || floats.Sum(weights) <= 0 {
		return quat.Number{}, ErrEmptyAverage
	}

	accum := mat.NewSymDense(4, nil)
	for i, q := range qs {
		q = Normalize(q)
		v := mat.NewVecDense(4, []float64{q.Real, q.Imag, q.Jmag, q.Kmag})
		accum.SymRankOne(accum, weights[i], v)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(accum, true); !ok {
		return quat.Number{}, errors.New("eigen decomposition of quaternion accumulator failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	best := floats.MaxIdx(values)
	avg := quat.Number{
		Real: vectors.At(0, best),
		Imag: vectors.At(1, best),
		Jmag: vectors.At(2, best),
		Kmag: vectors.At(3, best),
	}
	return Canonical(avg), nil
}

// WeightedAngularSpread returns sqrt(Σwᵢθᵢ² / Σwᵢ) where θᵢ is the angle between qᵢ and mean.
func WeightedAngularSpread(qs []quat.Number, weights []float64, mean quat.Number) float64 {
	total := floats.Sum(weights)
	if total <= 0 {
		return 0
	}
	var acc float64
	for i, q := range qs {
		theta := QuaternionAngle(q, mean)
		acc += weights[i] * theta * theta
	}
	return math.Sqrt(acc / total)
}

// WeightedPositionSpread returns sqrt(Σwᵢ‖pᵢ - mean‖² / Σwᵢ).
func WeightedPositionSpread(points []r3.Vector, weights []float64, mean r3.Vector) float64 {
	total := floats.Sum(weights)
	if total <= 0 {
		return 0
	}
	var acc float64
	for i, p := range points {
		acc += weights[i] * p.Sub(mean).Norm2()
	}
	return math.Sqrt(acc / total)
}
