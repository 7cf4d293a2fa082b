package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateHomography is returned when point correspondences do not pin down a homography,
// for example when three of them are collinear.
var ErrDegenerateHomography = errors.New("degenerate point configuration for homography")

// Homography is a 3x3 projective transform of the plane, stored row-major.
type Homography [3][3]float64

// At returns the entry at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps a point through the homography. Points mapped to infinity come back with infinite
// coordinates.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	w := h[2][0]*pt.X + h[2][1]*pt.Y + h[2][2]
	x := h[0][0]*pt.X + h[0][1]*pt.Y + h[0][2]
	y := h[1][0]*pt.X + h[1][1]*pt.Y + h[1][2]
	if w == 0 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return r2.Point{X: x / w, Y: y / w}
}

// Dense returns the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Col returns column c.
func (h *Homography) Col(c int) [3]float64 {
	return [3]float64{h[0][c], h[1][c], h[2][c]}
}

// Inverse returns the inverse transform.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return homographyFromDense(&inv), nil
}

func homographyFromDense(m mat.Matrix) *Homography {
	var h Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = m.At(r, c)
		}
	}
	if h[2][2] != 0 {
		s := 1 / h[2][2]
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h[r][c] *= s
			}
		}
	}
	return &h
}

// EstimateHomography solves for the homography mapping each src point to its dst point with the
// direct linear transform. At least four correspondences are needed; with exactly four the fit is
// exact. When normalize is true both point sets are Hartley normalized first.
func EstimateHomography(src, dst []r2.Point, normalize bool) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets differ in size: %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences, got %d", len(src))
	}
	s, d := src, dst
	t1, t2 := eye(3), eye(3)
	if normalize {
		s, t1 = normalizePoints(src)
		d, t2 = normalizePoints(dst)
	}

	rows := 2 * len(s)
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range s {
		x, y := s[i].X, s[i].Y
		u, v := d[i].X, d[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	res := performSVD(a)
	if res == nil {
		return nil, errors.New("svd of homography system failed")
	}
	// the solution is only unique when the system has rank 8
	if res.S[0] == 0 || res.S[7]/res.S[0] < 1e-9 {
		return nil, ErrDegenerateHomography
	}
	hn := mat.NewDense(3, 3, mat.Col(nil, 8, res.V))

	// undo the normalization: H = T2^-1 * Hn * T1
	var t2Inv, tmp, full mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "normalization is not invertible")
	}
	tmp.Mul(&t2Inv, hn)
	full.Mul(&tmp, t1)
	if math.Abs(full.At(2, 2)) < 1e-12 {
		return nil, ErrDegenerateHomography
	}
	return homographyFromDense(&full), nil
}
