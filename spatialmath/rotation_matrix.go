package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrix is a 3x3 matrix in row major order.
// m[3*r + c] is the element in the r'th row and c'th column.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates a rotation matrix from 9 row-major values. The values are checked
// for orthonormality and a positive determinant within 1e-4.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	var mat [9]float64
	copy(mat[:], m)
	rm := &RotationMatrix{mat}
	if err := rm.CheckRigid(1e-4); err != nil {
		return nil, err
	}
	return rm, nil
}

// RotationMatrixFromRows builds a rotation matrix from three row vectors without validation.
func RotationMatrixFromRows(r0, r1, r2 r3.Vector) *RotationMatrix {
	return &RotationMatrix{[9]float64{r0.X, r0.Y, r0.Z, r1.X, r1.Y, r1.Z, r2.X, r2.Y, r2.Z}}
}

// CheckRigid returns an error unless RᵀR is the identity and det(R) is +1, both within tol.
func (rm *RotationMatrix) CheckRigid(tol float64) error {
	for _, v := range rm.mat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("rotation matrix has non-finite entries")
		}
	}
	m := rm.mgl()
	rtr := m.Transpose().Mul3(m)
	ident := mgl64.Ident3()
	var worst float64
	for i := range rtr {
		worst = math.Max(worst, math.Abs(rtr[i]-ident[i]))
	}
	if worst > tol {
		return errors.Errorf("rotation matrix is not orthonormal (max |RᵀR - I| = %g)", worst)
	}
	if det := m.Det(); math.Abs(det-1) > tol {
		return errors.Errorf("rotation matrix determinant is %g, want +1", det)
	}
	return nil
}

func (rm *RotationMatrix) mgl() mgl64.Mat3 {
	return mgl64.Mat3FromRows(
		mgl64.Vec3{rm.mat[0], rm.mat[1], rm.mat[2]},
		mgl64.Vec3{rm.mat[3], rm.mat[4], rm.mat[5]},
		mgl64.Vec3{rm.mat[6], rm.mat[7], rm.mat[8]},
	)
}

// At returns the element at row r and column c.
func (rm *RotationMatrix) At(r, c int) float64 {
	return rm.mat[3*r+c]
}

// Row returns the r'th row as a vector.
func (rm *RotationMatrix) Row(r int) r3.Vector {
	return r3.Vector{X: rm.mat[3*r], Y: rm.mat[3*r+1], Z: rm.mat[3*r+2]}
}

// Col returns the c'th column as a vector.
func (rm *RotationMatrix) Col(c int) r3.Vector {
	return r3.Vector{X: rm.mat[c], Y: rm.mat[c+3], Z: rm.mat[c+6]}
}

// Rows returns the matrix as three row-major rows, the boundary form used by the wire codec.
func (rm *RotationMatrix) Rows() [3][3]float64 {
	return [3][3]float64{
		{rm.mat[0], rm.mat[1], rm.mat[2]},
		{rm.mat[3], rm.mat[4], rm.mat[5]},
		{rm.mat[6], rm.mat[7], rm.mat[8]},
	}
}

// Mul applies the rotation to a vector.
func (rm *RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(v), Y: rm.Row(1).Dot(v), Z: rm.Row(2).Dot(v)}
}

// Transpose returns the transposed matrix, which for a rotation is its inverse.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	m := rm.mat
	return &RotationMatrix{[9]float64{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}}
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (rm *RotationMatrix) RotationMatrix() *RotationMatrix {
	return rm
}

// AxisAngles returns the orientation in axis angle representation.
func (rm *RotationMatrix) AxisAngles() *R4AA {
	aa := QuatToR4AA(rm.Quaternion())
	return &aa
}

// EulerAngles returns orientation in Euler angle representation.
func (rm *RotationMatrix) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(rm.Quaternion())
}

// Quaternion converts the matrix to a unit quaternion, branching on the largest diagonal term to
// stay numerically stable near 180 degree rotations.
func (rm *RotationMatrix) Quaternion() quat.Number {
	m := rm.mat
	m00, m01, m02 := m[0], m[1], m[2]
	m10, m11, m12 := m[3], m[4], m[5]
	m20, m21, m22 := m[6], m[7], m[8]

	var q quat.Number
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	return Normalize(q)
}
