package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid transform: an orientation followed by a translation.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

// dualQuaternion stores a rigid transform as a unit dual quaternion: Real is the rotation and
// Dual is ½·t·Real for translation t.
type dualQuaternion struct {
	dualquat.Number
}

// NewZeroPose returns a pose with no translation and no rotation.
func NewZeroPose() Pose {
	return newDualQuaternion(r3.Vector{}, quat.Number{Real: 1})
}

// NewPose builds a pose from a translation and an orientation. A nil orientation is the identity.
func NewPose(point r3.Vector, o Orientation) Pose {
	q := quat.Number{Real: 1}
	if o != nil {
		q = o.Quaternion()
	}
	return newDualQuaternion(point, q)
}

// NewPoseFromRotationMatrix builds a pose from a rotation matrix and a translation.
func NewPoseFromRotationMatrix(point r3.Vector, rm *RotationMatrix) Pose {
	return newDualQuaternion(point, rm.Quaternion())
}

func newDualQuaternion(point r3.Vector, q quat.Number) *dualQuaternion {
	rot := Normalize(q)
	t := quat.Number{Imag: point.X, Jmag: point.Y, Kmag: point.Z}
	return &dualQuaternion{dualquat.Number{
		Real: rot,
		Dual: quat.Scale(0.5, quat.Mul(t, rot)),
	}}
}

// Point returns the translation of the pose.
func (dq *dualQuaternion) Point() r3.Vector {
	t := quat.Scale(2, quat.Mul(dq.Dual, quat.Conj(dq.Real)))
	return r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag}
}

// Orientation returns the rotation of the pose.
func (dq *dualQuaternion) Orientation() Orientation {
	q := quaternion(dq.Real)
	return &q
}

func (dq *dualQuaternion) String() string {
	pt := dq.Point()
	q := dq.Real
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f W:%.4f I:%.4f J:%.4f K:%.4f}", pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag)
}

func toDualQuaternion(p Pose) *dualQuaternion {
	if dq, ok := p.(*dualQuaternion); ok {
		return dq
	}
	return newDualQuaternion(p.Point(), p.Orientation().Quaternion())
}

// Compose returns the pose a∘b: b is applied first, then a. For a camera→world transform a and a
// marker→camera pose b the result is the marker→world pose.
func Compose(a, b Pose) Pose {
	result := dualquat.Mul(toDualQuaternion(a).Number, toDualQuaternion(b).Number)
	// Renormalize so that rounding does not accumulate across compositions.
	n := quat.Abs(result.Real)
	return &dualQuaternion{dualquat.Scale(1/n, result)}
}

// PoseInverse returns the pose that undoes p.
func PoseInverse(p Pose) Pose {
	q := quat.Conj(Normalize(p.Orientation().Quaternion()))
	return newDualQuaternion(RotatePoint(q, p.Point()).Mul(-1), q)
}

// TransformPoint applies the pose to a point.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	return RotatePoint(Normalize(p.Orientation().Quaternion()), pt).Add(p.Point())
}

// PoseAlmostEqual checks whether two poses are within 1e-6 in translation and rotation.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-6)
}

// PoseAlmostEqualEps checks whether two poses have translations within epsilon of each other and
// a rotation between them smaller than epsilon radians.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	if a.Point().Distance(b.Point()) > epsilon {
		return false
	}
	return QuaternionAngle(a.Orientation().Quaternion(), b.Orientation().Quaternion()) < epsilon
}
