package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/labviros/is-aruco-localization/spatialmath"
)

// CamPose is a rigid transform taking object frame points into the camera frame.
type CamPose struct {
	Rotation    *mat.Dense
	Translation r3.Vector
}

// Pose converts the camera pose to a spatialmath.Pose.
func (cp *CamPose) Pose() (spatialmath.Pose, error) {
	data := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			data = append(data, cp.Rotation.At(r, c))
		}
	}
	rm, err := spatialmath.NewRotationMatrix(data)
	if err != nil {
		return nil, err
	}
	return spatialmath.NewPoseFromRotationMatrix(cp.Translation, rm), nil
}

// adjustPoseSign picks the overall sign of a homography decomposition so that the object lies in
// front of the camera.
func adjustPoseSign(scale float64, t r3.Vector) float64 {
	if t.Mul(scale).Z < 0 {
		return -scale
	}
	return scale
}

// PoseFromPlanarHomography decomposes a homography taking points of the z = 0 object plane (in
// meters) to normalized image coordinates into the pose of that plane. H is proportional to
// [r1 r2 t]; the rotation is re-orthonormalized since noise leaves r1 and r2 slightly skewed.
func PoseFromPlanarHomography(h *Homography) (*CamPose, error) {
	colVec := func(c int) r3.Vector {
		col := h.Col(c)
		return r3.Vector{X: col[0], Y: col[1], Z: col[2]}
	}
	h1, h2, h3 := colVec(0), colVec(1), colVec(2)
	n1, n2 := h1.Norm(), h2.Norm()
	if n1 == 0 || n2 == 0 {
		return nil, ErrDegenerateHomography
	}
	scale := adjustPoseSign(2/(n1+n2), h3)

	r1 := h1.Mul(scale)
	r2 := h2.Mul(scale)
	r3v := r1.Cross(r2)
	t := h3.Mul(scale)
	if t.Z <= 0 {
		return nil, errors.New("plane is not in front of the camera")
	}

	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	rot := NearestRotation(approx)
	if rot == nil {
		return nil, errors.New("could not orthonormalize rotation")
	}
	return &CamPose{Rotation: rot, Translation: t}, nil
}
