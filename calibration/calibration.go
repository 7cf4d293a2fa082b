// Package calibration holds the static per camera calibration: intrinsics, lens distortion and
// the camera to world transform, plus the physical size of the markers the camera looks at.
package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/labviros/is-aruco-localization/rimage/transform"
	"github.com/labviros/is-aruco-localization/spatialmath"
)

const (
	// DefaultWorldFrame names the shared frame extrinsics point into.
	DefaultWorldFrame = "world"

	maxConditionNumber = 1e8
	rigidTolerance     = 1e-4
)

// MarkerSizes maps marker ids to physical side lengths in meters. Default applies to every id
// without an entry in ByID; zero means unknown.
type MarkerSizes struct {
	Default float64
	ByID    map[int]float64
}

// Size returns the side length for a marker id.
func (s MarkerSizes) Size(id int) (float64, bool) {
	if l, ok := s.ByID[id]; ok {
		return l, true
	}
	if s.Default > 0 {
		return s.Default, true
	}
	return 0, false
}

// Validate checks that every configured length is positive and that at least one is set.
func (s MarkerSizes) Validate() error {
	var err error
	if s.Default < 0 || math.IsNaN(s.Default) || math.IsInf(s.Default, 0) {
		err = multierr.Append(err, errors.Errorf("default marker size must be positive, got %v", s.Default))
	}
	for id, l := range s.ByID {
		if !(l > 0) || math.IsInf(l, 0) {
			err = multierr.Append(err, errors.Errorf("marker %d size must be positive, got %v", id, l))
		}
	}
	if s.Default == 0 && len(s.ByID) == 0 {
		err = multierr.Append(err, errors.New("no marker size configured"))
	}
	return err
}

// CameraCalibration is immutable once built and shared read-only between pipeline cycles.
type CameraCalibration struct {
	CameraID      string
	Intrinsics    *transform.PinholeCameraIntrinsics
	Distortion    *transform.BrownConrady
	CameraToWorld spatialmath.Pose
	WorldFrame    string
	MarkerSizes   MarkerSizes
}

// NewCameraCalibration validates the raw calibration values and builds a CameraCalibration.
// k is the row-major intrinsic matrix, distortion follows OpenCV order (k1, k2, p1, p2[, k3]) and
// cameraToWorld is a row-major homogeneous transform taking camera frame points to the world.
// Every problem found is reported.
func NewCameraCalibration(
	cameraID string,
	width, height int,
	k [3][3]float64,
	distortion []float64,
	cameraToWorld [4][4]float64,
	sizes MarkerSizes,
) (*CameraCalibration, error) {
	var errs error

	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromMatrix(k, width, height)
	if err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "intrinsic"))
	} else if cond := intrinsics.ConditionNumber(); math.IsNaN(cond) || cond > maxConditionNumber {
		errs = multierr.Append(errs, errors.Errorf("intrinsic matrix is ill conditioned (condition number %g)", cond))
	}

	bc, err := transform.NewBrownConradyFromOpenCV(distortion)
	if err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "distortion"))
	}

	pose, err := rigidTransform(cameraToWorld)
	if err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "extrinsic"))
	}

	if err := sizes.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		return nil, errs
	}
	return &CameraCalibration{
		CameraID:      cameraID,
		Intrinsics:    intrinsics,
		Distortion:    bc,
		CameraToWorld: pose,
		WorldFrame:    DefaultWorldFrame,
		MarkerSizes:   sizes,
	}, nil
}

func rigidTransform(tf [4][4]float64) (spatialmath.Pose, error) {
	if tf[3] != [4]float64{0, 0, 0, 1} {
		return nil, errors.Errorf("bottom row is %v, want [0 0 0 1]", tf[3])
	}
	t := r3.Vector{X: tf[0][3], Y: tf[1][3], Z: tf[2][3]}
	for _, v := range []float64{t.X, t.Y, t.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("translation is not finite")
		}
	}
	rm := spatialmath.RotationMatrixFromRows(
		r3.Vector{X: tf[0][0], Y: tf[0][1], Z: tf[0][2]},
		r3.Vector{X: tf[1][0], Y: tf[1][1], Z: tf[1][2]},
		r3.Vector{X: tf[2][0], Y: tf[2][1], Z: tf[2][2]},
	)
	if err := rm.CheckRigid(rigidTolerance); err != nil {
		return nil, err
	}
	return spatialmath.NewPoseFromRotationMatrix(t, rm), nil
}

// Model returns the lens model of the camera at its calibrated resolution.
func (c *CameraCalibration) Model() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: c.Intrinsics, Distortion: c.Distortion}
}

// ScaledTo returns the calibration for frames of another resolution. Distortion is expressed in
// normalized coordinates and does not change.
func (c *CameraCalibration) ScaledTo(width, height int) *CameraCalibration {
	if width == c.Intrinsics.Width && height == c.Intrinsics.Height {
		return c
	}
	scaled := *c
	scaled.Intrinsics = c.Intrinsics.ScaledTo(width, height)
	return &scaled
}

// MarkerSize returns the side length of a marker id in meters.
func (c *CameraCalibration) MarkerSize(id int) (float64, bool) {
	return c.MarkerSizes.Size(id)
}

// WithMarkerSizes returns a copy using other marker sizes.
func (c *CameraCalibration) WithMarkerSizes(sizes MarkerSizes) *CameraCalibration {
	out := *c
	out.MarkerSizes = sizes
	return &out
}
