// Package pose estimates the camera relative pose of a detected marker from its four corners and
// maps it into the world frame of the camera's calibration.
package pose

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"github.com/labviros/is-aruco-localization/calibration"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/rimage/transform"
	"github.com/labviros/is-aruco-localization/spatialmath"
	"github.com/labviros/is-aruco-localization/vision/aruco"
)

// Frame tags the reference frame a pose is expressed in.
type Frame string

// The frames a MarkerPose can be expressed in.
const (
	CameraFrame Frame = "camera"
	WorldFrame  Frame = "world"
)

// MarkerFrameOffset is added to a marker id to name the marker's own frame.
const MarkerFrameOffset = 100

var (
	// ErrUnknownMarkerSize means no side length is configured for the marker id.
	ErrUnknownMarkerSize = errors.New("unknown marker size")
	// ErrDegenerateGeometry means the corners do not determine a pose.
	ErrDegenerateGeometry = errors.New("degenerate marker geometry")
	// ErrBehindCamera means every pose explaining the corners puts the marker behind the camera.
	ErrBehindCamera = errors.New("marker is behind the camera")
)

// MarkerPose is the pose of one marker. Pose maps marker frame points into ParentFrame.
type MarkerPose struct {
	ID   int
	Pose spatialmath.Pose
	// ReprojectionError is the mean pixel distance between the observed corners and the corners
	// projected from Pose.
	ReprojectionError float64
	Frame             Frame
	MarkerFrameID     int
	ParentFrame       string
	Quality           float64
	SideLength        float64
	// AmbiguityRatio is the best reprojection error over the error of the mirrored solution; 0
	// when both solutions coincide.
	AmbiguityRatio      float64
	DetectionConfidence float64
}

// Config tunes quality scoring and refinement.
type Config struct {
	// ReprojectionErrorScalePixels is the error at which quality drops to exp(-1/2).
	ReprojectionErrorScalePixels float64 `json:"reprojectionErrorScalePixels"`
	// Quality falls linearly from 1 at DistanceScoreNear meters to 0 at DistanceScoreFar. Disabled
	// when DistanceScoreFar <= DistanceScoreNear.
	DistanceScoreNear float64 `json:"distanceScoreNear"`
	DistanceScoreFar  float64 `json:"distanceScoreFar"`
	MaxIterations     int     `json:"maxIterations"`
}

// DefaultConfig returns the default estimator settings.
func DefaultConfig() Config {
	return Config{
		ReprojectionErrorScalePixels: 1,
		DistanceScoreNear:            3,
		DistanceScoreFar:             5,
		MaxIterations:                50,
	}
}

// Validate reports every invalid setting.
func (cfg Config) Validate() error {
	var err error
	if !(cfg.ReprojectionErrorScalePixels > 0) || math.IsInf(cfg.ReprojectionErrorScalePixels, 0) {
		err = multierr.Append(err, errors.Errorf(
			"reprojectionErrorScalePixels must be positive, got %v", cfg.ReprojectionErrorScalePixels))
	}
	if cfg.DistanceScoreNear < 0 || cfg.DistanceScoreFar < 0 {
		err = multierr.Append(err, errors.Errorf(
			"distance score range must not be negative, got [%v, %v]", cfg.DistanceScoreNear, cfg.DistanceScoreFar))
	}
	if cfg.MaxIterations < 0 {
		err = multierr.Append(err, errors.Errorf("maxIterations must not be negative, got %d", cfg.MaxIterations))
	}
	return err
}

// Estimator solves marker poses. It is stateless and safe for concurrent use.
type Estimator struct {
	cfg    Config
	logger logging.Logger
}

// NewEstimator returns an Estimator.
func NewEstimator(cfg Config, logger logging.Logger) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pose estimator config")
	}
	return &Estimator{cfg: cfg, logger: logger}, nil
}

// objectCorners returns the marker corners in the marker frame, in detection order: top-left,
// top-right, bottom-right, bottom-left as seen facing the marker.
func objectCorners(side float64) [4]r3.Vector {
	h := side / 2
	return [4]r3.Vector{
		{X: -h, Y: h},
		{X: h, Y: h},
		{X: h, Y: -h},
		{X: -h, Y: -h},
	}
}

// solution is a candidate rotation and translation taking marker points into the camera frame.
type solution struct {
	q   quat.Number
	t   r3.Vector
	err float64
}

func (s solution) apply(p r3.Vector) r3.Vector {
	return spatialmath.RotatePoint(s.q, p).Add(s.t)
}

// Estimate solves the camera relative pose of a marker. frameWidth and frameHeight give the
// resolution the corners were detected at; the calibration is rescaled when it differs.
func (e *Estimator) Estimate(
	m aruco.DetectedMarker,
	calib *calibration.CameraCalibration,
	frameWidth, frameHeight int,
) (MarkerPose, error) {
	side, ok := calib.MarkerSize(m.ID)
	if !ok {
		return MarkerPose{}, errors.Wrapf(ErrUnknownMarkerSize, "marker %d", m.ID)
	}
	if frameWidth > 0 && frameHeight > 0 {
		calib = calib.ScaledTo(frameWidth, frameHeight)
	}
	model := calib.Model()

	if err := checkCorners(m.Corners); err != nil {
		return MarkerPose{}, err
	}

	obj := objectCorners(side)
	objXY := make([]r2.Point, 4)
	normalized := make([]r2.Point, 4)
	for i := range obj {
		objXY[i] = r2.Point{X: obj[i].X, Y: obj[i].Y}
		normalized[i] = model.UndistortPixel(m.Corners[i])
	}
	h, err := transform.EstimateHomography(objXY, normalized, true)
	if err != nil {
		return MarkerPose{}, errors.Wrap(ErrDegenerateGeometry, err.Error())
	}
	camPose, err := transform.PoseFromPlanarHomography(h)
	if err != nil {
		return MarkerPose{}, errors.Wrap(ErrBehindCamera, err.Error())
	}
	initial, err := camPose.Pose()
	if err != nil {
		return MarkerPose{}, errors.Wrap(ErrDegenerateGeometry, err.Error())
	}

	first := solution{q: spatialmath.Normalize(initial.Orientation().Quaternion()), t: initial.Point()}
	problem := &reprojection{model: model, object: obj, observed: m.Corners}
	candidates := []solution{problem.refine(first, e.cfg.MaxIterations)}
	if mirrored, ok := mirror(first); ok {
		candidates = append(candidates, problem.refine(mirrored, e.cfg.MaxIterations))
	}

	best, second := -1, -1
	for i, c := range candidates {
		if math.IsInf(c.err, 1) || math.IsNaN(c.err) {
			continue
		}
		switch {
		case best < 0 || c.err < candidates[best].err:
			best, second = i, best
		case second < 0 || c.err < candidates[second].err:
			second = i
		}
	}
	if best < 0 {
		return MarkerPose{}, errors.Wrapf(ErrBehindCamera, "marker %d", m.ID)
	}
	sol := candidates[best]

	ambiguity := 0.0
	if second >= 0 {
		alt := candidates[second]
		distinct := spatialmath.QuaternionAngle(sol.q, alt.q) > 1e-3 || sol.t.Distance(alt.t) > 1e-6
		switch {
		case !distinct:
		case alt.err == 0:
			ambiguity = 1
		default:
			ambiguity = sol.err / alt.err
		}
	}

	quality := math.Exp(-0.5*math.Pow(sol.err/e.cfg.ReprojectionErrorScalePixels, 2)) * e.distanceScore(sol.t.Norm())
	if e.logger != nil {
		e.logger.Debugw("marker pose estimated",
			"camera", calib.CameraID, "marker", m.ID, "error", sol.err, "ambiguity", ambiguity)
	}
	return MarkerPose{
		ID:                  m.ID,
		Pose:                spatialmath.NewPose(sol.t, spatialmath.NewOrientationFromQuaternion(sol.q)),
		ReprojectionError:   sol.err,
		Frame:               CameraFrame,
		MarkerFrameID:       MarkerFrameOffset + m.ID,
		ParentFrame:         calib.CameraID,
		Quality:             quality,
		SideLength:          side,
		AmbiguityRatio:      ambiguity,
		DetectionConfidence: m.Confidence,
	}, nil
}

// distanceScore is 1 up to the near distance and falls linearly to 0 at the far distance.
func (e *Estimator) distanceScore(distance float64) float64 {
	near, far := e.cfg.DistanceScoreNear, e.cfg.DistanceScoreFar
	if far <= near {
		return 1
	}
	switch {
	case distance <= near:
		return 1
	case distance >= far:
		return 0
	default:
		return (far - distance) / (far - near)
	}
}

// checkCorners rejects corners that are not finite or where three of them are collinear.
func checkCorners(corners [4]r2.Point) error {
	var perimeter float64
	for i, p := range corners {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return errors.Wrapf(ErrDegenerateGeometry, "corner %d is not finite", i)
		}
		perimeter += corners[(i+1)%4].Sub(p).Norm()
	}
	minArea := 1e-6 * perimeter * perimeter
	for i := range corners {
		a, b, c := corners[i], corners[(i+1)%4], corners[(i+2)%4]
		if math.Abs(b.Sub(a).Cross(c.Sub(a))) <= minArea {
			return errors.Wrapf(ErrDegenerateGeometry, "corners %d, %d and %d are collinear", i, (i+1)%4, (i+2)%4)
		}
	}
	return nil
}

// mirror returns the second solution of the planar ambiguity: the marker normal reflected about
// the line of sight to the marker center. It reports false when the two coincide.
func mirror(s solution) (solution, bool) {
	n0 := spatialmath.RotatePoint(s.q, r3.Vector{Z: 1})
	sight := s.t.Normalize()
	n1 := sight.Mul(2 * n0.Dot(sight)).Sub(n0)
	axis := n0.Cross(n1)
	if axis.Norm() < 1e-9 {
		return solution{}, false
	}
	angle := math.Atan2(axis.Norm(), n0.Dot(n1))
	turn := spatialmath.R3ToR4(axis.Normalize().Mul(angle)).ToQuat()
	return solution{q: spatialmath.Normalize(quat.Mul(turn, s.q)), t: s.t}, true
}

// ToWorld expresses a camera relative marker pose in the calibration's world frame.
func ToWorld(p MarkerPose, calib *calibration.CameraCalibration) (MarkerPose, error) {
	if p.Frame != CameraFrame {
		return MarkerPose{}, errors.Errorf("marker %d pose is in the %s frame, want %s", p.ID, p.Frame, CameraFrame)
	}
	if p.Pose == nil {
		return MarkerPose{}, errors.Errorf("marker %d has no pose", p.ID)
	}
	out := p
	out.Pose = spatialmath.Compose(calib.CameraToWorld, p.Pose)
	out.Frame = WorldFrame
	out.ParentFrame = calib.WorldFrame
	return out, nil
}
