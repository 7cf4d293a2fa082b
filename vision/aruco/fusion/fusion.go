// Package fusion combines the world frame marker poses seen in one camera frame into a single
// localization estimate.
package fusion

import (
	"math"
	"sort"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"

	"github.com/labviros/is-aruco-localization/spatialmath"
	"github.com/labviros/is-aruco-localization/vision/aruco/pose"
)

// Status is the outcome of one frame.
type Status string

// Frame outcomes.
const (
	StatusOK          Status = "OK"
	StatusNoDetection Status = "NO_DETECTION"
)

// RejectReason says why a marker did not contribute to the result.
type RejectReason string

// Rejection reasons.
const (
	ReasonNone               RejectReason = ""
	ReasonReprojectionError  RejectReason = "REPROJECTION_ERROR"
	ReasonNotWorldFrame      RejectReason = "NOT_WORLD_FRAME"
	ReasonUnknownSize        RejectReason = "UNKNOWN_SIZE"
	ReasonDegenerateGeometry RejectReason = "DEGENERATE_GEOMETRY"
	ReasonBehindCamera       RejectReason = "BEHIND_CAMERA"
	ReasonEstimationFailed   RejectReason = "ESTIMATION_FAILED"
)

// MarkerDiagnostic records what happened to one detected marker.
type MarkerDiagnostic struct {
	ID                int
	MarkerFrameID     int
	Accepted          bool
	Reason            RejectReason
	ReprojectionError float64
	Quality           float64
	// Pose is the marker pose in its last frame, nil when estimation failed.
	Pose spatialmath.Pose
}

// LocalizationResult is the single output of one pipeline cycle.
type LocalizationResult struct {
	CameraID   string
	Timestamp  time.Time
	Generation uint64
	Status     Status
	// Pose is the fused world pose, the identity when Status is StatusNoDetection.
	Pose        spatialmath.Pose
	Confidence  float64
	MarkerCount int
	Markers     []MarkerDiagnostic
}

// AppendDiagnostics adds diagnostics and keeps them in canonical order.
func (r *LocalizationResult) AppendDiagnostics(diags ...MarkerDiagnostic) {
	r.Markers = append(r.Markers, diags...)
	sort.SliceStable(r.Markers, func(i, j int) bool {
		return diagnosticLess(r.Markers[i], r.Markers[j])
	})
}

// Accepted returns the diagnostics of the markers that contributed.
func (r *LocalizationResult) Accepted() []MarkerDiagnostic {
	return lo.Filter(r.Markers, func(d MarkerDiagnostic, _ int) bool { return d.Accepted })
}

// Rejected returns the diagnostics of the markers that did not contribute.
func (r *LocalizationResult) Rejected() []MarkerDiagnostic {
	return lo.Filter(r.Markers, func(d MarkerDiagnostic, _ int) bool { return !d.Accepted })
}

// RejectedDiagnostic describes a marker whose pose could not be estimated.
func RejectedDiagnostic(id int, err error) MarkerDiagnostic {
	reason := ReasonEstimationFailed
	switch {
	case errors.Is(err, pose.ErrUnknownMarkerSize):
		reason = ReasonUnknownSize
	case errors.Is(err, pose.ErrDegenerateGeometry):
		reason = ReasonDegenerateGeometry
	case errors.Is(err, pose.ErrBehindCamera):
		reason = ReasonBehindCamera
	}
	return MarkerDiagnostic{
		ID:                id,
		MarkerFrameID:     pose.MarkerFrameOffset + id,
		Reason:            reason,
		ReprojectionError: math.NaN(),
	}
}

// Config tunes acceptance and confidence.
type Config struct {
	// ReprojectionErrorThresholdPixels is set from the top level service setting.
	ReprojectionErrorThresholdPixels float64 `json:"-"`
	// Kappa sets how much total quality is needed for high confidence: E/(E+Kappa).
	Kappa                float64 `json:"kappa"`
	PositionSigmaMeters  float64 `json:"positionSigmaMeters"`
	RotationSigmaRadians float64 `json:"rotationSigmaRadians"`
}

// DefaultConfig returns the default fusion settings.
func DefaultConfig() Config {
	return Config{
		ReprojectionErrorThresholdPixels: 3,
		Kappa:                            0.05,
		PositionSigmaMeters:              0.05,
		RotationSigmaRadians:             5 * math.Pi / 180,
	}
}

// Validate reports every invalid setting.
func (cfg Config) Validate() error {
	var err error
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"reprojectionErrorThresholdPixels", cfg.ReprojectionErrorThresholdPixels},
		{"kappa", cfg.Kappa},
		{"positionSigmaMeters", cfg.PositionSigmaMeters},
		{"rotationSigmaRadians", cfg.RotationSigmaRadians},
	} {
		if !(f.value > 0) || math.IsInf(f.value, 0) {
			err = multierr.Append(err, errors.Errorf("%s must be positive, got %v", f.name, f.value))
		}
	}
	return err
}

// Fuser combines marker poses. It is stateless.
type Fuser struct {
	cfg Config
}

// NewFuser returns a Fuser.
func NewFuser(cfg Config) (*Fuser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid fusion config")
	}
	return &Fuser{cfg: cfg}, nil
}

// Fuse combines the world frame marker poses of one frame. Poses with a reprojection error above
// the threshold or outside the world frame are rejected and only show up in the diagnostics.
// The result does not depend on the order of poses.
func (f *Fuser) Fuse(cameraID string, timestamp time.Time, poses []pose.MarkerPose) LocalizationResult {
	result := LocalizationResult{
		CameraID:  cameraID,
		Timestamp: timestamp,
		Status:    StatusNoDetection,
		Pose:      spatialmath.NewZeroPose(),
	}

	sorted := append([]pose.MarkerPose(nil), poses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return poseLess(sorted[i], sorted[j])
	})

	var accepted []pose.MarkerPose
	diags := make([]MarkerDiagnostic, 0, len(sorted))
	for _, p := range sorted {
		d := MarkerDiagnostic{
			ID:                p.ID,
			MarkerFrameID:     p.MarkerFrameID,
			ReprojectionError: p.ReprojectionError,
			Quality:           p.Quality,
			Pose:              p.Pose,
		}
		switch {
		case p.Frame != pose.WorldFrame || p.Pose == nil:
			d.Reason = ReasonNotWorldFrame
		case math.IsNaN(p.ReprojectionError) || p.ReprojectionError > f.cfg.ReprojectionErrorThresholdPixels:
			d.Reason = ReasonReprojectionError
		default:
			d.Accepted = true
			accepted = append(accepted, p)
		}
		diags = append(diags, d)
	}
	result.AppendDiagnostics(diags...)

	switch len(accepted) {
	case 0:
		return result
	case 1:
		q := accepted[0].Quality
		result.Pose = accepted[0].Pose
		result.Confidence = clamp01(q / (q + f.cfg.Kappa))
	default:
		result.Pose, result.Confidence = f.combine(accepted)
	}
	result.Status = StatusOK
	result.MarkerCount = len(accepted)
	return result
}

// combine fuses two or more poses: quality weighted mean position, quaternion average of the
// orientations, and a confidence that grows with total quality. Spread within one sigma costs
// nothing; beyond it confidence falls off as a gaussian in the excess.
func (f *Fuser) combine(poses []pose.MarkerPose) (spatialmath.Pose, float64) {
	points := make([]r3.Vector, len(poses))
	quats := make([]quat.Number, len(poses))
	weights := make([]float64, len(poses))
	for i, p := range poses {
		points[i] = p.Pose.Point()
		quats[i] = p.Pose.Orientation().Quaternion()
		weights[i] = math.Max(p.Quality, 0)
	}
	total := floats.Sum(weights)
	zeroQuality := !(total > 0)
	if zeroQuality {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	mean, err := spatialmath.WeightedMeanPoint(points, weights)
	if err != nil {
		return spatialmath.NewZeroPose(), 0
	}
	avg, err := spatialmath.AverageQuaternions(quats, weights)
	if err != nil {
		return spatialmath.NewZeroPose(), 0
	}
	fused := spatialmath.NewPose(mean, spatialmath.NewOrientationFromQuaternion(avg))
	if zeroQuality {
		return fused, 0
	}

	posExcess := excessSigmas(spatialmath.WeightedPositionSpread(points, weights, mean), f.cfg.PositionSigmaMeters)
	rotExcess := excessSigmas(spatialmath.WeightedAngularSpread(quats, weights, avg), f.cfg.RotationSigmaRadians)
	agreement := math.Exp(-0.5 * (posExcess*posExcess + rotExcess*rotExcess))
	return fused, clamp01(agreement * total / (total + f.cfg.Kappa))
}

// excessSigmas is how many sigmas spread lies beyond one sigma; zero when within it.
func excessSigmas(spread, sigma float64) float64 {
	return math.Max(0, spread/sigma-1)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// poseLess orders poses by id, then position, orientation and error so that accumulation order
// never depends on input order.
func poseLess(a, b pose.MarkerPose) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	ka, kb := poseKey(a.Pose), poseKey(b.Pose)
	for i := range ka {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	if a.ReprojectionError != b.ReprojectionError {
		return a.ReprojectionError < b.ReprojectionError
	}
	if a.Quality != b.Quality {
		return a.Quality < b.Quality
	}
	return a.Frame < b.Frame
}

func diagnosticLess(a, b MarkerDiagnostic) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if a.Accepted != b.Accepted {
		return a.Accepted
	}
	ka, kb := poseKey(a.Pose), poseKey(b.Pose)
	for i := range ka {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	return a.Reason < b.Reason
}

func poseKey(p spatialmath.Pose) [7]float64 {
	if p == nil {
		return [7]float64{}
	}
	pt := p.Point()
	q := spatialmath.Canonical(p.Orientation().Quaternion())
	return [7]float64{pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag}
}
