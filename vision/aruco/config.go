package aruco

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DetectorConfig tunes candidate search, decoding and corner refinement. Rates are relative to
// the larger image dimension (perimeters) or to the candidate's own perimeter (distances).
type DetectorConfig struct {
	AdaptiveThreshWinSizeMin  int     `json:"adaptiveThreshWinSizeMin"`
	AdaptiveThreshWinSizeMax  int     `json:"adaptiveThreshWinSizeMax"`
	AdaptiveThreshWinSizeStep int     `json:"adaptiveThreshWinSizeStep"`
	AdaptiveThreshConstant    float64 `json:"adaptiveThreshConstant"`

	MinMarkerPerimeterRate      float64 `json:"minMarkerPerimeterRate"`
	MaxMarkerPerimeterRate      float64 `json:"maxMarkerPerimeterRate"`
	PolygonalApproxAccuracyRate float64 `json:"polygonalApproxAccuracyRate"`
	MinCornerDistanceRate       float64 `json:"minCornerDistanceRate"`
	MinDistanceToBorder         int     `json:"minDistanceToBorder"`
	MinMarkerDistanceRate       float64 `json:"minMarkerDistanceRate"`
	MaxOppositeSideRatio        float64 `json:"maxOppositeSideRatio"`
	MaxCandidates               int     `json:"maxCandidates"`

	PerspectiveRemovePixelPerCell         int     `json:"perspectiveRemovePixelPerCell"`
	PerspectiveRemoveIgnoredMarginPerCell float64 `json:"perspectiveRemoveIgnoredMarginPerCell"`
	MaxErroneousBitsInBorderRate          float64 `json:"maxErroneousBitsInBorderRate"`
	MinOtsuStdDev                         float64 `json:"minOtsuStdDev"`
	ErrorCorrectionRate                   float64 `json:"errorCorrectionRate"`

	CornerRefinementWinSize       int     `json:"cornerRefinementWinSize"`
	CornerRefinementMaxIterations int     `json:"cornerRefinementMaxIterations"`
	CornerRefinementMinAccuracy   float64 `json:"cornerRefinementMinAccuracy"`

	PreBlurSigma float64 `json:"preBlurSigma"`
}

// DefaultDetectorConfig returns the stock detector settings.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		AdaptiveThreshWinSizeMin:              3,
		AdaptiveThreshWinSizeMax:              23,
		AdaptiveThreshWinSizeStep:             10,
		AdaptiveThreshConstant:                7,
		MinMarkerPerimeterRate:                0.03,
		MaxMarkerPerimeterRate:                4,
		PolygonalApproxAccuracyRate:           0.03,
		MinCornerDistanceRate:                 0.05,
		MinDistanceToBorder:                   3,
		MinMarkerDistanceRate:                 0.05,
		MaxOppositeSideRatio:                  4,
		MaxCandidates:                         256,
		PerspectiveRemovePixelPerCell:         4,
		PerspectiveRemoveIgnoredMarginPerCell: 0.13,
		MaxErroneousBitsInBorderRate:          0.35,
		MinOtsuStdDev:                         5,
		ErrorCorrectionRate:                   0.6,
		CornerRefinementWinSize:               5,
		CornerRefinementMaxIterations:         30,
		CornerRefinementMinAccuracy:           0.1,
	}
}

// Validate reports every out of range setting.
func (cfg DetectorConfig) Validate() error {
	var err error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, errors.Errorf(format, args...))
		}
	}
	check(cfg.AdaptiveThreshWinSizeMin >= 3, "adaptiveThreshWinSizeMin must be at least 3, got %d", cfg.AdaptiveThreshWinSizeMin)
	check(cfg.AdaptiveThreshWinSizeMax >= cfg.AdaptiveThreshWinSizeMin,
		"adaptiveThreshWinSizeMax (%d) is below adaptiveThreshWinSizeMin (%d)",
		cfg.AdaptiveThreshWinSizeMax, cfg.AdaptiveThreshWinSizeMin)
	check(cfg.AdaptiveThreshWinSizeStep > 0, "adaptiveThreshWinSizeStep must be positive, got %d", cfg.AdaptiveThreshWinSizeStep)
	check(positive(cfg.MinMarkerPerimeterRate), "minMarkerPerimeterRate must be positive, got %v", cfg.MinMarkerPerimeterRate)
	check(cfg.MaxMarkerPerimeterRate > cfg.MinMarkerPerimeterRate,
		"maxMarkerPerimeterRate (%v) must exceed minMarkerPerimeterRate (%v)",
		cfg.MaxMarkerPerimeterRate, cfg.MinMarkerPerimeterRate)
	check(positive(cfg.PolygonalApproxAccuracyRate), "polygonalApproxAccuracyRate must be positive, got %v",
		cfg.PolygonalApproxAccuracyRate)
	check(cfg.MinCornerDistanceRate >= 0, "minCornerDistanceRate must not be negative, got %v", cfg.MinCornerDistanceRate)
	check(cfg.MinDistanceToBorder >= 0, "minDistanceToBorder must not be negative, got %d", cfg.MinDistanceToBorder)
	check(cfg.MinMarkerDistanceRate >= 0, "minMarkerDistanceRate must not be negative, got %v", cfg.MinMarkerDistanceRate)
	check(cfg.MaxOppositeSideRatio >= 1, "maxOppositeSideRatio must be at least 1, got %v", cfg.MaxOppositeSideRatio)
	check(cfg.MaxCandidates > 0, "maxCandidates must be positive, got %d", cfg.MaxCandidates)
	check(cfg.PerspectiveRemovePixelPerCell > 0, "perspectiveRemovePixelPerCell must be positive, got %d",
		cfg.PerspectiveRemovePixelPerCell)
	check(cfg.PerspectiveRemoveIgnoredMarginPerCell >= 0 && cfg.PerspectiveRemoveIgnoredMarginPerCell < 0.5,
		"perspectiveRemoveIgnoredMarginPerCell must be in [0, 0.5), got %v", cfg.PerspectiveRemoveIgnoredMarginPerCell)
	check(cfg.MaxErroneousBitsInBorderRate >= 0 && cfg.MaxErroneousBitsInBorderRate <= 1,
		"maxErroneousBitsInBorderRate must be in [0, 1], got %v", cfg.MaxErroneousBitsInBorderRate)
	check(cfg.MinOtsuStdDev >= 0, "minOtsuStdDev must not be negative, got %v", cfg.MinOtsuStdDev)
	check(cfg.ErrorCorrectionRate >= 0 && cfg.ErrorCorrectionRate <= 1,
		"errorCorrectionRate must be in [0, 1], got %v", cfg.ErrorCorrectionRate)
	check(cfg.CornerRefinementWinSize > 0, "cornerRefinementWinSize must be positive, got %d", cfg.CornerRefinementWinSize)
	check(cfg.CornerRefinementMaxIterations >= 0, "cornerRefinementMaxIterations must not be negative, got %d",
		cfg.CornerRefinementMaxIterations)
	check(positive(cfg.CornerRefinementMinAccuracy), "cornerRefinementMinAccuracy must be positive, got %v",
		cfg.CornerRefinementMinAccuracy)
	check(cfg.PreBlurSigma >= 0, "preBlurSigma must not be negative, got %v", cfg.PreBlurSigma)
	return err
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// windowSizes lists the odd adaptive threshold windows to try.
func (cfg DetectorConfig) windowSizes() []int {
	var sizes []int
	for w := cfg.AdaptiveThreshWinSizeMin; w <= cfg.AdaptiveThreshWinSizeMax; w += cfg.AdaptiveThreshWinSizeStep {
		if w%2 == 0 {
			sizes = append(sizes, w+1)
		} else {
			sizes = append(sizes, w)
		}
	}
	return sizes
}
