package transform

import (
	"math"

	"github.com/pkg/errors"
)

// BrownConrady is the radial and tangential lens distortion model. It maps undistorted normalized
// image coordinates to distorted ones.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes in a slice of floats that will be passed into the struct in order
// (k1, k2, k3, p1, p2).
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	bc := &BrownConrady{padded[0], padded[1], padded[2], padded[3], padded[4]}
	return bc, bc.CheckValid()
}

// NewBrownConradyFromOpenCV reads a distortion vector in OpenCV order (k1, k2, p1, p2[, k3]).
// An empty vector means no distortion.
func NewBrownConradyFromOpenCV(coeffs []float64) (*BrownConrady, error) {
	switch len(coeffs) {
	case 0:
		return &BrownConrady{}, nil
	case 4:
		coeffs = append(append([]float64(nil), coeffs...), 0)
	case 5:
	default:
		return nil, InvalidDistortionError(
			errors.Errorf("expected 0, 4 or 5 distortion coefficients, got %d", len(coeffs)).Error())
	}
	bc := &BrownConrady{
		RadialK1:     coeffs[0],
		RadialK2:     coeffs[1],
		TangentialP1: coeffs[2],
		TangentialP2: coeffs[3],
		RadialK3:     coeffs[4],
	}
	return bc, bc.CheckValid()
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	for _, p := range bc.Parameters() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return InvalidDistortionError("BrownConrady parameters must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// IsZero reports whether the model leaves every point unchanged.
func (bc *BrownConrady) IsZero() bool {
	return bc == nil || *bc == BrownConrady{}
}

// Transform distorts a normalized image point.
func (bc *BrownConrady) Transform(xu, yu float64) (float64, float64) {
	if bc == nil {
		return xu, yu
	}
	r2 := xu*xu + yu*yu
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := xu*radDist + 2.0*bc.TangentialP1*xu*yu + bc.TangentialP2*(r2+2.0*xu*xu)
	yd := yu*radDist + 2.0*bc.TangentialP2*xu*yu + bc.TangentialP1*(r2+2.0*yu*yu)
	return xd, yd
}

// Inverse returns the model that undistorts points distorted by bc.
func (bc *BrownConrady) Inverse() Distorter {
	if bc == nil {
		return (*InverseBrownConrady)(nil)
	}
	inv := InverseBrownConrady(*bc)
	return &inv
}
