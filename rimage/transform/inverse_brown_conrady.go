package transform

import "github.com/pkg/errors"

// InverseBrownConrady undoes the Brown-Conrady distortion. Given distorted normalized points it
// finds the undistorted points with Newton-Raphson iterations on the forward model.
type InverseBrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

const (
	inverseMaxIterations = 20
	inverseTolerance     = 1e-10
)

// NewInverseBrownConrady takes in a slice of floats that will be passed into the struct in order
// (k1, k2, k3, p1, p2).
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	return &InverseBrownConrady{padded[0], padded[1], padded[2], padded[3], padded[4]}, nil
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return ibc.forward().CheckValid()
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return ibc.forward().Parameters()
}

// Inverse returns the forward distortion model.
func (ibc *InverseBrownConrady) Inverse() Distorter {
	return ibc.forward()
}

func (ibc *InverseBrownConrady) forward() *BrownConrady {
	if ibc == nil {
		return nil
	}
	bc := BrownConrady(*ibc)
	return &bc
}

// Transform converts distorted points to undistorted points. The forward model is
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
//
// and the distorted point is the initial guess. Iteration stops after inverseMaxIterations or
// when the forward residual drops under inverseTolerance.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	bc := ibc.forward()
	xu, yu := xd, yd
	for i := 0; i < inverseMaxIterations; i++ {
		xdEst, ydEst := bc.Transform(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < inverseTolerance*inverseTolerance {
			break
		}

		j := bc.jacobian(xu, yu)
		det := j[0][0]*j[1][1] - j[0][1]*j[1][0]
		if det == 0 {
			break
		}
		xu -= (j[1][1]*errX - j[0][1]*errY) / det
		yu -= (-j[1][0]*errX + j[0][0]*errY) / det
	}
	return xu, yu
}

// jacobian returns d(x_d, y_d)/d(x_u, y_u) of the forward model.
func (bc *BrownConrady) jacobian(xu, yu float64) [2][2]float64 {
	r2 := xu*xu + yu*yu
	r4 := r2 * r2
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r4*r2
	dRad := bc.RadialK1 + 2.0*bc.RadialK2*r2 + 3.0*bc.RadialK3*r4
	dRadDx := 2.0 * xu * dRad
	dRadDy := 2.0 * yu * dRad

	return [2][2]float64{
		{
			radDist + xu*dRadDx + 2.0*bc.TangentialP1*yu + 6.0*bc.TangentialP2*xu,
			xu*dRadDy + 2.0*bc.TangentialP1*xu + 2.0*bc.TangentialP2*yu,
		},
		{
			yu*dRadDx + 2.0*bc.TangentialP2*yu + 2.0*bc.TangentialP1*xu,
			radDist + yu*dRadDy + 2.0*bc.TangentialP2*xu + 6.0*bc.TangentialP1*yu,
		},
	}
}
