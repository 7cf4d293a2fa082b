// Package transform holds the camera models used to move between pixels and rays: pinhole
// intrinsics, lens distortion, and planar homographies.
package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
	Skew   float64 `json:"skew,omitempty"`
}

// NewPinholeCameraIntrinsicsFromMatrix reads the intrinsics from a row-major 3x3 camera matrix.
// The matrix must be upper triangular with a unit bottom-right entry.
func NewPinholeCameraIntrinsicsFromMatrix(k [3][3]float64, width, height int) (*PinholeCameraIntrinsics, error) {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.IsNaN(k[r][c]) || math.IsInf(k[r][c], 0) {
				return nil, NewNoIntrinsicsError(fmt.Sprintf("camera matrix entry (%d,%d) is not finite", r, c))
			}
		}
	}
	if k[1][0] != 0 || k[2][0] != 0 || k[2][1] != 0 {
		return nil, NewNoIntrinsicsError("camera matrix must be upper triangular")
	}
	if k[2][2] != 1 {
		return nil, NewNoIntrinsicsError(fmt.Sprintf("camera matrix K[2][2] = %v, want 1", k[2][2]))
	}
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k[0][0],
		Fy:     k[1][1],
		Ppx:    k[0][2],
		Ppy:    k[1][2],
		Skew:   k[0][1],
	}
	return params, params.CheckValid()
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// ScaledTo returns the intrinsics for the same lens at another resolution.
func (params *PinholeCameraIntrinsics) ScaledTo(width, height int) *PinholeCameraIntrinsics {
	if width == params.Width && height == params.Height {
		return params
	}
	sx := float64(width) / float64(params.Width)
	sy := float64(height) / float64(params.Height)
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     params.Fx * sx,
		Fy:     params.Fy * sy,
		Ppx:    params.Ppx * sx,
		Ppy:    params.Ppy * sy,
		Skew:   params.Skew * sx,
	}
}

// PixelToPoint maps a pixel to normalized image coordinates on the z = 1 plane.
func (params *PinholeCameraIntrinsics) PixelToPoint(px r2.Point) r2.Point {
	y := (px.Y - params.Ppy) / params.Fy
	x := (px.X - params.Ppx - params.Skew*y) / params.Fx
	return r2.Point{X: x, Y: y}
}

// NormalizedToPixel maps normalized image coordinates to a pixel.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(p r2.Point) r2.Point {
	return r2.Point{
		X: params.Fx*p.X + params.Skew*p.Y + params.Ppx,
		Y: params.Fy*p.Y + params.Ppy,
	}
}

// PointToPixel projects a 3D point in the camera frame to a sub-pixel location. The second value
// is false when the point is not in front of the camera.
func (params *PinholeCameraIntrinsics) PointToPixel(pt r3.Vector) (r2.Point, bool) {
	if pt.Z <= 0 {
		return r2.Point{X: -1, Y: -1}, false
	}
	return params.NormalizedToPixel(r2.Point{X: pt.X / pt.Z, Y: pt.Y / pt.Z}), true
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx s ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(0, 1, params.Skew)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// ConditionNumber returns the 2-norm condition number of the camera matrix.
func (params *PinholeCameraIntrinsics) ConditionNumber() float64 {
	return mat.Cond(params.GetCameraMatrix(), 2)
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// Project maps a 3D point in the camera frame through the lens model to a pixel.
func (params *PinholeCameraModel) Project(pt r3.Vector) (r2.Point, bool) {
	if pt.Z <= 0 {
		return r2.Point{X: -1, Y: -1}, false
	}
	x, y := pt.X/pt.Z, pt.Y/pt.Z
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return params.NormalizedToPixel(r2.Point{X: x, Y: y}), true
}

// UndistortPixel maps an observed pixel to normalized, distortion free image coordinates.
func (params *PinholeCameraModel) UndistortPixel(px r2.Point) r2.Point {
	p := params.PixelToPoint(px)
	if params.Distortion == nil {
		return p
	}
	inv, ok := params.Distortion.(InvertibleDistorter)
	if !ok {
		return p
	}
	x, y := inv.Inverse().Transform(p.X, p.Y)
	return r2.Point{X: x, Y: y}
}
