package rimage

import (
	"image"
	"math"
)

// Vec2D represents the gradient of an image at a point.
type Vec2D struct {
	X, Y float64
}

// Magnitude has values [0, infinity).
func (g Vec2D) Magnitude() float64 {
	return math.Hypot(g.X, g.Y)
}

// Direction is in [0, 2pi).
func (g Vec2D) Direction() float64 {
	return radZeroTo2Pi(math.Atan2(g.Y, g.X))
}

// VectorField2D stores the gradient vectors of a rectangular image region, allowing one to
// retrieve the gradient for any (x,y) point inside it.
type VectorField2D struct {
	origin image.Point
	width  int
	height int

	data         []Vec2D
	maxMagnitude float64
}

func (vf *VectorField2D) kxy(x, y int) int {
	return ((y - vf.origin.Y) * vf.width) + x - vf.origin.X
}

// Bounds returns the image region covered by the field.
func (vf *VectorField2D) Bounds() image.Rectangle {
	return image.Rectangle{vf.origin, vf.origin.Add(image.Pt(vf.width, vf.height))}
}

// Get returns the gradient at p, which must lie in Bounds.
func (vf *VectorField2D) Get(p image.Point) Vec2D {
	return vf.data[vf.kxy(p.X, p.Y)]
}

// GetVec2D returns the gradient at (x, y), which must lie in Bounds.
func (vf *VectorField2D) GetVec2D(x, y int) Vec2D {
	return vf.data[vf.kxy(x, y)]
}

// Set stores the gradient at (x, y).
func (vf *VectorField2D) Set(x, y int, val Vec2D) {
	vf.data[vf.kxy(x, y)] = val
	vf.maxMagnitude = math.Max(val.Magnitude(), vf.maxMagnitude)
}

// MaxMagnitude is the largest gradient magnitude stored so far.
func (vf *VectorField2D) MaxMagnitude() float64 {
	return vf.maxMagnitude
}

// MakeEmptyVectorField2D allocates a zero field over r.
func MakeEmptyVectorField2D(r image.Rectangle) VectorField2D {
	return VectorField2D{
		origin: r.Min,
		width:  r.Dx(),
		height: r.Dy(),
		data:   make([]Vec2D, r.Dx()*r.Dy()),
	}
}

// SobelGradient computes the 3x3 Sobel gradient of g over r. Pixels beyond the image edge are
// replicated from the border.
func SobelGradient(g *image.Gray, r image.Rectangle) VectorField2D {
	r = r.Intersect(g.Bounds())
	vf := MakeEmptyVectorField2D(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			p := func(dx, dy int) float64 {
				return float64(GrayAt(g, x+dx, y+dy))
			}
			gx := (p(1, -1) + 2*p(1, 0) + p(1, 1)) - (p(-1, -1) + 2*p(-1, 0) + p(-1, 1))
			gy := (p(-1, 1) + 2*p(0, 1) + p(1, 1)) - (p(-1, -1) + 2*p(0, -1) + p(1, -1))
			vf.Set(x, y, Vec2D{X: gx / 8, Y: gy / 8})
		}
	}
	return vf
}

// MagnitudePicture renders the magnitude field as a gray image scaled to the max magnitude.
func (vf *VectorField2D) MagnitudePicture() *image.Gray {
	img := image.NewGray(vf.Bounds())
	if vf.maxMagnitude == 0 {
		return img
	}
	for y := vf.origin.Y; y < vf.origin.Y+vf.height; y++ {
		for x := vf.origin.X; x < vf.origin.X+vf.width; x++ {
			v := vf.GetVec2D(x, y).Magnitude() / vf.maxMagnitude * 255
			img.Pix[img.PixOffset(x, y)] = uint8(math.Round(v))
		}
	}
	return img
}

func radZeroTo2Pi(rad float64) float64 {
	return math.Mod(rad+2*math.Pi, 2*math.Pi)
}
