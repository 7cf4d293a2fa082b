package rimage

import (
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// SameImgSize compares images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Dx() == g2.Bounds().Dx() && g1.Bounds().Dy() == g2.Bounds().Dy()
}

// Luminance returns a gray image anchored at the origin. Gray images already anchored at the
// origin are returned as is and must not be mutated by the caller.
func Luminance(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	result := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(result, result.Bounds(), img, b.Min, draw.Src)
	return result
}

// Blur applies a gaussian blur with the given sigma. A non-positive sigma returns the input.
func Blur(g *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return g
	}
	return Luminance(imaging.Blur(g, sigma))
}

// GrayAt returns the intensity at (x, y), clamping coordinates to the image.
func GrayAt(g *image.Gray, x, y int) uint8 {
	b := g.Bounds()
	x = clampInt(x, b.Min.X, b.Max.X-1)
	y = clampInt(y, b.Min.Y, b.Max.Y-1)
	return g.Pix[g.PixOffset(x, y)]
}

// BilinearGray samples the intensity at a sub-pixel location, with pixel centers at integer
// coordinates.
func BilinearGray(g *image.Gray, x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	v00 := float64(GrayAt(g, x0, y0))
	v10 := float64(GrayAt(g, x0+1, y0))
	v01 := float64(GrayAt(g, x0, y0+1))
	v11 := float64(GrayAt(g, x0+1, y0+1))

	top := v00 + fx*(v10-v00)
	bottom := v01 + fx*(v11-v01)
	return top + fy*(bottom-top)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
