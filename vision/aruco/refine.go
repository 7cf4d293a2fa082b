package aruco

import (
	"image"
	"math"

	"github.com/golang/geo/r2"

	"github.com/labviros/is-aruco-localization/rimage"
)

// refineCorner moves a corner to sub-pixel accuracy. Around a true corner q every image gradient
// g at a pixel p is orthogonal to p - q, so q solves the weighted normal equations
// sum(w g gᵀ) q = sum(w g gᵀ p). The window follows the estimate until it moves less than
// minAccuracy or maxIterations is reached. Estimates that wander farther than winSize from the
// starting point are discarded.
func refineCorner(g *image.Gray, initial r2.Point, winSize, maxIterations int, minAccuracy float64) r2.Point {
	reach := 2*winSize + 2
	cx, cy := int(math.Round(initial.X)), int(math.Round(initial.Y))
	field := rimage.SobelGradient(g, image.Rect(cx-reach, cy-reach, cx+reach+1, cy+reach+1))
	bounds := field.Bounds()
	sigma2 := float64(winSize * winSize)

	q := initial
	for it := 0; it < maxIterations; it++ {
		wx, wy := int(math.Round(q.X)), int(math.Round(q.Y))
		var a11, a12, a22, b1, b2 float64
		for y := wy - winSize; y <= wy+winSize; y++ {
			for x := wx - winSize; x <= wx+winSize; x++ {
				if !image.Pt(x, y).In(bounds) {
					continue
				}
				grad := field.GetVec2D(x, y)
				if grad.X == 0 && grad.Y == 0 {
					continue
				}
				dx, dy := float64(x-wx), float64(y-wy)
				w := math.Exp(-(dx*dx + dy*dy) / sigma2)
				gxx := w * grad.X * grad.X
				gxy := w * grad.X * grad.Y
				gyy := w * grad.Y * grad.Y
				px, py := float64(x), float64(y)
				a11 += gxx
				a12 += gxy
				a22 += gyy
				b1 += gxx*px + gxy*py
				b2 += gxy*px + gyy*py
			}
		}
		det := a11*a22 - a12*a12
		if det <= 1e-9*(a11+a22)*(a11+a22) || det == 0 {
			break
		}
		next := r2.Point{
			X: (a22*b1 - a12*b2) / det,
			Y: (a11*b2 - a12*b1) / det,
		}
		shift := next.Sub(q).Norm()
		q = next
		if shift < minAccuracy {
			break
		}
	}
	if q.Sub(initial).Norm() > float64(winSize) || math.IsNaN(q.X) || math.IsNaN(q.Y) {
		return initial
	}
	return q
}
