package aruco

import (
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"

	"github.com/labviros/is-aruco-localization/rimage"
)

// Overlay draws the outline of every marker on a copy of img, colored by id. The first corner
// is dotted and the id is written next to it.
func Overlay(img image.Image, markers []DetectedMarker) (image.Image, error) {
	dc := gg.NewContextForImage(img)
	b := img.Bounds()
	width := math.Max(1, float64(b.Dx())/400)
	for _, m := range markers {
		c := rimage.IDColor(m.ID)
		corners := make([]r2.Point, len(m.Corners))
		for i, p := range m.Corners {
			corners[i] = p.Sub(r2.Point{X: float64(b.Min.X), Y: float64(b.Min.Y)})
		}
		rimage.DrawPolygon(dc, corners, c, width)
		rimage.DrawPoint(dc, corners[0], c, 2*width)
		if err := rimage.DrawString(dc, fmt.Sprintf("%d", m.ID),
			image.Pt(int(corners[0].X+3*width), int(corners[0].Y+3*width)), c, 8*width+6); err != nil {
			return nil, err
		}
	}
	return dc.Image(), nil
}
