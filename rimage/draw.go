package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

var regular *opentype.Font

func init() {
	var err error
	regular, err = opentype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

func fontFace(size float64) (font.Face, error) {
	return opentype.NewFace(regular, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

// DrawString writes a string to the given context at a particular point. It returns an error
// for a size that is not positive or a face that cannot be built.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) error {
	if !(size > 0) {
		return errors.Errorf("invalid font size %v", size)
	}
	face, err := fontFace(size)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)
	dc.SetColor(c)
	dc.DrawStringAnchored(text, float64(p.X), float64(p.Y), 0, 1)
	return nil
}

// DrawPolygon strokes the closed outline through pts.
func DrawPolygon(dc *gg.Context, pts []r2.Point, c color.Color, width float64) {
	if len(pts) < 2 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(pts[0].X, pts[0].Y)
	for _, p := range pts[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.ClosePath()
	dc.Stroke()
}

// DrawPoint fills a small disc centered on p.
func DrawPoint(dc *gg.Context, p r2.Point, c color.Color, radius float64) {
	dc.SetColor(c)
	dc.DrawCircle(p.X, p.Y, radius)
	dc.Fill()
}

// golden angle in degrees
const goldenAngle = 137.50776405003785

// IDColor returns a saturated color that is stable for an id and distinct from its neighbors.
func IDColor(id int) color.Color {
	h := math.Mod(float64(id)*goldenAngle, 360)
	if h < 0 {
		h += 360
	}
	return colorful.Hsv(h, 0.9, 0.95).Clamped()
}

// ScaleNearest resizes img to width by height without smoothing, which keeps marker cells crisp.
func ScaleNearest(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("cannot scale to %dx%d", width, height)
	}
	return resize.Resize(uint(width), uint(height), img, resize.NearestNeighbor), nil
}
