package aruco

import (
	"image"

	"github.com/pkg/errors"
)

// Render draws a marker with its one cell black border. The image is
// (MarkerSize()+2)*pixelsPerCell pixels on a side.
func (d *Dictionary) Render(id, pixelsPerCell int) (*image.Gray, error) {
	if pixelsPerCell < 1 {
		return nil, errors.Errorf("pixels per cell must be positive, got %d", pixelsPerCell)
	}
	grid, err := d.Bits(id)
	if err != nil {
		return nil, err
	}
	cells := d.markerSize + 2
	side := cells * pixelsPerCell
	img := image.NewGray(image.Rect(0, 0, side, side))
	for r := 0; r < d.markerSize; r++ {
		for c := 0; c < d.markerSize; c++ {
			if !grid[r][c] {
				continue
			}
			y0 := (r + 1) * pixelsPerCell
			x0 := (c + 1) * pixelsPerCell
			for y := y0; y < y0+pixelsPerCell; y++ {
				row := img.Pix[y*img.Stride : (y+1)*img.Stride]
				for x := x0; x < x0+pixelsPerCell; x++ {
					row[x] = 255
				}
			}
		}
	}
	return img, nil
}
