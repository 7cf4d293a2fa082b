package rimage

import (
	"image"
	"math"
)

// IntegralImage holds running sums over a gray image, with one extra leading row and column of
// zeros so that any rectangle sum takes four lookups.
type IntegralImage struct {
	width, height int
	sums          []int64
}

// NewIntegralImage computes the integral image of g.
func NewIntegralImage(g *image.Gray) *IntegralImage {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	ii := &IntegralImage{width: w, height: h, sums: make([]int64, (w+1)*(h+1))}
	stride := w + 1
	for y := 0; y < h; y++ {
		var rowSum int64
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x := 0; x < w; x++ {
			rowSum += int64(row[x])
			ii.sums[(y+1)*stride+x+1] = ii.sums[y*stride+x+1] + rowSum
		}
	}
	return ii
}

// Sum returns the sum of pixels in the rectangle clipped to the image.
func (ii *IntegralImage) Sum(r image.Rectangle) (sum int64, count int) {
	r = r.Intersect(image.Rect(0, 0, ii.width, ii.height))
	if r.Empty() {
		return 0, 0
	}
	stride := ii.width + 1
	sum = ii.sums[r.Max.Y*stride+r.Max.X] - ii.sums[r.Min.Y*stride+r.Max.X] -
		ii.sums[r.Max.Y*stride+r.Min.X] + ii.sums[r.Min.Y*stride+r.Min.X]
	return sum, r.Dx() * r.Dy()
}

// AdaptiveThreshold marks pixels darker than their local mean by at least c as foreground (255).
// The mean is taken over a window x window box centered on the pixel and clipped to the image.
func AdaptiveThreshold(g *image.Gray, ii *IntegralImage, window int, c float64) *image.Gray {
	if ii == nil {
		ii = NewIntegralImage(g)
	}
	half := window / 2
	out := image.NewGray(image.Rect(0, 0, ii.width, ii.height))
	for y := 0; y < ii.height; y++ {
		for x := 0; x < ii.width; x++ {
			sum, n := ii.Sum(image.Rect(x-half, y-half, x+half+1, y+half+1))
			mean := float64(sum) / float64(n)
			if float64(g.Pix[y*g.Stride+x]) <= mean-c {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// Histogram counts the intensities of a set of samples.
func Histogram(samples []uint8) [256]int {
	var hist [256]int
	for _, s := range samples {
		hist[s]++
	}
	return hist
}

// OtsuThreshold returns the intensity that maximizes the between-class variance of the
// histogram. Values <= the threshold belong to the dark class.
func OtsuThreshold(hist [256]int) uint8 {
	total := 0
	var sumAll float64
	for i, n := range hist {
		total += n
		sumAll += float64(i * n)
	}
	if total == 0 {
		return 0
	}

	var (
		best      uint8
		bestVar   = -1.0
		weightBg  int
		sumBg     float64
		tieStart  = -1
		inTieSpan bool
	)
	for t := 0; t < 256; t++ {
		weightBg += hist[t]
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		meanBg := sumBg / float64(weightBg)
		meanFg := (sumAll - sumBg) / float64(weightFg)
		between := float64(weightBg) * float64(weightFg) * (meanBg - meanFg) * (meanBg - meanFg)
		switch {
		case between > bestVar:
			bestVar = between
			best = uint8(t)
			tieStart = t
			inTieSpan = true
		case between == bestVar && inTieSpan:
			// a flat maximum spans empty bins; split it in the middle
			best = uint8((tieStart + t) / 2)
		default:
			inTieSpan = false
		}
	}
	return best
}

// MeanStdDev returns the mean and population standard deviation of the samples.
func MeanStdDev(samples []uint8) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, s := range samples {
		v := float64(s)
		sum += v
		sumSq += v * v
	}
	n := float64(len(samples))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
