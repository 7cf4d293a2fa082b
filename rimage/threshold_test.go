package rimage

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestIntegralImage(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range g.Pix {
		g.Pix[i] = uint8(i)
	}
	ii := NewIntegralImage(g)

	sum, n := ii.Sum(image.Rect(0, 0, 4, 3))
	test.That(t, sum, test.ShouldEqual, 66)
	test.That(t, n, test.ShouldEqual, 12)

	sum, n = ii.Sum(image.Rect(1, 1, 3, 3))
	test.That(t, sum, test.ShouldEqual, 5+6+9+10)
	test.That(t, n, test.ShouldEqual, 4)

	sum, n = ii.Sum(image.Rect(-5, -5, 1, 1))
	test.That(t, sum, test.ShouldEqual, 0)
	test.That(t, n, test.ShouldEqual, 1)

	_, n = ii.Sum(image.Rect(10, 10, 12, 12))
	test.That(t, n, test.ShouldEqual, 0)
}

func TestAdaptiveThreshold(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 50, 50))
	fillRect(g, g.Bounds(), 255)
	fillRect(g, image.Rect(10, 10, 40, 40), 0)

	bin := AdaptiveThreshold(g, nil, 5, 7)
	// the dark side of the edge is foreground
	test.That(t, bin.GrayAt(10, 25).Y, test.ShouldEqual, 255)
	test.That(t, bin.GrayAt(11, 25).Y, test.ShouldEqual, 255)
	// uniform areas are not
	test.That(t, bin.GrayAt(25, 25).Y, test.ShouldEqual, 0)
	test.That(t, bin.GrayAt(2, 2).Y, test.ShouldEqual, 0)
	// the bright side of the edge is not
	test.That(t, bin.GrayAt(8, 25).Y, test.ShouldEqual, 0)
}

func TestOtsuThreshold(t *testing.T) {
	samples := make([]uint8, 0, 100)
	for i := 0; i < 60; i++ {
		samples = append(samples, 50)
	}
	for i := 0; i < 40; i++ {
		samples = append(samples, 200)
	}
	test.That(t, OtsuThreshold(Histogram(samples)), test.ShouldEqual, 124)

	var empty [256]int
	test.That(t, OtsuThreshold(empty), test.ShouldEqual, 0)

	noisy := []uint8{10, 12, 14, 11, 13, 240, 238, 242, 236, 250}
	thresh := OtsuThreshold(Histogram(noisy))
	test.That(t, thresh, test.ShouldBeGreaterThanOrEqualTo, 14)
	test.That(t, thresh, test.ShouldBeLessThan, 236)
}

func TestMeanStdDev(t *testing.T) {
	mean, std := MeanStdDev([]uint8{2, 4, 4, 4, 5, 5, 7, 9})
	test.That(t, mean, test.ShouldAlmostEqual, 5)
	test.That(t, std, test.ShouldAlmostEqual, 2)

	mean, std = MeanStdDev(nil)
	test.That(t, mean, test.ShouldEqual, 0)
	test.That(t, std, test.ShouldEqual, 0)
}
