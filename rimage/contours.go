package rimage

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// ContourInt is a closed sequence of pixel positions along a region border.
type ContourInt []image.Point

// ContourFloat is a closed polygon with sub-pixel vertices.
type ContourFloat []r2.Point

// neighbors lists the 8-neighborhood clockwise on screen (y grows downward), starting east.
var neighbors = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

const west = 4

// FindContours returns the outer border of every 8-connected foreground (non-zero) region of a
// binary image with at least minPixels pixels. Borders are traced with Suzuki's border following
// and come out counterclockwise on screen, starting at the region's top-left pixel.
func FindContours(binary *image.Gray, minPixels int) []ContourInt {
	b := binary.Bounds()
	w, h := b.Dx(), b.Dy()
	fg := func(x, y int) bool {
		if x < 0 || y < 0 || x >= w || y >= h {
			return false
		}
		return binary.Pix[y*binary.Stride+x] != 0
	}

	visited := make([]bool, w*h)
	var contours []ContourInt
	var stack []image.Point
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if visited[y*w+x] || !fg(x, y) {
				continue
			}
			// flood the region so it is traced exactly once
			size := 0
			stack = append(stack[:0], image.Point{x, y})
			visited[y*w+x] = true
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				size++
				for _, d := range neighbors {
					q := p.Add(d)
					if fg(q.X, q.Y) && !visited[q.Y*w+q.X] {
						visited[q.Y*w+q.X] = true
						stack = append(stack, q)
					}
				}
			}
			if size < minPixels {
				continue
			}
			contours = append(contours, traceBorder(image.Point{x, y}, size, fg))
		}
	}
	return contours
}

// traceBorder follows the outer border starting from the top-left pixel of a region, whose west
// neighbor is therefore background.
func traceBorder(start image.Point, regionSize int, fg func(x, y int) bool) ContourInt {
	dirOf := func(from, to image.Point) int {
		d := to.Sub(from)
		for i, n := range neighbors {
			if n == d {
				return i
			}
		}
		return west
	}

	// look clockwise from the west neighbor for the first foreground pixel
	first := image.Point{-1, -1}
	for i := 0; i < 8; i++ {
		q := start.Add(neighbors[(west+i)%8])
		if fg(q.X, q.Y) {
			first = q
			break
		}
	}
	if first.X < 0 && first.Y < 0 {
		return ContourInt{start}
	}

	contour := ContourInt{}
	prev, cur := first, start
	maxSteps := 4*regionSize + 8
	for step := 0; step < maxSteps; step++ {
		// search counterclockwise around cur, starting just after prev
		d := dirOf(cur, prev)
		var next image.Point
		for i := 1; i <= 8; i++ {
			q := cur.Add(neighbors[(d-i+16)%8])
			if fg(q.X, q.Y) {
				next = q
				break
			}
		}
		contour = append(contour, cur)
		if next == start && cur == first {
			break
		}
		prev, cur = cur, next
	}
	return contour
}

// ToFloat converts a pixel contour to floating point vertices.
func (c ContourInt) ToFloat() ContourFloat {
	out := make(ContourFloat, len(c))
	for i, p := range c {
		out[i] = r2.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return out
}

// ArcLength returns the perimeter of a closed polygon.
func ArcLength(c ContourFloat) float64 {
	if len(c) < 2 {
		return 0
	}
	var l float64
	for i := range c {
		l += c[(i+1)%len(c)].Sub(c[i]).Norm()
	}
	return l
}

// ContourArea returns the signed shoelace area; positive when the polygon is clockwise on
// screen.
func ContourArea(c ContourFloat) float64 {
	var a float64
	for i := range c {
		a += c[i].Cross(c[(i+1)%len(c)])
	}
	return a / 2
}

// IsConvex reports whether a closed polygon is strictly convex.
func IsConvex(c ContourFloat) bool {
	if len(c) < 3 {
		return false
	}
	sign := 0.0
	for i := range c {
		e1 := c[(i+1)%len(c)].Sub(c[i])
		e2 := c[(i+2)%len(c)].Sub(c[(i+1)%len(c)])
		cross := e1.Cross(e2)
		if cross == 0 {
			return false
		}
		if sign == 0 {
			sign = math.Copysign(1, cross)
		} else if math.Copysign(1, cross) != sign {
			return false
		}
	}
	return true
}

func perpendicularDistance(p, a, b r2.Point) float64 {
	ab := b.Sub(a)
	n := ab.Norm()
	if n == 0 {
		return p.Sub(a).Norm()
	}
	return math.Abs(ab.Cross(p.Sub(a))) / n
}

// ApproxContourDP simplifies an open polyline with the Douglas-Peucker algorithm. The end points
// are always kept.
func ApproxContourDP(c []r2.Point, eps float64) []r2.Point {
	if len(c) < 3 {
		return append([]r2.Point(nil), c...)
	}
	keep := make([]bool, len(c))
	keep[0], keep[len(c)-1] = true, true
	dpMark(c, 0, len(c)-1, eps, keep)
	out := make([]r2.Point, 0, len(c))
	for i, k := range keep {
		if k {
			out = append(out, c[i])
		}
	}
	return out
}

func dpMark(c []r2.Point, lo, hi int, eps float64, keep []bool) {
	if hi-lo < 2 {
		return
	}
	maxDist, idx := -1.0, lo
	for i := lo + 1; i < hi; i++ {
		if d := perpendicularDistance(c[i], c[lo], c[hi]); d > maxDist {
			maxDist, idx = d, i
		}
	}
	if maxDist <= eps {
		return
	}
	keep[idx] = true
	dpMark(c, lo, idx, eps, keep)
	dpMark(c, idx, hi, eps, keep)
}

// DistanceSq is the squared euclidean distance between two points.
func DistanceSq(a, b r2.Point) float64 {
	d := a.Sub(b)
	return d.Dot(d)
}

// ApproxClosedContourDP simplifies a closed polygon. The contour is split at two mutually far
// points and each half is simplified as an open polyline.
func ApproxClosedContourDP(c ContourFloat, eps float64) ContourFloat {
	if len(c) < 4 {
		return append(ContourFloat(nil), c...)
	}
	farthest := func(from r2.Point) int {
		best, bestD := 0, -1.0
		for i, p := range c {
			if d := DistanceSq(p, from); d > bestD {
				best, bestD = i, d
			}
		}
		return best
	}
	a := farthest(c[0])
	bIdx := farthest(c[a])
	if a == bIdx {
		return ContourFloat{c[a]}
	}
	if a > bIdx {
		a, bIdx = bIdx, a
	}

	first := ApproxContourDP(c[a:bIdx+1], eps)
	second := make([]r2.Point, 0, len(c)-(bIdx-a)+1)
	second = append(second, c[bIdx:]...)
	second = append(second, c[:a+1]...)
	second = ApproxContourDP(second, eps)

	out := make(ContourFloat, 0, len(first)+len(second))
	out = append(out, first...)
	out = append(out, second[1:len(second)-1]...)
	return out
}

// SortPointCounterClockwise orders points by their angle around the centroid. The order is
// counterclockwise in a y-up frame, which is clockwise on screen.
func SortPointCounterClockwise(pts []r2.Point) []r2.Point {
	var center r2.Point
	for _, p := range pts {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(pts)))
	out := append([]r2.Point(nil), pts...)
	sort.SliceStable(out, func(i, j int) bool {
		ai := math.Atan2(out[i].Y-center.Y, out[i].X-center.X)
		aj := math.Atan2(out[j].Y-center.Y, out[j].X-center.X)
		return ai < aj
	})
	return out
}
