package aruco

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/rimage"
	"github.com/labviros/is-aruco-localization/rimage/transform"
)

// DetectedMarker is a decoded marker in one frame. Corners start at the marker's own top-left
// corner and run clockwise in image space, whatever the marker's rotation in the image.
type DetectedMarker struct {
	ID      int
	Corners [4]r2.Point
	// Confidence is the decoding margin, 1 for an exact match.
	Confidence      float64
	Rotation        int
	HammingDistance int
}

// Detector finds markers of one dictionary. It holds no per-frame state and is safe for
// concurrent use.
type Detector struct {
	dict   *Dictionary
	cfg    DetectorConfig
	logger logging.Logger
}

// NewDetector returns a detector for dict.
func NewDetector(dict *Dictionary, cfg DetectorConfig, logger logging.Logger) (*Detector, error) {
	if dict == nil {
		return nil, errors.New("detector needs a marker dictionary")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid detector config")
	}
	return &Detector{dict: dict, cfg: cfg, logger: logger}, nil
}

// Dictionary returns the dictionary markers are decoded against.
func (d *Detector) Dictionary() *Dictionary {
	return d.dict
}

// candidate is a convex quadrilateral that may be a marker, corners clockwise in image space.
type candidate struct {
	corners   [4]r2.Point
	perimeter float64
}

// DetectImage converts img to luminance and detects markers in it.
func (d *Detector) DetectImage(ctx context.Context, img image.Image) []DetectedMarker {
	return d.Detect(ctx, rimage.Luminance(img))
}

// Detect finds and decodes every marker in a gray image. Candidates that fail to decode are
// dropped; a frame without markers yields an empty result. Markers sharing an id are all
// returned.
func (d *Detector) Detect(ctx context.Context, g *image.Gray) []DetectedMarker {
	ctx, span := trace.StartSpan(ctx, "aruco::Detect")
	defer span.End()

	g = rimage.Luminance(g)
	b := g.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return []DetectedMarker{}
	}
	src := rimage.Blur(g, d.cfg.PreBlurSigma)

	candidates, err := d.findCandidates(ctx, src)
	if err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeCancelled, Message: err.Error()})
		if d.logger != nil {
			d.logger.CDebugw(ctx, "marker detection abandoned", "error", err)
		}
		return []DetectedMarker{}
	}
	markers := make([]DetectedMarker, 0, len(candidates))
	for _, cand := range candidates {
		m, ok := d.decode(src, cand)
		if !ok {
			continue
		}
		for i := range m.Corners {
			m.Corners[i] = refineCorner(
				g, m.Corners[i],
				d.cfg.CornerRefinementWinSize,
				d.cfg.CornerRefinementMaxIterations,
				d.cfg.CornerRefinementMinAccuracy,
			)
		}
		markers = append(markers, m)
	}

	span.AddAttributes(
		trace.Int64Attribute("candidates", int64(len(candidates))),
		trace.Int64Attribute("markers", int64(len(markers))),
	)
	if d.logger != nil {
		d.logger.CDebugw(ctx, "marker detection done",
			"candidates", len(candidates), "decoded", len(markers), "discarded", len(candidates)-len(markers))
	}
	return markers
}

// findCandidates thresholds the image at every configured window size in parallel and merges
// the quadrilaterals found. Windows not yet started are skipped once ctx is done.
func (d *Detector) findCandidates(ctx context.Context, g *image.Gray) ([]candidate, error) {
	windows := d.cfg.windowSizes()
	ii := rimage.NewIntegralImage(g)
	perWindow := make([][]candidate, len(windows))

	group, gctx := errgroup.WithContext(ctx)
	for i, win := range windows {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			binary := rimage.AdaptiveThreshold(g, ii, win, d.cfg.AdaptiveThreshConstant)
			perWindow[i] = d.quadsIn(binary)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []candidate
	for _, cands := range perWindow {
		all = append(all, cands...)
	}
	return d.removeNearDuplicates(all), nil
}

// quadsIn extracts the region borders of a thresholded image that look like marker outlines.
func (d *Detector) quadsIn(binary *image.Gray) []candidate {
	b := binary.Bounds()
	w, h := b.Dx(), b.Dy()
	maxDim := float64(max(w, h))
	minPerimeter := d.cfg.MinMarkerPerimeterRate * maxDim
	maxPerimeter := d.cfg.MaxMarkerPerimeterRate * maxDim

	var out []candidate
	for _, contour := range rimage.FindContours(binary, max(1, int(minPerimeter/2))) {
		cf := contour.ToFloat()
		perimeter := rimage.ArcLength(cf)
		if perimeter < minPerimeter || perimeter > maxPerimeter {
			continue
		}
		approx := rimage.ApproxClosedContourDP(cf, perimeter*d.cfg.PolygonalApproxAccuracyRate)
		if len(approx) != 4 || !rimage.IsConvex(approx) {
			continue
		}
		sorted := rimage.SortPointCounterClockwise(approx)
		var cand candidate
		copy(cand.corners[:], sorted)
		cand.perimeter = rimage.ArcLength(sorted)
		if !d.acceptShape(cand, w, h) {
			continue
		}
		out = append(out, cand)
	}
	return out
}

func (d *Detector) acceptShape(c candidate, w, h int) bool {
	var sides [4]float64
	minSide := math.Inf(1)
	for i := range c.corners {
		sides[i] = c.corners[(i+1)%4].Sub(c.corners[i]).Norm()
		minSide = math.Min(minSide, sides[i])
	}
	if minSide < d.cfg.MinCornerDistanceRate*c.perimeter {
		return false
	}
	for i := 0; i < 2; i++ {
		a, opp := sides[i], sides[i+2]
		if math.Max(a, opp) > d.cfg.MaxOppositeSideRatio*math.Min(a, opp) {
			return false
		}
	}
	border := float64(d.cfg.MinDistanceToBorder)
	for _, p := range c.corners {
		if p.X < border || p.Y < border || p.X > float64(w-1)-border || p.Y > float64(h-1)-border {
			return false
		}
	}
	return true
}

// removeNearDuplicates collapses candidates whose corners all lie close together, keeping the
// one with the larger perimeter, then caps the number of candidates.
func (d *Detector) removeNearDuplicates(cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].perimeter > cands[j].perimeter
	})
	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		duplicate := false
		for _, k := range kept {
			limit := d.cfg.MinMarkerDistanceRate * math.Min(c.perimeter, k.perimeter)
			if meanCornerDistanceSq(c, k) < limit*limit {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
		if len(kept) == d.cfg.MaxCandidates {
			break
		}
	}
	return kept
}

// meanCornerDistanceSq is the mean squared corner distance under the best cyclic alignment.
func meanCornerDistanceSq(a, b candidate) float64 {
	best := math.Inf(1)
	for shift := 0; shift < 4; shift++ {
		var sum float64
		for i := range a.corners {
			sum += rimage.DistanceSq(a.corners[i], b.corners[(i+shift)%4])
		}
		best = math.Min(best, sum/4)
	}
	return best
}

// decode samples the cell grid of a candidate and looks the inner bits up in the dictionary.
func (d *Detector) decode(g *image.Gray, c candidate) (DetectedMarker, bool) {
	n := d.dict.markerSize
	cells := n + 2
	side := float64(cells)
	canonical := []r2.Point{{X: 0, Y: 0}, {X: side, Y: 0}, {X: side, Y: side}, {X: 0, Y: side}}
	h, err := transform.EstimateHomography(canonical, c.corners[:], true)
	if err != nil {
		return DetectedMarker{}, false
	}

	perCell := d.cfg.PerspectiveRemovePixelPerCell
	margin := d.cfg.PerspectiveRemoveIgnoredMarginPerCell
	step := (1 - 2*margin) / float64(perCell)
	samples := make([]uint8, 0, cells*cells*perCell*perCell)
	means := make([]float64, cells*cells)
	for r := 0; r < cells; r++ {
		for col := 0; col < cells; col++ {
			var sum float64
			for sy := 0; sy < perCell; sy++ {
				for sx := 0; sx < perCell; sx++ {
					u := float64(col) + margin + (float64(sx)+0.5)*step
					v := float64(r) + margin + (float64(sy)+0.5)*step
					p := h.Apply(r2.Point{X: u, Y: v})
					val := rimage.BilinearGray(g, p.X, p.Y)
					sum += val
					samples = append(samples, uint8(math.Round(val)))
				}
			}
			means[r*cells+col] = sum / float64(perCell*perCell)
		}
	}

	if _, stdDev := rimage.MeanStdDev(samples); stdDev < d.cfg.MinOtsuStdDev {
		return DetectedMarker{}, false
	}
	threshold := float64(rimage.OtsuThreshold(rimage.Histogram(samples)))
	white := func(r, col int) bool {
		return means[r*cells+col] > threshold
	}

	borderErrors := 0
	for i := 0; i < cells; i++ {
		for _, rc := range [4][2]int{{0, i}, {cells - 1, i}, {i, 0}, {i, cells - 1}} {
			if white(rc[0], rc[1]) {
				borderErrors++
			}
		}
	}
	// corner cells were counted twice
	for _, rc := range [4][2]int{{0, 0}, {0, cells - 1}, {cells - 1, 0}, {cells - 1, cells - 1}} {
		if white(rc[0], rc[1]) {
			borderErrors--
		}
	}
	if borderErrors > int(float64(n*n)*d.cfg.MaxErroneousBitsInBorderRate) {
		return DetectedMarker{}, false
	}

	var code uint64
	for r := 0; r < n; r++ {
		for col := 0; col < n; col++ {
			if white(r+1, col+1) {
				code = withBit(code, n, r, col)
			}
		}
	}
	correction := int(float64(d.dict.maxCorrection) * d.cfg.ErrorCorrectionRate)
	match, ok := d.dict.Identify(code, correction)
	if !ok {
		return DetectedMarker{}, false
	}

	m := DetectedMarker{
		ID:              match.ID,
		Confidence:      1 - float64(match.Distance)/float64(correction+1),
		Rotation:        match.Rotation,
		HammingDistance: match.Distance,
	}
	for i := range m.Corners {
		m.Corners[i] = c.corners[(i+match.Rotation)%4]
	}
	return m, true
}
