// Package pipeline runs the per camera localization cycle: decode, detect, estimate, transform to
// the world, fuse and publish. A camera processes one frame at a time; frames arriving while a
// cycle is in flight are dropped, never queued.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.viam.com/utils"
	"golang.org/x/time/rate"

	"github.com/labviros/is-aruco-localization/bus"
	"github.com/labviros/is-aruco-localization/calibration"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/rimage"
	"github.com/labviros/is-aruco-localization/vision/aruco"
	"github.com/labviros/is-aruco-localization/vision/aruco/fusion"
	"github.com/labviros/is-aruco-localization/vision/aruco/pose"
	"github.com/labviros/is-aruco-localization/wire"
)

// ErrClosed is returned by Process once the coordinator is closed.
var ErrClosed = errors.New("pipeline is closed")

const latencyWindow = 128

// Options are the collaborators of a Coordinator. Detector, Estimator and Fuser are stateless
// and may be shared between cameras.
type Options struct {
	Detector  *aruco.Detector
	Estimator *pose.Estimator
	Fuser     *fusion.Fuser
	Publisher bus.Publisher
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Coordinator owns the pipeline of one camera.
type Coordinator struct {
	cameraID string
	calib    *calibration.CameraCalibration
	opts     Options
	logger   logging.Logger

	// token holds one value while a cycle is in flight.
	token       chan struct{}
	dropLimiter *rate.Limiter

	generation       atomic.Uint64
	accepted         atomic.Uint64
	dropped          atomic.Uint64
	droppedSinceWarn atomic.Uint64
	processed        atomic.Uint64
	noDetection      atomic.Uint64
	publishFailures  atomic.Uint64
	lastLatency      atomic.Duration

	mu                      sync.Mutex
	closed                  bool
	latencies               []time.Duration
	last                    *fusion.LocalizationResult
	activeBackgroundWorkers sync.WaitGroup
}

// NewCoordinator returns the pipeline of the camera calib describes.
func NewCoordinator(calib *calibration.CameraCalibration, opts Options, logger logging.Logger) (*Coordinator, error) {
	if calib == nil {
		return nil, errors.New("calibration is required")
	}
	if opts.Detector == nil || opts.Estimator == nil || opts.Fuser == nil {
		return nil, errors.New("detector, estimator and fuser are required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Coordinator{
		cameraID:    calib.CameraID,
		calib:       calib,
		opts:        opts,
		logger:      logger,
		token:       make(chan struct{}, 1),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// CameraID returns the camera this pipeline serves.
func (c *Coordinator) CameraID() string {
	return c.cameraID
}

// Submit hands a frame to the pipeline without blocking. It reports whether the frame was
// admitted; a frame is dropped when another one is still being processed or the coordinator is
// closed. The cycle runs in the background and is not cancelled with ctx.
func (c *Coordinator) Submit(ctx context.Context, frame wire.Frame) bool {
	select {
	case c.token <- struct{}{}:
	default:
		c.drop()
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.token
		return false
	}
	c.activeBackgroundWorkers.Add(1)
	c.mu.Unlock()

	frame.Generation = c.generation.Inc()
	c.accepted.Inc()
	cycleCtx := context.WithoutCancel(ctx)
	utils.PanicCapturingGo(func() {
		defer c.activeBackgroundWorkers.Done()
		defer func() { <-c.token }()
		c.cycle(cycleCtx, frame)
	})
	return true
}

// Process runs one cycle synchronously, waiting for any cycle in flight to finish first.
func (c *Coordinator) Process(ctx context.Context, frame wire.Frame) (fusion.LocalizationResult, error) {
	select {
	case c.token <- struct{}{}:
	case <-ctx.Done():
		return fusion.LocalizationResult{}, ctx.Err()
	}
	defer func() { <-c.token }()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fusion.LocalizationResult{}, ErrClosed
	}
	c.activeBackgroundWorkers.Add(1)
	c.mu.Unlock()
	defer c.activeBackgroundWorkers.Done()

	frame.Generation = c.generation.Inc()
	c.accepted.Inc()
	return c.cycle(ctx, frame), nil
}

// Close stops admitting frames and waits for the cycle in flight, if any, to publish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.activeBackgroundWorkers.Wait()
}

func (c *Coordinator) drop() {
	c.dropped.Inc()
	n := c.droppedSinceWarn.Inc()
	if c.dropLimiter.AllowN(c.opts.Clock.Now(), 1) {
		c.droppedSinceWarn.Store(0)
		c.logger.Warnw("dropping frames while busy", "camera", c.cameraID, "dropped", n)
	}
}

type remoteParentKey struct{}

// WithRemoteParent returns a context whose cycle span continues the trace of sc, the span
// context carried by the message a frame arrived in.
func WithRemoteParent(ctx context.Context, sc trace.SpanContext) context.Context {
	return context.WithValue(ctx, remoteParentKey{}, sc)
}

// cycle produces and publishes exactly one result for frame.
func (c *Coordinator) cycle(ctx context.Context, frame wire.Frame) fusion.LocalizationResult {
	start := c.opts.Clock.Now()
	var span *trace.Span
	if sc, ok := ctx.Value(remoteParentKey{}).(trace.SpanContext); ok {
		ctx, span = trace.StartSpanWithRemoteParent(ctx, "pipeline::Process", sc)
	} else {
		ctx, span = trace.StartSpan(ctx, "pipeline::Process")
	}
	defer span.End()
	span.AddAttributes(
		trace.StringAttribute("camera_id", c.cameraID),
		trace.StringAttribute("frame_timestamp", frame.Timestamp.UTC().Format(time.RFC3339Nano)),
		trace.Int64Attribute("generation", int64(frame.Generation)),
	)

	result := c.localize(ctx, frame)
	result.Generation = frame.Generation
	span.AddAttributes(
		trace.Int64Attribute("marker_count", int64(result.MarkerCount)),
		trace.Float64Attribute("confidence", result.Confidence),
	)

	c.publish(ctx, result)
	c.record(result, c.opts.Clock.Since(start))
	return result
}

func (c *Coordinator) localize(ctx context.Context, frame wire.Frame) fusion.LocalizationResult {
	img, err := rimage.DecodeImage(ctx, frame.Data, frame.Format, frame.Width, frame.Height)
	if err != nil {
		c.logger.Warnw("cannot decode frame", "camera", c.cameraID, "generation", frame.Generation, "error", err)
		return c.opts.Fuser.Fuse(c.cameraID, frame.Timestamp, nil)
	}
	bounds := img.Bounds()

	detectCtx, detectSpan := trace.StartSpan(ctx, "detect")
	markers := c.opts.Detector.DetectImage(detectCtx, img)
	detectSpan.AddAttributes(trace.Int64Attribute("markers", int64(len(markers))))
	detectSpan.End()

	_, estimateSpan := trace.StartSpan(ctx, "estimate")
	var rejected []fusion.MarkerDiagnostic
	camPoses := make([]pose.MarkerPose, 0, len(markers))
	for _, m := range markers {
		p, err := c.opts.Estimator.Estimate(m, c.calib, bounds.Dx(), bounds.Dy())
		if err != nil {
			c.logger.CDebugw(ctx, "marker rejected", "camera", c.cameraID, "marker", m.ID, "error", err)
			rejected = append(rejected, fusion.RejectedDiagnostic(m.ID, err))
			continue
		}
		camPoses = append(camPoses, p)
	}
	estimateSpan.End()

	_, transformSpan := trace.StartSpan(ctx, "transform")
	worldPoses := make([]pose.MarkerPose, 0, len(camPoses))
	for _, p := range camPoses {
		wp, err := pose.ToWorld(p, c.calib)
		if err != nil {
			// fusion rejects it as not being in the world frame
			c.logger.CDebugw(ctx, "cannot move pose to the world frame", "marker", p.ID, "error", err)
			wp = p
		}
		worldPoses = append(worldPoses, wp)
	}
	transformSpan.End()

	_, fuseSpan := trace.StartSpan(ctx, "fuse")
	result := c.opts.Fuser.Fuse(c.cameraID, frame.Timestamp, worldPoses)
	result.AppendDiagnostics(rejected...)
	fuseSpan.End()
	return result
}

func (c *Coordinator) publish(ctx context.Context, result fusion.LocalizationResult) {
	body, err := wire.EncodeResult(result)
	if err != nil {
		c.publishFailures.Inc()
		c.logger.Errorw("cannot encode result", "camera", c.cameraID, "error", err)
		return
	}
	if err := c.opts.Publisher.Publish(ctx, bus.NewMessage(ctx, bus.LocalizationTopic(c.cameraID), body)); err != nil {
		c.publishFailures.Inc()
		c.logger.Errorw("cannot publish result", "camera", c.cameraID, "error", err)
		return
	}
	if len(result.Markers) == 0 {
		return
	}
	body, err = wire.EncodeDetections(result)
	if err == nil {
		err = c.opts.Publisher.Publish(ctx, bus.NewMessage(ctx, bus.DetectionTopic(c.cameraID), body))
	}
	if err != nil {
		c.publishFailures.Inc()
		c.logger.Warnw("cannot publish detections", "camera", c.cameraID, "error", err)
	}
}

func (c *Coordinator) record(result fusion.LocalizationResult, latency time.Duration) {
	c.processed.Inc()
	if result.Status == fusion.StatusNoDetection {
		c.noDetection.Inc()
	}
	c.lastLatency.Store(latency)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.latencies) == latencyWindow {
		c.latencies = c.latencies[1:]
	}
	c.latencies = append(c.latencies, latency)
	c.last = &result
}
