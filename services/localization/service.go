// Package localization wires the per camera pipelines to the bus: it consumes camera frames and
// publishes one localization result per processed frame.
package localization

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/labviros/is-aruco-localization/bus"
	"github.com/labviros/is-aruco-localization/calibration"
	"github.com/labviros/is-aruco-localization/config"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/services/localization/pipeline"
	"github.com/labviros/is-aruco-localization/vision/aruco"
	"github.com/labviros/is-aruco-localization/vision/aruco/fusion"
	"github.com/labviros/is-aruco-localization/vision/aruco/pose"
	"github.com/labviros/is-aruco-localization/wire"
)

// Service runs one pipeline per configured camera.
type Service struct {
	cfg       *config.Config
	bus       bus.PublishSubscriber
	logger    logging.Logger
	pipelines map[string]*pipeline.Coordinator

	mu          sync.Mutex
	unsubscribe func()
	httpServer  *http.Server

	activeBackgroundWorkers sync.WaitGroup
}

// New loads the calibrations named by cfg and builds the pipelines. A camera whose calibration
// is missing or invalid is logged and left out; New only fails when no camera is left.
func New(cfg *config.Config, b bus.PublishSubscriber, clk clock.Clock, logger logging.Logger) (*Service, error) {
	store, err := calibration.LoadStore(cfg.CameraCalibrationPath, cfg.CalibrationOptions(), logger.Sublogger("calibration"))
	if err != nil {
		return nil, err
	}
	return NewFromStore(cfg, store, b, clk, logger)
}

// NewFromStore is New with already loaded calibrations.
func NewFromStore(
	cfg *config.Config,
	store *calibration.Store,
	b bus.PublishSubscriber,
	clk clock.Clock,
	logger logging.Logger,
) (*Service, error) {
	dict, err := cfg.Dictionary()
	if err != nil {
		return nil, err
	}
	detector, err := aruco.NewDetector(dict, cfg.Detector, logger.Sublogger("detector"))
	if err != nil {
		return nil, err
	}
	estimator, err := pose.NewEstimator(cfg.Pose, logger.Sublogger("pose"))
	if err != nil {
		return nil, err
	}
	fuser, err := fusion.NewFuser(cfg.FusionConfig())
	if err != nil {
		return nil, err
	}

	cameras := cfg.Cameras
	if len(cameras) == 0 {
		cameras = store.CameraIDs()
	}
	s := &Service{
		cfg:       cfg,
		bus:       b,
		logger:    logger,
		pipelines: map[string]*pipeline.Coordinator{},
	}
	var disabled error
	for _, id := range cameras {
		calib, err := s.calibrationFor(store, id)
		if err != nil {
			logger.Errorw("camera disabled", "camera", id, "error", err)
			disabled = multierr.Append(disabled, err)
			continue
		}
		p, err := pipeline.NewCoordinator(calib, pipeline.Options{
			Detector:  detector,
			Estimator: estimator,
			Fuser:     fuser,
			Publisher: b,
			Clock:     clk,
		}, logger.Sublogger("pipeline."+id))
		if err != nil {
			return nil, err
		}
		s.pipelines[id] = p
	}
	if len(s.pipelines) == 0 {
		return nil, errors.Wrap(multierr.Append(disabled, errors.New("no camera could be started")), cfg.ServiceName)
	}
	logger.Infow("localization pipelines ready", "service", cfg.ServiceName, "cameras", s.CameraIDs(),
		"dictionary", dict.Name())
	return s, nil
}

func (s *Service) calibrationFor(store *calibration.Store, id string) (*calibration.CameraCalibration, error) {
	if err := bus.ValidateCameraID(id); err != nil {
		return nil, calibration.NewConfigError(id, err)
	}
	return store.Load(id)
}

// Start subscribes to the frames of every camera.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return errors.New("already started")
	}
	unsubscribe, err := s.bus.Subscribe(bus.FramePattern(), s.onFrame)
	if err != nil {
		return err
	}
	s.unsubscribe = unsubscribe
	return nil
}

func (s *Service) onFrame(ctx context.Context, msg bus.Message) {
	cameraID, err := bus.CameraFromFrameTopic(msg.Topic)
	if err != nil {
		s.logger.Warnw("ignoring message", "topic", msg.Topic, "error", err)
		return
	}
	p, ok := s.pipelines[cameraID]
	if !ok {
		s.logger.Debugw("ignoring frame of unconfigured camera", "camera", cameraID)
		return
	}
	frame, err := wire.DecodeFrame(msg.Body)
	if err != nil {
		s.logger.Warnw("ignoring undecodable frame", "camera", cameraID, "correlation_id", msg.CorrelationID, "error", err)
		return
	}
	frame.CameraID = cameraID

	if sc, ok := msg.SpanContext(); ok {
		ctx = pipeline.WithRemoteParent(ctx, sc)
	}
	p.Submit(ctx, frame)
}

// Pipeline returns the pipeline of a camera.
func (s *Service) Pipeline(cameraID string) (*pipeline.Coordinator, bool) {
	p, ok := s.pipelines[cameraID]
	return p, ok
}

// CameraIDs returns the cameras with a running pipeline, sorted.
func (s *Service) CameraIDs() []string {
	ids := lo.Keys(s.pipelines)
	sort.Strings(ids)
	return ids
}

// Stats returns the counters of every pipeline ordered by camera id.
func (s *Service) Stats() []pipeline.Stats {
	return lo.Map(s.CameraIDs(), func(id string, _ int) pipeline.Stats {
		return s.pipelines[id].Stats()
	})
}

// Close stops consuming frames, waits for in-flight cycles to publish and stops the
// diagnostics server.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	server := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, id := range s.CameraIDs() {
		s.pipelines[id].Close()
	}
	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	s.activeBackgroundWorkers.Wait()
	return err
}
