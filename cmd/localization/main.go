// Package main runs the ArUco localization service on an in-process bus, optionally replaying
// recorded camera frames into it.
package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/labviros/is-aruco-localization/bus"
	"github.com/labviros/is-aruco-localization/config"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/services/localization"
	"github.com/labviros/is-aruco-localization/vision/aruco/fusion"
	"github.com/labviros/is-aruco-localization/wire"
)

var logger = logging.NewLogger("localization")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile  string  `flag:"0,required,usage=service config file (.json or .toml)"`
	Debug       bool    `flag:"debug,usage=enable debug logging"`
	Diagnostics string  `flag:"diagnostics,usage=serve diagnostics on this address, overrides the config"`
	Frames      string  `flag:"frames,usage=directory with one subdirectory of images per camera to replay"`
	FPS         float64 `flag:"fps,usage=replay rate per camera in frames per second"`
	Loop        bool    `flag:"loop,usage=replay the frames until interrupted"`
}

const (
	defaultReplayFPS = 10
	shutdownTimeout  = 10 * time.Second
)

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.FPS == 0 {
		argsParsed.FPS = defaultReplayFPS
	}
	config.InitLoggingSettings(logger, argsParsed.Debug)

	cfg, err := config.Read(argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	if err := config.ApplyLogConfig(cfg); err != nil {
		return err
	}
	if argsParsed.Diagnostics != "" {
		cfg.DiagnosticsAddress = argsParsed.Diagnostics
	}

	exp := logging.NewSpanExporter(logger.Sublogger("trace"))
	trace.RegisterExporter(exp)
	defer trace.UnregisterExporter(exp)
	cfg.Tracing.Apply()

	b := bus.NewLocal(logger.Sublogger("bus"))
	defer func() {
		err = multierr.Combine(err, b.Close())
	}()

	svc, err := localization.New(cfg, b, clock.New(), logger.Sublogger(cfg.ServiceName))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = multierr.Combine(err, svc.Close(closeCtx))
	}()

	unsubscribe, err := b.Subscribe(bus.ArUcoPrefix+".*.Localization", resultLogger(logger.Sublogger("results")))
	if err != nil {
		return err
	}
	defer unsubscribe()

	if err := svc.Start(); err != nil {
		return err
	}
	if cfg.DiagnosticsAddress != "" {
		if _, err := svc.ServeDiagnostics(cfg.DiagnosticsAddress); err != nil {
			return err
		}
	}

	if argsParsed.Frames == "" {
		<-ctx.Done()
		return nil
	}
	r := &replayer{
		root:   argsParsed.Frames,
		period: time.Duration(float64(time.Second) / argsParsed.FPS),
		loop:   argsParsed.Loop,
		pub:    b,
		clock:  clock.New(),
		logger: logger.Sublogger("replay"),
	}
	if err := r.run(ctx, svc.CameraIDs()); err != nil {
		return err
	}
	if argsParsed.Loop {
		return nil
	}
	logger.Info("replay finished, waiting for interrupt")
	<-ctx.Done()
	return nil
}

func resultLogger(logger logging.Logger) bus.Handler {
	return func(ctx context.Context, msg bus.Message) {
		res, err := wire.DecodeResult(msg.Body)
		if err != nil {
			logger.Warnw("undecodable result", "topic", msg.Topic, "error", err)
			return
		}
		if res.Status != fusion.StatusOK || res.Pose == nil {
			logger.CDebugw(ctx, "localization", "camera", res.CameraID, "generation", res.Generation,
				"status", res.Status, "rejected", len(res.Rejected()))
			return
		}
		pt := res.Pose.Point()
		logger.Infow("localization",
			"camera", res.CameraID,
			"generation", res.Generation,
			"status", res.Status,
			"x", pt.X, "y", pt.Y, "z", pt.Z,
			"confidence", res.Confidence,
			"markers", res.MarkerCount,
		)
	}
}

// runGroup runs fn once per camera and returns the first error.
func runGroup(ctx context.Context, cameras []string, fn func(ctx context.Context, camera string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, camera := range cameras {
		g.Go(func() error {
			return fn(ctx, camera)
		})
	}
	return g.Wait()
}
