package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/labviros/is-aruco-localization/bus"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/rimage"
	"github.com/labviros/is-aruco-localization/wire"
)

// replayer publishes recorded images as camera frames, one directory per camera under root.
type replayer struct {
	root   string
	period time.Duration
	loop   bool
	pub    bus.Publisher
	clock  clock.Clock
	logger logging.Logger
}

// listFrames returns the readable images of a camera directory in name order.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := rimage.FormatFromPath(e.Name()); err != nil {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (r *replayer) run(ctx context.Context, cameras []string) error {
	var withFrames []string
	for _, camera := range cameras {
		if _, err := os.Stat(filepath.Join(r.root, camera)); err != nil {
			r.logger.Warnw("no frames to replay", "camera", camera, "error", err)
			continue
		}
		withFrames = append(withFrames, camera)
	}
	if len(withFrames) == 0 {
		return errors.Errorf("no camera directory under %s", r.root)
	}
	return runGroup(ctx, withFrames, r.replayCamera)
}

func (r *replayer) replayCamera(ctx context.Context, camera string) error {
	files, err := listFrames(filepath.Join(r.root, camera))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("camera %s has no frames to replay", camera)
	}

	ticker := r.clock.Ticker(r.period)
	defer ticker.Stop()
	for {
		for _, file := range files {
			if err := r.publish(ctx, camera, file); err != nil {
				return err
			}
			if !utils.SelectContextOrWaitChan(ctx, ticker.C) {
				return nil
			}
		}
		if !r.loop {
			r.logger.Infow("replayed", "camera", camera, "frames", len(files))
			return nil
		}
	}
}

func (r *replayer) publish(ctx context.Context, camera, file string) error {
	format, err := rimage.FormatFromPath(file)
	if err != nil {
		return err
	}
	//nolint:gosec
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	body, err := wire.EncodeFrame(wire.Frame{
		CameraID:  camera,
		Timestamp: r.clock.Now(),
		Format:    format,
		Data:      data,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot encode %s", file)
	}
	return r.pub.Publish(ctx, bus.NewMessage(ctx, bus.FrameTopic(camera), body))
}
