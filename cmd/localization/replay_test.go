package main

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/labviros/is-aruco-localization/bus"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/rimage"
	"github.com/labviros/is-aruco-localization/wire"
)

func writeFrames(t *testing.T, dir string, names ...string) {
	t.Helper()
	test.That(t, os.MkdirAll(dir, 0o700), test.ShouldBeNil)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := rimage.FormatFromPath(name); err != nil {
			test.That(t, os.WriteFile(path, []byte("notes"), 0o600), test.ShouldBeNil)
			continue
		}
		test.That(t, rimage.WriteImageToFile(path, image.NewGray(image.Rect(0, 0, 8, 6))), test.ShouldBeNil)
	}
}

func TestListFrames(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "b.png", "a.qoi", "readme.txt")
	test.That(t, os.Mkdir(filepath.Join(dir, "c.png"), 0o700), test.ShouldBeNil)

	files, err := listFrames(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, files, test.ShouldResemble, []string{filepath.Join(dir, "a.qoi"), filepath.Join(dir, "b.png")})

	_, err = listFrames(filepath.Join(dir, "missing"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReplay(t *testing.T) {
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	writeFrames(t, filepath.Join(root, "0"), "1.png", "2.png")
	writeFrames(t, filepath.Join(root, "1"), "1.qoi")

	b := bus.NewLocal(logger)
	var mu sync.Mutex
	got := map[string][]wire.Frame{}
	_, err := b.Subscribe(bus.FramePattern(), func(_ context.Context, msg bus.Message) {
		frame, err := wire.DecodeFrame(msg.Body)
		test.That(t, err, test.ShouldBeNil)
		mu.Lock()
		got[frame.CameraID] = append(got[frame.CameraID], frame)
		mu.Unlock()
	})
	test.That(t, err, test.ShouldBeNil)

	r := &replayer{
		root:   root,
		period: time.Millisecond,
		pub:    b,
		clock:  clock.New(),
		logger: logger,
	}
	test.That(t, r.run(context.Background(), []string{"0", "1", "2"}), test.ShouldBeNil)

	mu.Lock()
	defer mu.Unlock()
	test.That(t, got["0"], test.ShouldHaveLength, 2)
	test.That(t, got["1"], test.ShouldHaveLength, 1)
	test.That(t, got["0"][0].Format, test.ShouldEqual, rimage.FormatPNG)
	test.That(t, got["1"][0].Format, test.ShouldEqual, rimage.FormatQOI)

	test.That(t, r.run(context.Background(), []string{"9"}), test.ShouldNotBeNil)
}

func TestReplayStopsOnCancel(t *testing.T) {
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	writeFrames(t, filepath.Join(root, "0"), "1.png")

	ctx, cancel := context.WithCancel(context.Background())
	published := 0
	b := bus.NewLocal(logger)
	_, err := b.Subscribe(bus.FramePattern(), func(context.Context, bus.Message) {
		published++
		cancel()
	})
	test.That(t, err, test.ShouldBeNil)

	r := &replayer{
		root:   root,
		period: time.Hour,
		loop:   true,
		pub:    b,
		clock:  clock.New(),
		logger: logger,
	}
	test.That(t, r.run(ctx, []string{"0"}), test.ShouldBeNil)
	test.That(t, published, test.ShouldEqual, 1)
}
