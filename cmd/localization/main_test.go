package main

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/labviros/is-aruco-localization/bus"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/spatialmath"
	"github.com/labviros/is-aruco-localization/vision/aruco/fusion"
	"github.com/labviros/is-aruco-localization/wire"
)

func TestResultLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	handle := resultLogger(logger)
	ctx := context.Background()

	ok, err := wire.EncodeResult(fusion.LocalizationResult{
		CameraID:    "0",
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Generation:  3,
		Status:      fusion.StatusOK,
		Pose:        spatialmath.NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, spatialmath.NewZeroOrientation()),
		Confidence:  0.9,
		MarkerCount: 1,
	})
	test.That(t, err, test.ShouldBeNil)
	handle(ctx, bus.NewMessage(ctx, bus.LocalizationTopic("0"), ok))

	none, err := wire.EncodeResult(fusion.LocalizationResult{CameraID: "0", Status: fusion.StatusNoDetection})
	test.That(t, err, test.ShouldBeNil)
	handle(ctx, bus.NewMessage(ctx, bus.LocalizationTopic("0"), none))
	handle(ctx, bus.NewMessage(ctx, bus.LocalizationTopic("0"), []byte("garbage")))

	test.That(t, logs.FilterMessage("localization").Len(), test.ShouldEqual, 2)
	fields := logs.FilterMessage("localization").All()[0].ContextMap()
	test.That(t, fields["z"], test.ShouldEqual, 3.0)
	test.That(t, logs.FilterMessage("undecodable result").Len(), test.ShouldEqual, 1)
}
