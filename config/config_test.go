package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/multierr"
	"go.viam.com/test"

	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/vision/aruco"
	"github.com/labviros/is-aruco-localization/vision/aruco/pose"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

func TestReadJSON(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := writeConfig(t, "service.json", `{
		"markerDictionary": "5X5_100",
		"markerSizeMeters": 0.15,
		"markerSizes": {"7": 0.2, "12": 0.05},
		"reprojectionErrorThresholdPixels": 2.5,
		"cameraCalibrationPath": "calibrations",
		"cameras": ["0", "1"],
		"detector": {"adaptiveThreshWinSizeMax": 33, "preBlurSigma": 0.8},
		"fusion": {"kappa": 0.1},
		"log": [{"pattern": "aruco.*", "level": "debug"}],
		"tracing": {"sampleProbability": 0.25}
	}`)
	cfg, err := Read(path, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.MarkerDictionary, test.ShouldEqual, "5X5_100")
	test.That(t, cfg.MarkerSizes, test.ShouldResemble, map[int]float64{7: 0.2, 12: 0.05})
	size, ok := cfg.MarkerSizeTable().Size(3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, size, test.ShouldEqual, 0.15)
	test.That(t, cfg.CameraCalibrationPath, test.ShouldEqual, filepath.Join(filepath.Dir(path), "calibrations"))
	test.That(t, cfg.Cameras, test.ShouldResemble, []string{"0", "1"})
	test.That(t, cfg.ServiceName, test.ShouldEqual, DefaultServiceName)

	// unset keys keep their defaults
	def := aruco.DefaultDetectorConfig()
	test.That(t, cfg.Detector.AdaptiveThreshWinSizeMax, test.ShouldEqual, 33)
	test.That(t, cfg.Detector.PreBlurSigma, test.ShouldEqual, 0.8)
	test.That(t, cfg.Detector.AdaptiveThreshWinSizeMin, test.ShouldEqual, def.AdaptiveThreshWinSizeMin)
	test.That(t, cfg.Pose, test.ShouldResemble, pose.DefaultConfig())

	fusionCfg := cfg.FusionConfig()
	test.That(t, fusionCfg.Kappa, test.ShouldEqual, 0.1)
	test.That(t, fusionCfg.ReprojectionErrorThresholdPixels, test.ShouldEqual, 2.5)
	test.That(t, cfg.Log, test.ShouldResemble, []logging.LoggerPatternConfig{{Pattern: "aruco.*", Level: "debug"}})
	test.That(t, cfg.Tracing.SampleProbability, test.ShouldEqual, 0.25)

	dict, err := cfg.Dictionary()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dict.MarkerSize(), test.ShouldEqual, 5)
}

func TestReadTOML(t *testing.T) {
	path := writeConfig(t, "service.toml", `
markerSizeMeters = 0.1
cameraCalibrationPath = "/etc/aruco/calibrations"
diagnosticsAddress = "localhost:8090"

[markerSizes]
"3" = 0.3

[pose]
maxIterations = 20
distanceScoreFar = 8
`)
	cfg, err := Read(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.MarkerDictionary, test.ShouldEqual, aruco.DefaultDictionaryName)
	test.That(t, cfg.MarkerSizes, test.ShouldResemble, map[int]float64{3: 0.3})
	test.That(t, cfg.CameraCalibrationPath, test.ShouldEqual, "/etc/aruco/calibrations")
	test.That(t, cfg.DiagnosticsAddress, test.ShouldEqual, "localhost:8090")
	test.That(t, cfg.Pose.MaxIterations, test.ShouldEqual, 20)
	test.That(t, cfg.Pose.DistanceScoreFar, test.ShouldEqual, 8.0)
	test.That(t, cfg.Pose.DistanceScoreNear, test.ShouldEqual, pose.DefaultConfig().DistanceScoreNear)
	test.That(t, cfg.ReprojectionErrorThresholdPixels, test.ShouldEqual, 3.0)
}

func TestReadErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := Read(writeConfig(t, "service.yaml", "a: 1"), logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeConfig(t, "service.json", `{"markerSizeMeters": 0.1,`), logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeConfig(t, "service.json", `{
		"markerSizeMeters": 0.1, "cameraCalibrationPath": "c", "markerSize": 0.2}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "markerSize")

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.MarkerDictionary = "7X7_1000"
	cfg.ReprojectionErrorThresholdPixels = 0
	cfg.Cameras = []string{"0", "0", "a.b"}
	cfg.Detector.AdaptiveThreshWinSizeStep = 0
	cfg.Log = []logging.LoggerPatternConfig{{Pattern: "a..b", Level: "info"}}
	cfg.Tracing.SampleProbability = 2

	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	msg := err.Error()
	for _, want := range []string{
		"7X7_1000",
		"no marker size configured",
		"cameraCalibrationPath is required",
		`camera "0" is listed more than once`,
		`"a.b"`,
		"adaptiveThreshWinSizeStep",
		"reprojectionErrorThresholdPixels",
		`invalid logger pattern "a..b"`,
		"sampleProbability",
	} {
		test.That(t, msg, test.ShouldContainSubstring, want)
	}
	test.That(t, len(multierr.Errors(err)), test.ShouldBeGreaterThanOrEqualTo, 9)

	ok := Default()
	ok.MarkerSizeMeters = 0.1
	ok.CameraCalibrationPath = "calibrations"
	test.That(t, ok.Validate(), test.ShouldBeNil)
	test.That(t, ok.CalibrationOptions().WorldFrame, test.ShouldEqual, "world")
}
