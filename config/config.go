// Package config defines the localization service configuration and how it is read from disk.
package config

import (
	"math"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/labviros/is-aruco-localization/bus"
	"github.com/labviros/is-aruco-localization/calibration"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/vision/aruco"
	"github.com/labviros/is-aruco-localization/vision/aruco/fusion"
	"github.com/labviros/is-aruco-localization/vision/aruco/pose"
)

// DefaultServiceName is the name the service registers on the bus under.
const DefaultServiceName = "ArUco.Localization"

// TracingConfig controls span sampling.
type TracingConfig struct {
	// SampleProbability is the fraction of pipeline cycles traced, in [0, 1].
	SampleProbability float64 `json:"sampleProbability"`
}

// Apply installs the sampler process wide.
func (t TracingConfig) Apply() {
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(t.SampleProbability)})
}

// Config is the whole service configuration.
type Config struct {
	MarkerDictionary string `json:"markerDictionary"`
	// MarkerSizeMeters applies to every marker id without an entry in MarkerSizes.
	MarkerSizeMeters                 float64         `json:"markerSizeMeters"`
	MarkerSizes                      map[int]float64 `json:"markerSizes"`
	ReprojectionErrorThresholdPixels float64         `json:"reprojectionErrorThresholdPixels"`

	// CameraCalibrationPath is a calibration file or a directory of them. Relative paths are
	// resolved against the directory of the config file.
	CameraCalibrationPath string `json:"cameraCalibrationPath"`
	WorldFrame            string `json:"worldFrame"`
	// Cameras restricts the service to these ids; empty means every calibrated camera.
	Cameras []string `json:"cameras"`

	ServiceName        string `json:"serviceName"`
	DiagnosticsAddress string `json:"diagnosticsAddress"`
	Debug              bool   `json:"debug"`

	Detector aruco.DetectorConfig         `json:"detector"`
	Pose     pose.Config                  `json:"pose"`
	Fusion   fusion.Config                `json:"fusion"`
	Log      []logging.LoggerPatternConfig `json:"log"`
	Tracing  TracingConfig                `json:"tracing"`

	ConfigFilePath string `json:"-"`
}

// Default returns a configuration with every optional field at its default. Marker sizes and the
// calibration path have no sensible default.
func Default() *Config {
	return &Config{
		MarkerDictionary:                 aruco.DefaultDictionaryName,
		ReprojectionErrorThresholdPixels: fusion.DefaultConfig().ReprojectionErrorThresholdPixels,
		WorldFrame:                       calibration.DefaultWorldFrame,
		ServiceName:                      DefaultServiceName,
		Detector:                         aruco.DefaultDetectorConfig(),
		Pose:                             pose.DefaultConfig(),
		Fusion:                           fusion.DefaultConfig(),
		Tracing:                          TracingConfig{SampleProbability: 1},
	}
}

// MarkerSizeTable returns the marker side lengths.
func (c *Config) MarkerSizeTable() calibration.MarkerSizes {
	return calibration.MarkerSizes{Default: c.MarkerSizeMeters, ByID: c.MarkerSizes}
}

// FusionConfig returns the fusion settings with the service wide rejection threshold.
func (c *Config) FusionConfig() fusion.Config {
	f := c.Fusion
	f.ReprojectionErrorThresholdPixels = c.ReprojectionErrorThresholdPixels
	return f
}

// Dictionary resolves the configured marker dictionary.
func (c *Config) Dictionary() (*aruco.Dictionary, error) {
	return aruco.DictionaryByName(c.MarkerDictionary)
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs error
	if _, err := c.Dictionary(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "markerDictionary"))
	}
	if err := c.MarkerSizeTable().Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.CameraCalibrationPath == "" {
		errs = multierr.Append(errs, errors.New("cameraCalibrationPath is required"))
	}
	if c.WorldFrame == "" {
		errs = multierr.Append(errs, errors.New("worldFrame must not be empty"))
	}
	for _, id := range c.Cameras {
		if err := bus.ValidateCameraID(id); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, id := range lo.FindDuplicates(c.Cameras) {
		errs = multierr.Append(errs, errors.Errorf("camera %q is listed more than once", id))
	}
	if c.ServiceName == "" {
		errs = multierr.Append(errs, errors.New("serviceName must not be empty"))
	}
	if err := c.Detector.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "detector"))
	}
	if err := c.Pose.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "pose"))
	}
	if err := c.FusionConfig().Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "fusion"))
	}
	for _, lpc := range c.Log {
		if err := lpc.Validate(); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "log"))
		}
	}
	if p := c.Tracing.SampleProbability; !(p >= 0 && p <= 1) || math.IsNaN(p) {
		errs = multierr.Append(errs, errors.Errorf("tracing.sampleProbability must be in [0, 1], got %v", p))
	}
	return errs
}

// CalibrationOptions returns how calibration files should be interpreted.
func (c *Config) CalibrationOptions() calibration.LoadOptions {
	return calibration.LoadOptions{WorldFrame: c.WorldFrame, MarkerSizes: c.MarkerSizeTable()}
}
