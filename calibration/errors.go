package calibration

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnknownCamera is wrapped by the ConfigError returned for a camera without calibration.
var ErrUnknownCamera = errors.New("no calibration for camera")

// ConfigError reports a missing or invalid calibration. It is fatal for the affected camera only.
type ConfigError struct {
	CameraID string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("calibration for camera %q: %v", e.CameraID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as the calibration failure of a camera.
func NewConfigError(cameraID string, err error) *ConfigError {
	return &ConfigError{CameraID: cameraID, Err: err}
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
