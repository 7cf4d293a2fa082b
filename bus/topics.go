package bus

import (
	"strings"

	"github.com/pkg/errors"
)

// Topic sections used by the camera gateways and the localization service.
const (
	CameraGatewayPrefix = "CameraGateway"
	ArUcoPrefix         = "ArUco"

	frameSuffix        = "Frame"
	localizationSuffix = "Localization"
	detectionSuffix    = "Detection"
)

// FrameTopic is where a camera gateway publishes the frames of a camera.
func FrameTopic(cameraID string) string {
	return CameraGatewayPrefix + "." + cameraID + "." + frameSuffix
}

// FramePattern matches the frames of every camera.
func FramePattern() string {
	return CameraGatewayPrefix + ".*." + frameSuffix
}

// LocalizationTopic carries the fused localization results of a camera.
func LocalizationTopic(cameraID string) string {
	return ArUcoPrefix + "." + cameraID + "." + localizationSuffix
}

// DetectionTopic carries the per marker diagnostics of a camera.
func DetectionTopic(cameraID string) string {
	return ArUcoPrefix + "." + cameraID + "." + detectionSuffix
}

// CameraFromFrameTopic extracts the camera id of a frame topic.
func CameraFromFrameTopic(topic string) (string, error) {
	sections := strings.Split(topic, ".")
	if len(sections) != 3 || sections[0] != CameraGatewayPrefix || sections[2] != frameSuffix || sections[1] == "" {
		return "", errors.Errorf("%q is not a frame topic", topic)
	}
	return sections[1], nil
}

// ValidateCameraID checks that a camera id can be used as a single topic section.
func ValidateCameraID(cameraID string) error {
	if cameraID == "" || strings.ContainsAny(cameraID, ".*") {
		return errors.Errorf("camera id %q must be non empty and contain neither '.' nor '*'", cameraID)
	}
	return nil
}
