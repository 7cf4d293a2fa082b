package calibration

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/labviros/is-aruco-localization/spatialmath"
)

// frameID accepts either a JSON string or a JSON number.
type frameID string

func (f *frameID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = frameID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Errorf("frame id must be a string or a number, got %s", data)
	}
	*f = frameID(n.String())
	return nil
}

type tensor struct {
	Doubles []float64 `json:"doubles"`
}

type frameTransformation struct {
	From frameID `json:"from"`
	To   frameID `json:"to"`
	TF   tensor  `json:"tf"`
}

// calibrationFile is the on-disk layout of one camera calibration.
type calibrationFile struct {
	ID         frameID `json:"id"`
	Resolution struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"resolution"`
	Intrinsic  tensor                `json:"intrinsic"`
	Distortion tensor                `json:"distortion"`
	Extrinsic  []frameTransformation `json:"extrinsic"`
}

// parseCalibrations reads a file holding either a single calibration or a
// {"calibrations": [...]} list.
func parseCalibrations(data []byte) ([]calibrationFile, error) {
	var list struct {
		Calibrations []calibrationFile `json:"calibrations"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	if len(list.Calibrations) > 0 {
		return list.Calibrations, nil
	}
	var single calibrationFile
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	if single.ID == "" {
		return nil, errors.New("calibration has no id")
	}
	return []calibrationFile{single}, nil
}

func (f *calibrationFile) toCalibration(worldFrame string, sizes MarkerSizes) (*CameraCalibration, error) {
	if len(f.Intrinsic.Doubles) != 9 {
		return nil, errors.Errorf("intrinsic has %d values, want 9", len(f.Intrinsic.Doubles))
	}
	var k [3][3]float64
	for i, v := range f.Intrinsic.Doubles {
		k[i/3][i%3] = v
	}
	tf, err := f.cameraToWorld(worldFrame)
	if err != nil {
		return nil, err
	}
	calib, err := NewCameraCalibration(
		string(f.ID), f.Resolution.Width, f.Resolution.Height, k, f.Distortion.Doubles, tf, sizes)
	if err != nil {
		return nil, err
	}
	calib.WorldFrame = worldFrame
	return calib, nil
}

// cameraToWorld picks the extrinsic linking the camera to the world frame, inverting it when it
// is stored world to camera.
func (f *calibrationFile) cameraToWorld(worldFrame string) ([4][4]float64, error) {
	var tf [4][4]float64
	for _, ext := range f.Extrinsic {
		var inverse bool
		switch {
		case ext.From == f.ID && string(ext.To) == worldFrame:
		case string(ext.From) == worldFrame && ext.To == f.ID:
			inverse = true
		default:
			continue
		}
		if len(ext.TF.Doubles) != 16 {
			return tf, errors.Errorf("extrinsic has %d values, want 16", len(ext.TF.Doubles))
		}
		for i, v := range ext.TF.Doubles {
			tf[i/4][i%4] = v
		}
		if !inverse {
			return tf, nil
		}
		pose, err := rigidTransform(tf)
		if err != nil {
			return tf, errors.Wrap(err, "extrinsic")
		}
		return homogeneous(spatialmath.PoseInverse(pose)), nil
	}
	return tf, errors.Errorf("no extrinsic between camera %q and frame %q", f.ID, worldFrame)
}

func homogeneous(p spatialmath.Pose) [4][4]float64 {
	rm := p.Orientation().RotationMatrix()
	t := p.Point()
	return [4][4]float64{
		{rm.At(0, 0), rm.At(0, 1), rm.At(0, 2), t.X},
		{rm.At(1, 0), rm.At(1, 1), rm.At(1, 2), t.Y},
		{rm.At(2, 0), rm.At(2, 1), rm.At(2, 2), t.Z},
		{0, 0, 0, 1},
	}
}
