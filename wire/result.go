package wire

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/labviros/is-aruco-localization/spatialmath"
	"github.com/labviros/is-aruco-localization/vision/aruco/fusion"
)

type vectorDoc struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quaternionDoc struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type poseDoc struct {
	Position    vectorDoc     `json:"position"`
	Orientation quaternionDoc `json:"orientation"`
}

type markerDoc struct {
	ID                int      `json:"id"`
	MarkerFrameID     int      `json:"marker_frame_id"`
	Accepted          bool     `json:"accepted"`
	Reason            string   `json:"reason"`
	ReprojectionError float64  `json:"reprojection_error"`
	Quality           float64  `json:"quality"`
	Pose              *poseDoc `json:"pose"`
}

type resultDoc struct {
	CameraID    string        `json:"camera_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Generation  uint64        `json:"generation"`
	Status      string        `json:"status"`
	Position    vectorDoc     `json:"position"`
	Orientation quaternionDoc `json:"orientation"`
	Confidence  float64       `json:"confidence"`
	MarkerCount int           `json:"marker_count"`
	Markers     []markerDoc   `json:"markers"`
}

// poseFields writes a pose with its orientation as a unit quaternion with a non negative real
// part, plus the matching roll, pitch and yaw for readers that want angles.
func poseFields(p spatialmath.Pose) map[string]interface{} {
	pt := p.Point()
	q := spatialmath.Canonical(p.Orientation().Quaternion())
	e := spatialmath.QuatToEulerAngles(q)
	return map[string]interface{}{
		"position":    map[string]interface{}{"x": pt.X, "y": pt.Y, "z": pt.Z},
		"orientation": map[string]interface{}{"w": q.Real, "x": q.Imag, "y": q.Jmag, "z": q.Kmag},
		"euler":       map[string]interface{}{"roll": e.Roll, "pitch": e.Pitch, "yaw": e.Yaw},
	}
}

func (d poseDoc) pose() spatialmath.Pose {
	q := quat.Number{Real: d.Orientation.W, Imag: d.Orientation.X, Jmag: d.Orientation.Y, Kmag: d.Orientation.Z}
	if q == (quat.Number{}) {
		q = quat.Number{Real: 1}
	}
	return spatialmath.NewPose(
		r3.Vector{X: d.Position.X, Y: d.Position.Y, Z: d.Position.Z},
		spatialmath.NewOrientationFromQuaternion(q),
	)
}

func markerFields(markers []fusion.MarkerDiagnostic) []interface{} {
	out := make([]interface{}, 0, len(markers))
	for _, m := range markers {
		fields := map[string]interface{}{
			"id":                 m.ID,
			"marker_frame_id":    m.MarkerFrameID,
			"accepted":           m.Accepted,
			"reason":             string(m.Reason),
			"reprojection_error": m.ReprojectionError,
			"quality":            m.Quality,
		}
		if m.Pose != nil {
			fields["pose"] = poseFields(m.Pose)
		}
		out = append(out, fields)
	}
	return out
}

// EncodeResult serializes a localization result, diagnostics included.
func EncodeResult(r fusion.LocalizationResult) ([]byte, error) {
	ts, err := encodeTimestamp(r.Timestamp)
	if err != nil {
		return nil, err
	}
	p := r.Pose
	if p == nil {
		p = spatialmath.NewZeroPose()
	}
	fields := poseFields(p)
	fields["camera_id"] = r.CameraID
	fields["timestamp"] = ts
	fields["generation"] = r.Generation
	fields["status"] = string(r.Status)
	fields["confidence"] = r.Confidence
	fields["marker_count"] = r.MarkerCount
	fields["markers"] = markerFields(r.Markers)
	return marshal(fields)
}

// EncodeDetections serializes only the per marker diagnostics of a result.
func EncodeDetections(r fusion.LocalizationResult) ([]byte, error) {
	ts, err := encodeTimestamp(r.Timestamp)
	if err != nil {
		return nil, err
	}
	return marshal(map[string]interface{}{
		"camera_id":  r.CameraID,
		"timestamp":  ts,
		"generation": r.Generation,
		"markers":    markerFields(r.Markers),
	})
}

// DecodeResult parses a payload written by EncodeResult. Euler angles are ignored; the
// quaternion is authoritative.
func DecodeResult(data []byte) (fusion.LocalizationResult, error) {
	var doc resultDoc
	if err := unmarshal(data, &doc); err != nil {
		return fusion.LocalizationResult{}, errors.Wrap(err, "cannot decode localization result")
	}
	r := fusion.LocalizationResult{
		CameraID:    doc.CameraID,
		Timestamp:   doc.Timestamp,
		Generation:  doc.Generation,
		Status:      fusion.Status(doc.Status),
		Pose:        poseDoc{Position: doc.Position, Orientation: doc.Orientation}.pose(),
		Confidence:  doc.Confidence,
		MarkerCount: doc.MarkerCount,
	}
	for _, m := range doc.Markers {
		diag := fusion.MarkerDiagnostic{
			ID:                m.ID,
			MarkerFrameID:     m.MarkerFrameID,
			Accepted:          m.Accepted,
			Reason:            fusion.RejectReason(m.Reason),
			ReprojectionError: m.ReprojectionError,
			Quality:           m.Quality,
		}
		if m.Pose != nil {
			diag.Pose = m.Pose.pose()
		}
		r.Markers = append(r.Markers, diag)
	}
	return r, nil
}
