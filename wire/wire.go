// Package wire encodes the frames the service consumes and the results it produces. Payloads are
// protobuf google.protobuf.Struct messages so any bus client can read them without generated code.
package wire

import (
	"encoding/base64"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/labviros/is-aruco-localization/rimage"
)

// Frame is one camera image together with where and when it was taken.
type Frame struct {
	CameraID  string
	Timestamp time.Time
	Width     int
	Height    int
	// Format is one of the rimage formats; raw formats need Width and Height.
	Format string
	Data   []byte
	// Generation is assigned by the pipeline when it admits the frame.
	Generation uint64
}

type frameDoc struct {
	CameraID  string    `json:"camera_id"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Format    string    `json:"format"`
	Data      []byte    `json:"data"`
}

// EncodeFrame serializes a frame.
func EncodeFrame(f Frame) ([]byte, error) {
	ts, err := encodeTimestamp(f.Timestamp)
	if err != nil {
		return nil, err
	}
	return marshal(map[string]interface{}{
		"camera_id": f.CameraID,
		"timestamp": ts,
		"width":     f.Width,
		"height":    f.Height,
		"format":    f.Format,
		"data":      f.Data,
	})
}

// DecodeFrame parses a frame and checks that its format is known.
func DecodeFrame(data []byte) (Frame, error) {
	var doc frameDoc
	if err := unmarshal(data, &doc); err != nil {
		return Frame{}, errors.Wrap(err, "cannot decode frame")
	}
	f := Frame{
		CameraID:  doc.CameraID,
		Timestamp: doc.Timestamp,
		Width:     doc.Width,
		Height:    doc.Height,
		Format:    doc.Format,
		Data:      doc.Data,
	}
	if err := rimage.ValidateFormat(f.Format); err != nil {
		return Frame{}, err
	}
	if rimage.IsRawFormat(f.Format) && (f.Width <= 0 || f.Height <= 0) {
		return Frame{}, errors.Errorf("raw %s frame without dimensions", f.Format)
	}
	return f, nil
}

func encodeTimestamp(t time.Time) (string, error) {
	ts := timestamppb.New(t)
	if err := ts.CheckValid(); err != nil {
		return "", errors.Wrap(err, "invalid timestamp")
	}
	return ts.AsTime().Format(time.RFC3339Nano), nil
}

func marshal(fields map[string]interface{}) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func unmarshal(data []byte, out interface{}) error {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			base64Hook,
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(s.AsMap())
}

var bytesType = reflect.TypeOf([]byte(nil))

// base64Hook turns the base64 text structpb stores bytes as back into bytes.
func base64Hook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != bytesType {
		return data, nil
	}
	b, err := base64.StdEncoding.DecodeString(data.(string))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 payload")
	}
	return b, nil
}
