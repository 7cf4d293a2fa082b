// Package rimage holds the image helpers used by marker detection: pixel format decoding,
// luminance conversion, thresholding, contour extraction and gradients.
package rimage

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.opencensus.io/trace"
	"golang.org/x/image/bmp"
)

// Pixel formats carried by frames. The raw formats are tightly packed rows without a header; the
// rest are encoded containers whose dimensions come from the payload itself.
const (
	FormatGray8  = "gray8"
	FormatRGB24  = "rgb24"
	FormatRGBA32 = "rgba32"
	FormatJPEG   = "jpeg"
	FormatPNG    = "png"
	FormatPPM    = "ppm"
	FormatBMP    = "bmp"
	FormatQOI    = "qoi"
)

// IsRawFormat reports whether the format needs explicit dimensions to decode.
func IsRawFormat(format string) bool {
	switch format {
	case FormatGray8, FormatRGB24, FormatRGBA32:
		return true
	default:
		return false
	}
}

// ValidateFormat checks that frames in format can be decoded.
func ValidateFormat(format string) error {
	switch format {
	case FormatGray8, FormatRGB24, FormatRGBA32, FormatJPEG, FormatPNG, FormatPPM, FormatBMP, FormatQOI:
		return nil
	default:
		return errors.Errorf("unsupported frame format %q", format)
	}
}

// DecodeImage decodes a frame payload. Width and height are only consulted for raw formats.
func DecodeImage(ctx context.Context, data []byte, format string, width, height int) (image.Image, error) {
	_, span := trace.StartSpan(ctx, "rimage::DecodeImage::"+format)
	defer span.End()

	if IsRawFormat(format) {
		return decodeRaw(data, format, width, height)
	}

	var (
		img image.Image
		err error
	)
	r := bytes.NewReader(data)
	switch format {
	case FormatJPEG:
		img, err = jpeg.Decode(r)
	case FormatPNG:
		img, err = png.Decode(r)
	case FormatPPM:
		img, err = ppm.Decode(r)
	case FormatBMP:
		img, err = bmp.Decode(r)
	case FormatQOI:
		img, err = qoi.Decode(r)
	case "":
		img, _, err = image.Decode(r)
	default:
		return nil, errors.Errorf("do not know how to decode %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s image", format)
	}
	return img, nil
}

func decodeRaw(data []byte, format string, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid %s dimensions %dx%d", format, width, height)
	}
	bounds := image.Rect(0, 0, width, height)
	switch format {
	case FormatGray8:
		if len(data) != width*height {
			return nil, errors.Errorf("%s payload has %d bytes, want %d", format, len(data), width*height)
		}
		img := image.NewGray(bounds)
		copy(img.Pix, data)
		return img, nil
	case FormatRGB24:
		if len(data) != 3*width*height {
			return nil, errors.Errorf("%s payload has %d bytes, want %d", format, len(data), 3*width*height)
		}
		img := image.NewRGBA(bounds)
		for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
			img.Pix[j] = data[i]
			img.Pix[j+1] = data[i+1]
			img.Pix[j+2] = data[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	case FormatRGBA32:
		if len(data) != 4*width*height {
			return nil, errors.Errorf("%s payload has %d bytes, want %d", format, len(data), 4*width*height)
		}
		img := image.NewNRGBA(bounds)
		copy(img.Pix, data)
		return img, nil
	default:
		return nil, errors.Errorf("%q is not a raw format", format)
	}
}

// EncodeImage encodes an image in the given format. Raw formats produce packed rows.
func EncodeImage(ctx context.Context, img image.Image, format string) ([]byte, error) {
	_, span := trace.StartSpan(ctx, "rimage::EncodeImage::"+format)
	defer span.End()

	var buf bytes.Buffer
	var err error
	switch format {
	case FormatGray8:
		return Luminance(img).Pix, nil
	case FormatRGB24:
		b := img.Bounds()
		out := make([]byte, 0, 3*b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				out = append(out, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			}
		}
		return out, nil
	case FormatRGBA32:
		b := img.Bounds()
		nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				nrgba.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
			}
		}
		return nrgba.Pix, nil
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatPPM:
		err = ppm.Encode(&buf, img)
	case FormatBMP:
		err = bmp.Encode(&buf, img)
	case FormatQOI:
		err = qoi.Encode(&buf, img)
	default:
		return nil, errors.Errorf("do not know how to encode %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode %s image", format)
	}
	return buf.Bytes(), nil
}

// FormatFromPath guesses the encoded format from a file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".ppm":
		return FormatPPM, nil
	case ".bmp":
		return FormatBMP, nil
	case ".qoi":
		return FormatQOI, nil
	default:
		return "", errors.Errorf("unsupported image extension %q", filepath.Ext(path))
	}
}

// ReadImageFromFile reads an encoded image from disk, picking the decoder by extension.
func ReadImageFromFile(path string) (image.Image, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeImage(context.Background(), data, format, 0, 0)
}

// WriteImageToFile writes an image to disk, picking the encoder by extension.
func WriteImageToFile(path string, img image.Image) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := EncodeImage(context.Background(), img, format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
