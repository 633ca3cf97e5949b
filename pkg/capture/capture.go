// Package capture encodes a still of an NV21 frame, optionally cropped to a
// padded face box and scaled down, as base64 JPEG.
package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"

	"github.com/teslashibe/go-blinkwatch/pkg/pixfmt"
)

// ErrEmptyRegion is returned when the padded face box does not intersect the frame.
var ErrEmptyRegion = errors.New("capture: empty region")

// PaddingRatio is the fraction of the face box's shorter side added on every side.
const PaddingRatio = 0.2

// Options control one capture.
type Options struct {
	CropToFace bool
	Quality    float64 // 0..1
	MaxWidth   int     // 0 disables scaling
}

// Encoder produces base64 JPEG stills. The zero value is not usable; call NewEncoder.
type Encoder struct {
	// Scaler resizes regions wider than MaxWidth.
	Scaler draw.Scaler
}

// NewEncoder returns an encoder that scales with approximate bilinear interpolation.
func NewEncoder() *Encoder {
	return &Encoder{Scaler: draw.ApproxBiLinear}
}

// Quality converts a 0..1 quality to a JPEG quality in 1..100.
func Quality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// ExpandRegion pads roi by PaddingRatio of its shorter side and clamps it to bounds.
func ExpandRegion(roi, bounds image.Rectangle) image.Rectangle {
	pad := int(float64(min(roi.Dx(), roi.Dy())) * PaddingRatio)
	return image.Rect(roi.Min.X-pad, roi.Min.Y-pad, roi.Max.X+pad, roi.Max.Y+pad).Intersect(bounds)
}

// Capture encodes the selected region of an NV21 frame. roi is ignored unless
// opts.CropToFace is set. Callers treat any error as "no capture".
func (e *Encoder) Capture(nv21 []byte, width, height int, roi *image.Rectangle, opts Options) (string, error) {
	img, err := pixfmt.NV21ToYCbCr(nv21, width, height)
	if err != nil {
		return "", fmt.Errorf("capture: %w", err)
	}

	region := img.Bounds()
	if opts.CropToFace && roi != nil {
		region = ExpandRegion(*roi, region)
		if region.Empty() {
			return "", ErrEmptyRegion
		}
	}

	quality := Quality(opts.Quality)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img.SubImage(region), &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("capture: encode: %w", err)
	}

	if opts.MaxWidth > 0 && region.Dx() > opts.MaxWidth {
		scaled, err := e.resize(buf.Bytes(), opts.MaxWidth, quality)
		if err != nil {
			return "", err
		}
		buf.Reset()
		buf.Write(scaled)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (e *Encoder) resize(data []byte, maxWidth, quality int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture: decode: %w", err)
	}

	b := src.Bounds()
	h := int(float64(b.Dy()) * float64(maxWidth) / float64(b.Dx()))
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	scaler := e.Scaler
	if scaler == nil {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("capture: encode scaled: %w", err)
	}
	return out.Bytes(), nil
}
