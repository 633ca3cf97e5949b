// Package pixfmt converts between the planar I420 layout frames arrive in and
// the NV21 layout the face detectors and the still encoder consume.
package pixfmt

import (
	"errors"
	"fmt"
	"image"

	"github.com/teslashibe/go-blinkwatch/pkg/frame"
)

// ErrShortBuffer is returned when an NV21 buffer is smaller than its dimensions require.
var ErrShortBuffer = errors.New("pixfmt: buffer too short")

// NV21Size returns the byte size of an NV21 buffer:
// width*height luma bytes plus one V/U pair per 2x2 block.
func NV21Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// ToNV21 converts a planar I420 buffer into NV21: the luma plane followed by a
// single chroma plane with V and U interleaved, V first.
//
// Each source plane is read with its own stride; the output is tightly packed.
func ToNV21(p frame.Planar, width, height int) []byte {
	cw, ch := (width+1)/2, (height+1)/2
	ySize := width * height
	out := make([]byte, ySize+2*cw*ch)

	for row := 0; row < height; row++ {
		copy(out[row*width:(row+1)*width], p.Y[row*p.StrideY:row*p.StrideY+width])
	}

	off := ySize
	for row := 0; row < ch; row++ {
		u := p.U[row*p.StrideU : row*p.StrideU+cw]
		v := p.V[row*p.StrideV : row*p.StrideV+cw]
		for col := 0; col < cw; col++ {
			out[off] = v[col]
			out[off+1] = u[col]
			off += 2
		}
	}

	return out
}

// NV21ToYCbCr de-interleaves an NV21 buffer into a 4:2:0 image.YCbCr.
// The luma plane is shared with nv21, chroma planes are newly allocated.
func NV21ToYCbCr(nv21 []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("pixfmt: invalid size %dx%d", width, height)
	}
	if len(nv21) < NV21Size(width, height) {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(nv21), NV21Size(width, height))
	}

	cw, ch := (width+1)/2, (height+1)/2
	ySize := width * height
	cb := make([]byte, cw*ch)
	cr := make([]byte, cw*ch)
	vu := nv21[ySize:]
	for i := range cb {
		cr[i] = vu[2*i]
		cb[i] = vu[2*i+1]
	}

	return &image.YCbCr{
		Y:              nv21[:ySize:ySize],
		Cb:             cb,
		Cr:             cr,
		YStride:        width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}

// EvenNV21 returns an NV21 buffer cropped to even dimensions, the layout
// libraries that assume 2x2 chroma blocks without remainder expect.
// Even-sized input is returned as is.
func EvenNV21(nv21 []byte, width, height int) ([]byte, int, int) {
	ew, eh := width&^1, height&^1
	if ew == width && eh == height {
		return nv21[:NV21Size(width, height)], width, height
	}

	out := make([]byte, ew*eh*3/2)
	for row := 0; row < eh; row++ {
		copy(out[row*ew:(row+1)*ew], nv21[row*width:row*width+ew])
	}
	srcStride := 2 * ((width + 1) / 2)
	src := nv21[width*height:]
	dst := out[ew*eh:]
	for row := 0; row < eh/2; row++ {
		copy(dst[row*ew:(row+1)*ew], src[row*srcStride:row*srcStride+ew])
	}
	return out, ew, eh
}
