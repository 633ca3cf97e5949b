// Package frame defines the planar 4:2:0 video frame handed to the processor.
package frame

import (
	"errors"
	"fmt"
)

// ErrInvalid is returned by Validate for frames the processor cannot read.
var ErrInvalid = errors.New("frame: invalid")

// Planar is a three-plane 4:2:0 buffer (Y, U, V) with independent row strides.
type Planar struct {
	Y, U, V []byte

	StrideY int
	StrideU int
	StrideV int
}

// Frame is one captured video frame. It is treated as immutable once captured.
type Frame struct {
	Buffer Planar

	Width    int
	Height   int
	Rotation int // 0, 90, 180 or 270

	// TimestampNs is the monotonic capture timestamp in nanoseconds.
	TimestampNs int64
}

// ChromaWidth returns ceil(Width/2).
func (f *Frame) ChromaWidth() int {
	return (f.Width + 1) / 2
}

// ChromaHeight returns ceil(Height/2).
func (f *Frame) ChromaHeight() int {
	return (f.Height + 1) / 2
}

// Validate checks that every plane can be addressed for the frame's dimensions.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalid, f.Width, f.Height)
	}
	switch f.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation %d", ErrInvalid, f.Rotation)
	}

	cw, ch := f.ChromaWidth(), f.ChromaHeight()
	if err := checkPlane("y", f.Buffer.Y, f.Buffer.StrideY, f.Width, f.Height); err != nil {
		return err
	}
	if err := checkPlane("u", f.Buffer.U, f.Buffer.StrideU, cw, ch); err != nil {
		return err
	}
	return checkPlane("v", f.Buffer.V, f.Buffer.StrideV, cw, ch)
}

func checkPlane(name string, data []byte, stride, width, rows int) error {
	if stride < width {
		return fmt.Errorf("%w: %s stride %d < width %d", ErrInvalid, name, stride, width)
	}
	need := (rows-1)*stride + width
	if len(data) < need {
		return fmt.Errorf("%w: %s plane has %d bytes, need %d", ErrInvalid, name, len(data), need)
	}
	return nil
}

// Clone returns a deep copy of the frame so the caller's buffers can be
// reused as soon as the call returns.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Buffer.Y = append([]byte(nil), f.Buffer.Y...)
	c.Buffer.U = append([]byte(nil), f.Buffer.U...)
	c.Buffer.V = append([]byte(nil), f.Buffer.V...)
	return &c
}

// NewI420 wraps a tightly packed I420 buffer (Y then U then V, no padding)
// as produced by ffmpeg's yuv420p rawvideo or OpenCV's BGR2YUV_I420.
func NewI420(data []byte, width, height int, timestampNs int64) (*Frame, error) {
	cw, ch := (width+1)/2, (height+1)/2
	ySize := width * height
	cSize := cw * ch
	if len(data) < ySize+2*cSize {
		return nil, fmt.Errorf("%w: i420 buffer has %d bytes, need %d", ErrInvalid, len(data), ySize+2*cSize)
	}
	return &Frame{
		Buffer: Planar{
			Y:       data[:ySize],
			U:       data[ySize : ySize+cSize],
			V:       data[ySize+cSize : ySize+2*cSize],
			StrideY: width,
			StrideU: cw,
			StrideV: cw,
		},
		Width:       width,
		Height:      height,
		TimestampNs: timestampNs,
	}, nil
}
