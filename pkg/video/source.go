// Package video produces I420 frames from ffmpeg inputs, local cameras and
// WebRTC streams.
package video

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-blinkwatch/pkg/frame"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("video: source closed")

// FrameFunc receives each decoded frame. The frame's buffers are only valid
// for the duration of the call.
type FrameFunc func(*frame.Frame)

// Source produces frames until its context ends, its input ends or it is closed.
type Source interface {
	Run(ctx context.Context, fn FrameFunc) error
	Close() error
}

// evenSize rounds both dimensions down to even numbers.
func evenSize(width, height int) (int, int, error) {
	w, h := width&^1, height&^1
	if w < 2 || h < 2 {
		return 0, 0, fmt.Errorf("video: frame size %dx%d too small", width, height)
	}
	return w, h, nil
}

// i420Size is the byte length of a packed I420 frame with even dimensions.
func i420Size(width, height int) int {
	return width*height + 2*(width/2)*(height/2)
}
