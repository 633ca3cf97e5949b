package processor

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrDisposed     = errors.New("processor: disposed")
	ErrInvalidFrame = errors.New("processor: invalid frame")
	ErrBusy         = errors.New("processor: busy") // Process called while a frame is in flight
)

// DetectorError wraps a failed detector call for one frame.
type DetectorError struct {
	Frame uint64 // frame index
	Err   error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("processor: detector failed on frame %d: %v", e.Frame, e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}
