package video

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/frame"
)

// CameraOptions configures a local capture device.
type CameraOptions struct {
	Device   string `yaml:"device"` // index ("0") or URL
	Width    int    `yaml:"width"`  // requested size, 0 keeps the driver default
	Height   int    `yaml:"height"`
	Rotation int    `yaml:"rotation"` // sensor rotation reported on every frame
}

// CameraSource grabs BGR frames with OpenCV and converts them to I420.
type CameraSource struct {
	opts CameraOptions

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewCameraSource returns a source for opts.Device. The device is opened by Run.
func NewCameraSource(opts CameraOptions) (*CameraSource, error) {
	switch opts.Rotation {
	case 0, 90, 180, 270:
	default:
		return nil, fmt.Errorf("video: invalid rotation %d", opts.Rotation)
	}
	if opts.Device == "" {
		opts.Device = "0"
	}
	return &CameraSource{opts: opts, done: make(chan struct{})}, nil
}

// Run reads frames until ctx ends or Close is called.
func (s *CameraSource) Run(ctx context.Context, fn FrameFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	capture, err := gocv.OpenVideoCapture(s.opts.Device)
	if err != nil {
		return fmt.Errorf("failed to open camera %s: %w", s.opts.Device, err)
	}
	defer capture.Close()
	if !capture.IsOpened() {
		return fmt.Errorf("camera %s is not opened", s.opts.Device)
	}
	if s.opts.Width > 0 && s.opts.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(s.opts.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(s.opts.Height))
	}

	bgr := gocv.NewMat()
	defer bgr.Close()
	yuv := gocv.NewMat()
	defer yuv.Close()

	log.Info("Camera source started", "device", s.opts.Device)
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		default:
		}

		if ok := capture.Read(&bgr); !ok {
			return fmt.Errorf("camera %s: read failed", s.opts.Device)
		}
		if bgr.Empty() {
			continue
		}

		f, err := toI420(bgr, &yuv, time.Since(start).Nanoseconds())
		if err != nil {
			return err
		}
		f.Rotation = s.opts.Rotation
		fn(f)
	}
}

// toI420 converts a BGR mat, cropped to even dimensions, into a frame whose
// planes point into yuv.
func toI420(bgr gocv.Mat, yuv *gocv.Mat, ts int64) (*frame.Frame, error) {
	w, h, err := evenSize(bgr.Cols(), bgr.Rows())
	if err != nil {
		return nil, err
	}
	src := bgr
	if w != bgr.Cols() || h != bgr.Rows() {
		src = bgr.Region(image.Rect(0, 0, w, h))
		defer src.Close()
	}

	gocv.CvtColor(src, yuv, gocv.ColorBGRToYUVI420)
	data, err := yuv.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("camera: i420 buffer: %w", err)
	}
	return frame.NewI420(data, w, h, ts)
}

// Close stops Run.
func (s *CameraSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
