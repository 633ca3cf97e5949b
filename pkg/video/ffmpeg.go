package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/debug"
	"github.com/teslashibe/go-blinkwatch/pkg/frame"
)

// FFmpegOptions configures an ffmpeg decoding process.
type FFmpegOptions struct {
	Binary      string  `yaml:"binary"`      // defaults to "ffmpeg"
	Input       string  `yaml:"input"`       // file, URL, device or "pipe:0"
	InputFormat string  `yaml:"inputFormat"` // forced demuxer, e.g. "h264" or "v4l2"
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	FPS         float64 `yaml:"fps"`      // output rate; 0 keeps the input rate
	Realtime    bool    `yaml:"realtime"` // read input at its native rate (-re)
	Loop        bool    `yaml:"loop"`

	// Stdin feeds the process when Input is "pipe:0".
	Stdin io.Reader `yaml:"-"`
}

// FFmpegSource runs one persistent ffmpeg process that decodes its input to
// packed yuv420p at a fixed size and reads it back frame by frame.
type FFmpegSource struct {
	opts FFmpegOptions

	mu     sync.Mutex
	cmd    *exec.Cmd
	closed bool
	frames uint64
}

// NewFFmpegSource validates opts. Odd dimensions are rounded down to even.
func NewFFmpegSource(opts FFmpegOptions) (*FFmpegSource, error) {
	if opts.Input == "" {
		return nil, errors.New("video: ffmpeg input required")
	}
	w, h, err := evenSize(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}
	opts.Width, opts.Height = w, h
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	return &FFmpegSource{opts: opts}, nil
}

func (o FFmpegOptions) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if o.Stdin != nil {
		args = append(args, "-fflags", "nobuffer", "-flags", "low_delay")
	} else {
		args = append(args, "-nostdin")
	}
	if o.Realtime {
		args = append(args, "-re")
	}
	if o.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	if o.InputFormat != "" {
		args = append(args, "-f", o.InputFormat)
	}
	args = append(args, "-i", o.Input, "-an", "-sn")
	if o.FPS > 0 {
		args = append(args, "-r", strconv.FormatFloat(o.FPS, 'f', -1, 64))
	}
	return append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", o.Width, o.Height),
		"-pix_fmt", "yuv420p",
		"-f", "rawvideo",
		"pipe:1",
	)
}

// Size returns the output frame size.
func (s *FFmpegSource) Size() (int, int) {
	return s.opts.Width, s.opts.Height
}

// Frames returns how many frames have been delivered.
func (s *FFmpegSource) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Run starts ffmpeg and calls fn for every frame until the input ends (nil),
// ctx ends (ctx.Err()) or the process fails.
func (s *FFmpegSource) Run(ctx context.Context, fn FrameFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cmd := exec.CommandContext(ctx, s.opts.Binary, s.opts.args()...)
	cmd.Stdin = s.opts.Stdin
	cmd.WaitDelay = 2 * time.Second
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	s.cmd = cmd
	s.mu.Unlock()

	log.Info("ffmpeg source started", "input", s.opts.Input, "width", s.opts.Width, "height", s.opts.Height)

	readErr := s.read(stdout, fn)
	if readErr != nil {
		cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	s.mu.Lock()
	s.cmd = nil
	closed := s.closed
	s.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case closed:
		return ErrClosed
	case readErr != nil:
		return readErr
	case waitErr != nil:
		return fmt.Errorf("ffmpeg: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *FFmpegSource) read(r io.Reader, fn FrameFunc) error {
	var clock func(uint64) int64
	if s.opts.FPS > 0 && !s.opts.Realtime {
		period := float64(time.Second) / s.opts.FPS
		clock = func(i uint64) int64 { return int64(float64(i) * period) }
	}
	n, err := readFrames(r, s.opts.Width, s.opts.Height, clock, func(f *frame.Frame) {
		fn(f)
		s.mu.Lock()
		s.frames++
		s.mu.Unlock()
	})
	debug.Log("ffmpeg source finished", "frames", n, "error", err)
	return err
}

// readFrames reads packed I420 frames of width x height from r. One buffer
// is reused for every frame. clock maps the frame index to a timestamp; nil
// stamps frames with monotonic time since the first read.
func readFrames(r io.Reader, width, height int, clock func(uint64) int64, fn FrameFunc) (uint64, error) {
	if clock == nil {
		start := time.Now()
		clock = func(uint64) int64 { return int64(time.Since(start)) }
	}

	buf := make([]byte, i420Size(width, height))
	var n uint64
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			return n, nil
		}
		if err == io.ErrUnexpectedEOF {
			return n, fmt.Errorf("video: truncated frame after %d frames", n)
		}
		if err != nil {
			return n, err
		}

		f, err := frame.NewI420(buf, width, height, clock(n))
		if err != nil {
			return n, err
		}
		fn(f)
		n++
	}
}

// Close stops a running process. Run returns ErrClosed afterwards.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Kill()
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
