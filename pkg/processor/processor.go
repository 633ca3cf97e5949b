// Package processor runs sampled video frames through a face detector and
// turns the results into face geometry and blink events.
//
// OnFrame never blocks the caller: it samples, claims the single in-flight
// slot, copies the frame planes and hands them to one worker goroutine. The
// worker converts to NV21, waits for the detector, advances the blink state
// machines and delivers events through an Executor.
package processor

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/blink"
	"github.com/teslashibe/go-blinkwatch/pkg/capture"
	"github.com/teslashibe/go-blinkwatch/pkg/debug"
	"github.com/teslashibe/go-blinkwatch/pkg/face"
	"github.com/teslashibe/go-blinkwatch/pkg/frame"
	"github.com/teslashibe/go-blinkwatch/pkg/pixfmt"
)

// Processor is the frame processing pipeline. Create it with New and
// release it with Dispose.
type Processor struct {
	detector face.Detector
	encoder  *capture.Encoder
	tracker  *blink.Tracker
	gate     *Gate
	cfg      atomic.Pointer[Config]
	cfgMu    sync.Mutex // serializes writers of cfg

	exec     Executor
	ownExec  *Looper
	sinkMu   sync.RWMutex
	faceSink FaceSink
	blinkSnk BlinkSink

	jobs     chan job
	ctx      context.Context
	cancel   context.CancelFunc
	disposed atomic.Bool
	once     sync.Once
	wg       sync.WaitGroup

	stats counters
	log   *slog.Logger
}

type job struct {
	frame *frame.Frame
	index uint64
}

type counters struct {
	invalid          atomic.Uint64
	processed        atomic.Uint64
	detectorFailures atomic.Uint64
	faces            atomic.Uint64
	blinks           atomic.Uint64
	capturesTaken    atomic.Uint64
	capturesFailed   atomic.Uint64
}

// Option configures a Processor.
type Option func(*Processor)

// WithConfig sets the initial configuration. Invalid configs are ignored.
func WithConfig(cfg Config) Option {
	return func(p *Processor) {
		if cfg.Validate() == nil {
			p.cfg.Store(&cfg)
		}
	}
}

// WithExecutor delivers events through exec instead of a private Looper.
func WithExecutor(exec Executor) Option {
	return func(p *Processor) {
		p.exec = exec
	}
}

// WithEncoder replaces the still encoder.
func WithEncoder(enc *capture.Encoder) Option {
	return func(p *Processor) {
		p.encoder = enc
	}
}

// New creates a processor around detector and starts its worker.
// The processor owns detector and closes it on Dispose.
func New(detector face.Detector, opts ...Option) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		detector: detector,
		encoder:  capture.NewEncoder(),
		jobs:     make(chan job, 1),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With("component", "processor"),
	}
	def := DefaultConfig()
	p.cfg.Store(&def)

	for _, opt := range opts {
		opt(p)
	}
	if p.exec == nil {
		p.ownExec = NewLooper(64)
		p.exec = p.ownExec
	}

	cfg := p.Config()
	p.gate = NewGate(cfg.FrameSkipCount)
	p.tracker = blink.NewTracker(cfg.BlinkThreshold)

	p.wg.Add(1)
	go p.run()
	return p
}

// Configure swaps in a new configuration. Frames already being processed
// keep the snapshot they started with.
func (p *Processor) Configure(cfg Config) error {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	return p.storeConfig(cfg)
}

// ConfigureMap overlays loosely typed options on the current configuration.
// Out-of-type and out-of-range values are ignored. Concurrent callers are
// merged one after another, so no caller's keys are lost.
func (p *Processor) ConfigureMap(params map[string]any) (Config, error) {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	cfg := ApplyMap(p.Config(), params)
	return cfg, p.storeConfig(cfg)
}

// storeConfig validates and publishes cfg. The caller holds cfgMu.
func (p *Processor) storeConfig(cfg Config) error {
	if p.disposed.Load() {
		return ErrDisposed
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("processor: invalid config: %w", err)
	}
	p.cfg.Store(&cfg)
	p.gate.SetSkip(cfg.FrameSkipCount)
	return nil
}

// Config returns the current configuration snapshot.
func (p *Processor) Config() Config {
	return *p.cfg.Load()
}

// RegisterFaceSink sets the face event sink. nil unregisters.
func (p *Processor) RegisterFaceSink(s FaceSink) {
	p.sinkMu.Lock()
	p.faceSink = s
	p.sinkMu.Unlock()
}

// RegisterBlinkSink sets the blink event sink. nil unregisters.
func (p *Processor) RegisterBlinkSink(s BlinkSink) {
	p.sinkMu.Lock()
	p.blinkSnk = s
	p.sinkMu.Unlock()
}

func (p *Processor) sinks() (FaceSink, BlinkSink) {
	p.sinkMu.RLock()
	defer p.sinkMu.RUnlock()
	return p.faceSink, p.blinkSnk
}

// Tracker exposes the blink state machines for inspection.
func (p *Processor) Tracker() *blink.Tracker {
	return p.tracker
}

// OnFrame offers f for analysis and returns f unmodified. It never blocks:
// frames off the sampling cadence, invalid frames and frames arriving while
// another is in flight are passed through without analysis.
func (p *Processor) OnFrame(f *frame.Frame) *frame.Frame {
	if f == nil || p.disposed.Load() {
		return f
	}

	idx := p.gate.Next()
	if !p.gate.Admit(idx) {
		return f
	}
	if err := f.Validate(); err != nil {
		p.stats.invalid.Add(1)
		if debug.Frames {
			p.log.Debug("Dropping invalid frame", "frame", idx, "error", err)
		}
		return f
	}
	if !p.gate.TryEnter() {
		if debug.Frames {
			p.log.Debug("Dropping frame, detector busy", "frame", idx)
		}
		return f
	}
	if p.disposed.Load() {
		p.gate.Leave()
		return f
	}

	select {
	case p.jobs <- job{frame: f.Clone(), index: idx}:
		if p.disposed.Load() {
			// Dispose may have drained the queue before this send.
			p.reclaim()
		}
	default:
		// Only reachable after the worker has exited.
		p.gate.Leave()
	}
	return f
}

// reclaim takes back a queued job nobody will run and frees the slot.
func (p *Processor) reclaim() {
	select {
	case <-p.jobs:
		p.gate.Leave()
	default:
	}
}

// Process runs f through the pipeline on the calling goroutine and returns
// once its events have been handed to the executor. Sampling still applies:
// off-cadence frames return nil without analysis.
func (p *Processor) Process(ctx context.Context, f *frame.Frame) error {
	if p.disposed.Load() {
		return ErrDisposed
	}
	if f == nil {
		return ErrInvalidFrame
	}
	idx := p.gate.Next()
	if !p.gate.Admit(idx) {
		return nil
	}
	if err := f.Validate(); err != nil {
		p.stats.invalid.Add(1)
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if !p.gate.TryEnter() {
		return ErrBusy
	}
	defer p.gate.Leave()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	return p.analyze(ctx, job{frame: f, index: idx})
}

func (p *Processor) run() {
	defer p.wg.Done()
	defer p.teardown()

	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			if err := p.analyze(p.ctx, j); err != nil && !p.disposed.Load() {
				p.log.Warn("Frame analysis failed", "error", err)
			}
			p.gate.Leave()
		}
	}
}

// teardown runs on the worker once it stops accepting frames.
func (p *Processor) teardown() {
	p.reclaim()

	p.tracker.Reset()
	if err := p.detector.Close(); err != nil {
		p.log.Warn("Failed to close detector", "error", err)
	}
}

// analyze handles one entered frame. The caller releases the gate.
func (p *Processor) analyze(ctx context.Context, j job) error {
	if p.disposed.Load() {
		return ErrDisposed
	}

	cfg := p.Config()
	f := j.frame
	nv21 := pixfmt.ToNV21(f.Buffer, f.Width, f.Height)

	faces, err := p.detect(ctx, face.Image{NV21: nv21, Width: f.Width, Height: f.Height, Rotation: f.Rotation})
	if p.disposed.Load() {
		return ErrDisposed
	}
	if err != nil {
		p.stats.detectorFailures.Add(1)
		return &DetectorError{Frame: j.index, Err: err}
	}

	p.stats.processed.Add(1)
	p.stats.faces.Add(uint64(len(faces)))
	p.handle(f, nv21, faces, cfg)
	return nil
}

type detectResult struct {
	faces []face.Face
	err   error
}

// detect calls the detector without blocking past ctx. No timeout is
// applied: a slow detector keeps the slot taken and later frames drop.
func (p *Processor) detect(ctx context.Context, img face.Image) ([]face.Face, error) {
	ch := make(chan detectResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- detectResult{err: fmt.Errorf("detector panic: %v", r)}
			}
		}()
		faces, err := p.detector.Detect(ctx, img)
		ch <- detectResult{faces: faces, err: err}
	}()

	select {
	case r := <-ch:
		return r.faces, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Processor) handle(f *frame.Frame, nv21 []byte, faces []face.Face, cfg Config) {
	p.tracker.SetThreshold(cfg.BlinkThreshold)

	active := make(map[int]struct{}, len(faces))
	data := make([]FaceData, 0, len(faces))
	var blinks []BlinkEvent

	for i := range faces {
		fc := &faces[i]
		data = append(data, NewFaceData(*fc, cfg.BlinkThreshold))

		id, ok := fc.ID()
		if !ok {
			continue
		}
		active[id] = struct{}{}

		if fc.LeftEyeOpenProbability == nil || fc.RightEyeOpenProbability == nil {
			continue
		}
		left, right := *fc.LeftEyeOpenProbability, *fc.RightEyeOpenProbability
		if debug.Frames {
			p.log.Debug("Eye probabilities", "tracking_id", id, "left", left, "right", right)
		}

		var still string
		if cfg.CaptureOnBlink && p.tracker.Closing(id, left, right) {
			// Bounds are upright; the still is cut from the sensor-oriented buffer.
			roi := face.SensorRect(fc.Bounds.Rectangle(), f.Rotation, f.Width, f.Height)
			still = p.capture(nv21, f.Width, f.Height, roi, cfg)
		}

		if ev := p.tracker.Update(id, left, right, still); ev != nil {
			ev.Timestamp = f.TimestampNs
			blinks = append(blinks, *ev)
		}
	}

	if n := p.tracker.Cleanup(active); n > 0 && debug.Enabled {
		p.log.Debug("Dropped stale faces", "count", n)
	}
	p.stats.blinks.Add(uint64(len(blinks)))

	faceSink, blinkSink := p.sinks()
	if faceSink != nil {
		ev := FaceEvent{Faces: data, Timestamp: f.TimestampNs, FrameWidth: f.Width, FrameHeight: f.Height}
		p.deliver(func() {
			if s, _ := p.sinks(); s != nil {
				s.OnFaces(ev)
			}
		})
	}
	if blinkSink != nil {
		for _, ev := range blinks {
			p.deliver(func() {
				if _, s := p.sinks(); s != nil {
					s.OnBlink(ev)
				}
			})
		}
	}
}

func (p *Processor) capture(nv21 []byte, w, h int, roi image.Rectangle, cfg Config) string {
	still, err := p.encoder.Capture(nv21, w, h, &roi, capture.Options{
		CropToFace: cfg.CropToFace,
		Quality:    cfg.ImageQuality,
		MaxWidth:   cfg.MaxImageWidth,
	})
	if err != nil {
		p.stats.capturesFailed.Add(1)
		p.log.Warn("Frame capture failed", "error", err)
		return ""
	}
	p.stats.capturesTaken.Add(1)
	return still
}

// deliver hands task to the executor unless disposed, and re-checks before running it.
func (p *Processor) deliver(task func()) {
	if p.disposed.Load() {
		return
	}
	p.exec.Execute(func() {
		if p.disposed.Load() {
			return
		}
		task()
	})
}

// Dispose stops accepting frames, waits for the worker to clear all face
// state and close the detector, and drops the sinks. Events not yet
// delivered are suppressed. Safe to call more than once.
func (p *Processor) Dispose() {
	p.once.Do(func() {
		p.disposed.Store(true)
		p.cancel()
		if p.ownExec != nil {
			p.ownExec.Stop()
		}
		p.wg.Wait()

		p.RegisterFaceSink(nil)
		p.RegisterBlinkSink(nil)
		p.log.Info("Processor disposed")
	})
}

// Disposed reports whether Dispose has been called.
func (p *Processor) Disposed() bool {
	return p.disposed.Load()
}

// Stats are cumulative pipeline counters.
type Stats struct {
	FramesSeen        uint64 `json:"framesSeen"`
	FramesSampled     uint64 `json:"framesSampled"`
	FramesBusyDropped uint64 `json:"framesBusyDropped"`
	FramesInvalid     uint64 `json:"framesInvalid"`
	FramesProcessed   uint64 `json:"framesProcessed"`
	DetectorFailures  uint64 `json:"detectorFailures"`
	FacesDetected     uint64 `json:"facesDetected"`
	BlinkEvents       uint64 `json:"blinkEvents"`
	CapturesTaken     uint64 `json:"capturesTaken"`
	CapturesFailed    uint64 `json:"capturesFailed"`
	TrackedFaces      int    `json:"trackedFaces"`
	Busy              bool   `json:"busy"`
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return Stats{
		FramesSeen:        p.gate.Seen(),
		FramesSampled:     p.gate.Sampled(),
		FramesBusyDropped: p.gate.BusyDropped(),
		FramesInvalid:     p.stats.invalid.Load(),
		FramesProcessed:   p.stats.processed.Load(),
		DetectorFailures:  p.stats.detectorFailures.Load(),
		FacesDetected:     p.stats.faces.Load(),
		BlinkEvents:       p.stats.blinks.Load(),
		CapturesTaken:     p.stats.capturesTaken.Load(),
		CapturesFailed:    p.stats.capturesFailed.Load(),
		TrackedFaces:      p.tracker.Len(),
		Busy:              p.gate.Busy(),
	}
}
