package processor

import (
	"sync"

	"github.com/teslashibe/go-blinkwatch/internal/log"
)

// FaceSink receives face geometry events on the delivery executor.
type FaceSink interface {
	OnFaces(FaceEvent)
}

// BlinkSink receives blink events on the delivery executor.
type BlinkSink interface {
	OnBlink(BlinkEvent)
}

// FaceSinkFunc adapts a function to FaceSink.
type FaceSinkFunc func(FaceEvent)

// OnFaces calls f(ev).
func (f FaceSinkFunc) OnFaces(ev FaceEvent) { f(ev) }

// BlinkSinkFunc adapts a function to BlinkSink.
type BlinkSinkFunc func(BlinkEvent)

// OnBlink calls f(ev).
func (f BlinkSinkFunc) OnBlink(ev BlinkEvent) { f(ev) }

// FaceSinks fans one face event out to every sink in order.
type FaceSinks []FaceSink

// OnFaces calls each sink.
func (s FaceSinks) OnFaces(ev FaceEvent) {
	for _, sink := range s {
		sink.OnFaces(ev)
	}
}

// BlinkSinks fans one blink event out to every sink in order.
type BlinkSinks []BlinkSink

// OnBlink calls each sink.
func (s BlinkSinks) OnBlink(ev BlinkEvent) {
	for _, sink := range s {
		sink.OnBlink(ev)
	}
}

// Executor runs tasks on the context sinks must be called from.
// Tasks submitted to one executor run in submission order.
type Executor interface {
	// Execute schedules task. It returns false if the executor is stopped.
	Execute(task func()) bool
}

// Looper is an Executor backed by a single goroutine.
type Looper struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewLooper starts a looper with room for buffer pending tasks.
func NewLooper(buffer int) *Looper {
	l := &Looper{
		tasks: make(chan func(), buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Looper) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case task := <-l.tasks:
			l.call(task)
		}
	}
}

func (l *Looper) call(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Sink panicked", "panic", r)
		}
	}()
	task()
}

// Execute queues task. It blocks while the queue is full and returns false
// once the looper is stopped.
func (l *Looper) Execute(task func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- task:
		return true
	case <-l.quit:
		return false
	}
}

// Stop ends the looper. Pending tasks are discarded. Safe to call more than once.
func (l *Looper) Stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}

type inlineExecutor struct{}

func (inlineExecutor) Execute(task func()) bool {
	task()
	return true
}

// Inline runs every task on the goroutine that submits it.
var Inline Executor = inlineExecutor{}
