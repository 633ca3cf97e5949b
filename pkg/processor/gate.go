package processor

import "sync/atomic"

// Gate decides which frames enter the expensive pipeline: periodic sampling
// plus a single in-flight slot. It never queues.
type Gate struct {
	skip     atomic.Int64
	index    atomic.Uint64
	inFlight atomic.Bool

	sampled     atomic.Uint64
	busyDropped atomic.Uint64
}

// NewGate returns a gate that samples every skip-th frame.
func NewGate(skip int) *Gate {
	g := &Gate{}
	g.SetSkip(skip)
	return g
}

// SetSkip changes the sampling period. Values below 1 are treated as 1.
func (g *Gate) SetSkip(skip int) {
	if skip < 1 {
		skip = 1
	}
	g.skip.Store(int64(skip))
}

// Next returns the index of the frame being observed and advances the counter.
// Every observed frame consumes an index, admitted or not.
func (g *Gate) Next() uint64 {
	return g.index.Add(1) - 1
}

// Admit reports whether the frame at index is a sampling point.
func (g *Gate) Admit(index uint64) bool {
	if index%uint64(g.skip.Load()) != 0 {
		return false
	}
	g.sampled.Add(1)
	return true
}

// TryEnter claims the in-flight slot. It returns false, and counts a busy
// drop, if a frame is already in flight.
func (g *Gate) TryEnter() bool {
	if g.inFlight.CompareAndSwap(false, true) {
		return true
	}
	g.busyDropped.Add(1)
	return false
}

// Leave releases the in-flight slot. Call exactly once per successful TryEnter.
func (g *Gate) Leave() {
	g.inFlight.Store(false)
}

// Busy reports whether a frame is in flight.
func (g *Gate) Busy() bool {
	return g.inFlight.Load()
}

// Seen returns the number of frames observed.
func (g *Gate) Seen() uint64 { return g.index.Load() }

// Sampled returns the number of frames that hit a sampling point.
func (g *Gate) Sampled() uint64 { return g.sampled.Load() }

// BusyDropped returns the number of sampled frames dropped because the slot was taken.
func (g *Gate) BusyDropped() uint64 { return g.busyDropped.Load() }
