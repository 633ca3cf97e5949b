// Package blink turns per-frame eye-open probabilities into blink counts
// and events, one state machine per tracked face.
package blink

import (
	"sync"
)

// Eye names which eyes completed a blink in one update.
type Eye string

const (
	EyeLeft  Eye = "left"
	EyeRight Eye = "right"
	EyeBoth  Eye = "both"
)

// DefaultThreshold is the open/closed probability cut.
const DefaultThreshold = 0.3

// EyeState is the last classification of one eye.
type EyeState struct {
	IsOpen     bool   `json:"isOpen"`
	WasOpen    bool   `json:"wasOpen"`
	BlinkCount uint32 `json:"blinkCount"`

	// PendingCapture is the still taken when the eye last closed.
	// Empty means none; it is only set while the eye is closed.
	PendingCapture string `json:"-"`
}

// FaceState holds both eyes of one tracked face.
type FaceState struct {
	Left  EyeState `json:"left"`
	Right EyeState `json:"right"`
}

func newFaceState() *FaceState {
	return &FaceState{
		Left:  EyeState{IsOpen: true, WasOpen: true},
		Right: EyeState{IsOpen: true, WasOpen: true},
	}
}

// Event is a completed blink of one or both eyes of a tracked face.
type Event struct {
	Eye             Eye    `json:"eye"`
	LeftBlinkCount  uint32 `json:"leftBlinkCount"`
	RightBlinkCount uint32 `json:"rightBlinkCount"`
	CapturedFrame   string `json:"capturedFrame,omitempty"`
	TrackingID      int    `json:"trackingId"`
	Timestamp       int64  `json:"timestamp"`
}

// Tracker owns the eye state of every tracked face.
// Entries are created on first update and removed by Cleanup or Reset.
type Tracker struct {
	mu        sync.Mutex
	threshold float64
	faces     map[int]*FaceState
}

// NewTracker creates a tracker using threshold as the open/closed cut.
func NewTracker(threshold float64) *Tracker {
	return &Tracker{
		threshold: threshold,
		faces:     make(map[int]*FaceState),
	}
}

// SetThreshold changes the open/closed cut for subsequent updates.
func (t *Tracker) SetThreshold(threshold float64) {
	t.mu.Lock()
	t.threshold = threshold
	t.mu.Unlock()
}

// Threshold returns the current open/closed cut.
func (t *Tracker) Threshold() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threshold
}

// IsOpen reports whether prob classifies as open under threshold. Open is
// strictly above the threshold; a probability equal to it is closed. prob is
// widened to float64 first, so float32(0.3) is slightly above 0.3 and open.
func IsOpen(prob float32, threshold float64) bool {
	return float64(prob) > threshold
}

// Closing reports whether either eye is about to go from open to closed
// with these probabilities. An unknown face counts as both eyes open.
func (t *Tracker) Closing(trackingID int, left, right float32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	leftOpen, rightOpen := true, true
	if fs, ok := t.faces[trackingID]; ok {
		leftOpen, rightOpen = fs.Left.IsOpen, fs.Right.IsOpen
	}
	return (leftOpen && !IsOpen(left, t.threshold)) || (rightOpen && !IsOpen(right, t.threshold))
}

// Update classifies both eyes of a face and advances their state machines.
// capture is stored on any eye that closes in this update. It returns an
// event if either eye reopened, nil otherwise. Both eyes are evaluated
// against the state from before the call.
//
// The returned event carries TrackingID but no Timestamp.
func (t *Tracker) Update(trackingID int, left, right float32, capture string) *Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, ok := t.faces[trackingID]
	if !ok {
		fs = newFaceState()
		t.faces[trackingID] = fs
	}

	leftBlinked, leftCapture := step(&fs.Left, IsOpen(left, t.threshold), capture)
	rightBlinked, rightCapture := step(&fs.Right, IsOpen(right, t.threshold), capture)

	if !leftBlinked && !rightBlinked {
		return nil
	}

	ev := &Event{
		LeftBlinkCount:  fs.Left.BlinkCount,
		RightBlinkCount: fs.Right.BlinkCount,
		TrackingID:      trackingID,
	}
	switch {
	case leftBlinked && rightBlinked:
		ev.Eye = EyeBoth
	case leftBlinked:
		ev.Eye = EyeLeft
	default:
		ev.Eye = EyeRight
	}

	// Left wins when both reopened holding a capture.
	ev.CapturedFrame = leftCapture
	if ev.CapturedFrame == "" {
		ev.CapturedFrame = rightCapture
	}
	return ev
}

// step advances one eye. It reports whether the eye completed a blink and,
// if so, the capture it was holding.
func step(e *EyeState, open bool, capture string) (blinked bool, released string) {
	switch {
	case !e.IsOpen && open:
		e.BlinkCount++
		released = e.PendingCapture
		e.PendingCapture = ""
		blinked = true
	case e.IsOpen && !open:
		e.PendingCapture = capture
	}
	e.WasOpen = e.IsOpen
	e.IsOpen = open
	return blinked, released
}

// State returns a copy of the state for trackingID.
func (t *Tracker) State(trackingID int) (FaceState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs, ok := t.faces[trackingID]
	if !ok {
		return FaceState{}, false
	}
	return *fs, true
}

// Snapshot copies the state of every tracked face.
func (t *Tracker) Snapshot() map[int]FaceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]FaceState, len(t.faces))
	for id, fs := range t.faces {
		out[id] = *fs
	}
	return out
}

// Cleanup drops every face whose id is not in active and returns how many
// were dropped. There is no grace period: a face missing from one processed
// frame loses its state.
func (t *Tracker) Cleanup(active map[int]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id := range t.faces {
		if _, ok := active[id]; !ok {
			delete(t.faces, id)
			removed++
		}
	}
	return removed
}

// Reset forgets every face.
func (t *Tracker) Reset() {
	t.mu.Lock()
	clear(t.faces)
	t.mu.Unlock()
}

// Len returns the number of tracked faces.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.faces)
}
