package blink

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTracker_BothEyesBlink(t *testing.T) {
	tr := NewTracker(0.3)

	if ev := tr.Update(1, 0.05, 0.05, ""); ev != nil {
		t.Fatalf("closing update: got %+v, want nil", ev)
	}
	ev := tr.Update(1, 0.9, 0.9, "")
	if ev == nil {
		t.Fatal("reopen update: got nil, want event")
	}
	if ev.Eye != EyeBoth || ev.LeftBlinkCount != 1 || ev.RightBlinkCount != 1 {
		t.Errorf("event: got %+v, want both 1/1", ev)
	}
	if ev.TrackingID != 1 {
		t.Errorf("TrackingID: got %d, want 1", ev.TrackingID)
	}
}

func TestTracker_LeftOnly(t *testing.T) {
	tr := NewTracker(0.3)

	tr.Update(1, 0.05, 0.05, "")
	ev := tr.Update(1, 0.9, 0.05, "")
	if ev == nil || ev.Eye != EyeLeft {
		t.Fatalf("event: got %+v, want left", ev)
	}
	if ev.LeftBlinkCount != 1 || ev.RightBlinkCount != 0 {
		t.Errorf("counts: got %d/%d, want 1/0", ev.LeftBlinkCount, ev.RightBlinkCount)
	}

	// Right finally reopens: a right-only blink, left count untouched.
	ev = tr.Update(1, 0.9, 0.9, "")
	if ev == nil || ev.Eye != EyeRight {
		t.Fatalf("event: got %+v, want right", ev)
	}
	if ev.LeftBlinkCount != 1 || ev.RightBlinkCount != 1 {
		t.Errorf("counts: got %d/%d, want 1/1", ev.LeftBlinkCount, ev.RightBlinkCount)
	}
}

func TestTracker_CountEqualsReopenings(t *testing.T) {
	tests := []struct {
		name  string
		probs []float32
		want  uint32
	}{
		{"always open", []float32{0.9, 0.9, 0.9, 0.9}, 0},
		{"closed forever", []float32{0.1, 0.1, 0.1}, 0},
		{"one long blink", []float32{0.9, 0.1, 0.1, 0.1, 0.9, 0.9}, 1},
		{"three blinks", []float32{0.1, 0.9, 0.1, 0.9, 0.2, 0.2, 0.8}, 3},
		{"starts closed", []float32{0.0, 0.0, 1.0}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker(0.3)
			for _, p := range tc.probs {
				tr.Update(7, p, 0.9, "")
			}
			st, ok := tr.State(7)
			if !ok {
				t.Fatal("State: face not tracked")
			}
			if st.Left.BlinkCount != tc.want {
				t.Errorf("BlinkCount: got %d, want %d", st.Left.BlinkCount, tc.want)
			}
			if st.Right.BlinkCount != 0 {
				t.Errorf("right BlinkCount: got %d, want 0", st.Right.BlinkCount)
			}
		})
	}
}

func TestTracker_StaggeredSequence(t *testing.T) {
	tr := NewTracker(0.5)

	steps := [][2]float32{{0.9, 0.9}, {0.1, 0.9}, {0.9, 0.1}}
	var events []*Event
	for _, p := range steps {
		events = append(events, tr.Update(3, p[0], p[1], ""))
	}

	if events[0] != nil || events[1] != nil {
		t.Errorf("calls 1-2: got %+v, %+v, want nil", events[0], events[1])
	}
	if events[2] == nil || events[2].Eye != EyeLeft {
		t.Fatalf("call 3: got %+v, want left", events[2])
	}
	if events[2].LeftBlinkCount != 1 || events[2].RightBlinkCount != 0 {
		t.Errorf("call 3 counts: got %d/%d, want 1/0", events[2].LeftBlinkCount, events[2].RightBlinkCount)
	}
}

func TestTracker_CaptureLifecycle(t *testing.T) {
	tr := NewTracker(0.3)

	tr.Update(1, 0.1, 0.9, "L")
	st, _ := tr.State(1)
	if st.Left.PendingCapture != "L" || st.Right.PendingCapture != "" {
		t.Errorf("pending after close: got %q/%q, want L/empty", st.Left.PendingCapture, st.Right.PendingCapture)
	}

	// Still closed: capture candidate is not stored again.
	tr.Update(1, 0.1, 0.9, "ignored")
	st, _ = tr.State(1)
	if st.Left.PendingCapture != "L" {
		t.Errorf("pending while closed: got %q, want L", st.Left.PendingCapture)
	}

	ev := tr.Update(1, 0.9, 0.9, "")
	if ev == nil || ev.CapturedFrame != "L" {
		t.Fatalf("event: got %+v, want capture L", ev)
	}
	st, _ = tr.State(1)
	if st.Left.PendingCapture != "" {
		t.Errorf("pending after reopen: got %q, want empty", st.Left.PendingCapture)
	}
}

func TestTracker_CapturePriority(t *testing.T) {
	tests := []struct {
		name        string
		leftClose   string
		rightClose  string
		wantCapture string
	}{
		{"both hold, left wins", "L", "R", "L"},
		{"only right holds", "", "R", "R"},
		{"neither holds", "", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker(0.3)
			// Close each eye in its own call so each keeps its own capture.
			tr.Update(1, 0.1, 0.9, tc.leftClose)
			tr.Update(1, 0.1, 0.1, tc.rightClose)

			ev := tr.Update(1, 0.9, 0.9, "")
			if ev == nil || ev.Eye != EyeBoth {
				t.Fatalf("event: got %+v, want both", ev)
			}
			if ev.CapturedFrame != tc.wantCapture {
				t.Errorf("CapturedFrame: got %q, want %q", ev.CapturedFrame, tc.wantCapture)
			}
		})
	}
}

func TestIsOpen_Boundary(t *testing.T) {
	tests := []struct {
		name      string
		prob      float32
		threshold float64
		want      bool
	}{
		{"equal is closed", 0.5, 0.5, false},
		{"just above", 0.50001, 0.5, true},
		{"just below", 0.49999, 0.5, false},
		{"float32 0.3 rounds above 0.3", 0.3, 0.3, true},
		{"zero threshold", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOpen(tt.prob, tt.threshold); got != tt.want {
				t.Errorf("IsOpen(%v, %v): got %v, want %v", tt.prob, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestTracker_ThresholdEqualClosesEye(t *testing.T) {
	tr := NewTracker(0.5)

	if !tr.Closing(1, 0.5, 0.9) {
		t.Error("Closing at threshold: got false, want true")
	}
	tr.Update(1, 0.5, 0.9, "")
	st, _ := tr.State(1)
	if st.Left.IsOpen || !st.Right.IsOpen {
		t.Fatalf("state: got %+v, want left closed right open", st)
	}

	ev := tr.Update(1, 0.75, 0.9, "")
	if ev == nil || ev.Eye != EyeLeft || ev.LeftBlinkCount != 1 {
		t.Errorf("event: got %+v, want left blink 1", ev)
	}
}

func TestTracker_Closing(t *testing.T) {
	tr := NewTracker(0.3)

	if !tr.Closing(9, 0.1, 0.9) {
		t.Error("unknown face closing left: got false, want true")
	}
	if tr.Closing(9, 0.9, 0.9) {
		t.Error("unknown face open: got true, want false")
	}

	tr.Update(9, 0.1, 0.1, "")
	if tr.Closing(9, 0.1, 0.1) {
		t.Error("already closed: got true, want false")
	}
	if tr.Closing(9, 0.9, 0.9) {
		t.Error("reopening: got true, want false")
	}
}

func TestTracker_Cleanup(t *testing.T) {
	tr := NewTracker(0.3)
	tr.Update(1, 0.1, 0.1, "x")
	tr.Update(2, 0.9, 0.9, "")

	if n := tr.Cleanup(map[int]struct{}{2: {}}); n != 1 {
		t.Errorf("Cleanup removed: got %d, want 1", n)
	}
	if _, ok := tr.State(1); ok {
		t.Error("face 1 survived cleanup")
	}
	if tr.Len() != 1 {
		t.Errorf("Len: got %d, want 1", tr.Len())
	}

	tr.Cleanup(map[int]struct{}{})
	if tr.Len() != 0 {
		t.Errorf("Len after empty cleanup: got %d, want 0", tr.Len())
	}

	// Fresh state: a reopened eye on a purged id is not a blink.
	if ev := tr.Update(1, 0.9, 0.9, ""); ev != nil {
		t.Errorf("update after cleanup: got %+v, want nil", ev)
	}
	st, _ := tr.State(1)
	if !st.Left.IsOpen || !st.Right.IsOpen || st.Left.BlinkCount != 0 {
		t.Errorf("fresh state: got %+v", st)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(0.3)
	tr.Update(1, 0.1, 0.1, "")
	tr.Update(2, 0.1, 0.1, "")
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len after Reset: got %d, want 0", tr.Len())
	}
	if len(tr.Snapshot()) != 0 {
		t.Error("Snapshot after Reset not empty")
	}
}

func TestTracker_SetThreshold(t *testing.T) {
	tr := NewTracker(0.3)
	tr.SetThreshold(0.8)
	if tr.Threshold() != 0.8 {
		t.Errorf("Threshold: got %v, want 0.8", tr.Threshold())
	}
	// 0.5 is closed under 0.8.
	tr.Update(1, 0.5, 0.9, "")
	st, _ := tr.State(1)
	if st.Left.IsOpen {
		t.Error("0.5 under threshold 0.8: got open, want closed")
	}
}

func TestEvent_JSON(t *testing.T) {
	ev := Event{Eye: EyeLeft, LeftBlinkCount: 2, RightBlinkCount: 1, TrackingID: 4, Timestamp: 99}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := string(b)
	for _, want := range []string{`"eye":"left"`, `"leftBlinkCount":2`, `"trackingId":4`, `"timestamp":99`} {
		if !strings.Contains(got, want) {
			t.Errorf("JSON %s missing %s", got, want)
		}
	}
	if strings.Contains(got, "capturedFrame") {
		t.Errorf("JSON %s: empty capture should be omitted", got)
	}
}
