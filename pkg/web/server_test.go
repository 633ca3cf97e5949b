package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/teslashibe/go-blinkwatch/pkg/blink"
	"github.com/teslashibe/go-blinkwatch/pkg/face"
	"github.com/teslashibe/go-blinkwatch/pkg/processor"
)

type nopDetector struct{}

func (nopDetector) Detect(context.Context, face.Image) ([]face.Face, error) { return nil, nil }
func (nopDetector) Close() error                                            { return nil }

type fakeLog struct {
	events []processor.BlinkEvent
	err    error
	limit  int
}

func (f *fakeLog) Recent(ctx context.Context, limit int) ([]processor.BlinkEvent, error) {
	f.limit = limit
	return f.events, f.err
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	proc := processor.New(nopDetector{}, processor.WithExecutor(processor.Inline))
	t.Cleanup(proc.Dispose)
	return NewServer("0", proc)
}

func do(t *testing.T, s *Server, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, body := do(t, s, "GET", "/health", "")
	if code != http.StatusOK {
		t.Errorf("status: got %d, want 200", code)
	}
	if !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("body: got %s, want status ok", body)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)

	code, body := do(t, s, "PUT", "/api/config", `{"frameSkipCount": 5, "blinkThreshold": 7, "captureOnBlink": true}`)
	if code != http.StatusOK {
		t.Fatalf("PUT status: got %d (%s), want 200", code, body)
	}

	var cfg processor.Config
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.FrameSkipCount != 5 {
		t.Errorf("FrameSkipCount: got %d, want 5", cfg.FrameSkipCount)
	}
	if cfg.BlinkThreshold != 0.3 {
		t.Errorf("BlinkThreshold: got %v, want 0.3 (out of range ignored)", cfg.BlinkThreshold)
	}
	if !cfg.CaptureOnBlink {
		t.Error("CaptureOnBlink: got false, want true")
	}

	_, body = do(t, s, "GET", "/api/config", "")
	if !strings.Contains(body, `"frameSkipCount":5`) {
		t.Errorf("GET config: got %s, want frameSkipCount 5", body)
	}
}

func TestConfigBadBody(t *testing.T) {
	s := newTestServer(t)
	if code, _ := do(t, s, "PUT", "/api/config", `not json`); code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", code)
	}
}

func TestBlinksFromMemory(t *testing.T) {
	s := newTestServer(t)
	for i := 1; i <= 3; i++ {
		s.OnBlink(blink.Event{Eye: blink.EyeBoth, TrackingID: i})
	}

	code, body := do(t, s, "GET", "/api/blinks?limit=2", "")
	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	var resp struct {
		Blinks []blink.Event `json:"blinks"`
		Source string        `json:"source"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Source != "memory" {
		t.Errorf("source: got %s, want memory", resp.Source)
	}
	if len(resp.Blinks) != 2 || resp.Blinks[0].TrackingID != 3 || resp.Blinks[1].TrackingID != 2 {
		t.Errorf("blinks: got %+v, want ids 3, 2", resp.Blinks)
	}
}

func TestBlinksRingBounded(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < recentBlinks+10; i++ {
		s.OnBlink(blink.Event{TrackingID: i})
	}
	got := s.recent(maxBlinkLimit)
	if len(got) != recentBlinks {
		t.Fatalf("recent: got %d events, want %d", len(got), recentBlinks)
	}
	if got[0].TrackingID != recentBlinks+9 || got[len(got)-1].TrackingID != 10 {
		t.Errorf("recent range: got %d..%d, want %d..10", got[0].TrackingID, got[len(got)-1].TrackingID, recentBlinks+9)
	}
}

func TestBlinksFromStore(t *testing.T) {
	s := newTestServer(t)
	store := &fakeLog{events: []processor.BlinkEvent{{TrackingID: 42}}}
	s.SetBlinkLog(store)

	_, body := do(t, s, "GET", "/api/blinks", "")
	if !strings.Contains(body, `"source":"store"`) || !strings.Contains(body, `"trackingId":42`) {
		t.Errorf("body: got %s, want store events", body)
	}
	if store.limit != defaultBlinkLimit {
		t.Errorf("limit: got %d, want %d", store.limit, defaultBlinkLimit)
	}

	store.err = errors.New("db down")
	if code, _ := do(t, s, "GET", "/api/blinks", ""); code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", code)
	}
}

func TestBlinksLimitValidation(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{"0", "-1", "5000"} {
		if code, _ := do(t, s, "GET", "/api/blinks?limit="+q, ""); code != http.StatusBadRequest {
			t.Errorf("limit=%s: got %d, want 400", q, code)
		}
	}
}

func TestFacesAndStats(t *testing.T) {
	s := newTestServer(t)
	s.proc.Tracker().Update(7, 0.9, 0.9, "")

	_, body := do(t, s, "GET", "/api/faces", "")
	if !strings.Contains(body, `"count":1`) || !strings.Contains(body, `"7"`) {
		t.Errorf("faces: got %s, want face 7", body)
	}

	_, body = do(t, s, "GET", "/api/stats", "")
	if !strings.Contains(body, `"processor"`) || !strings.Contains(body, `"faces"`) {
		t.Errorf("stats: got %s", body)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	s.Gauges = func() map[string]float64 { return map[string]float64{"ingest_producers": 2} }

	code, body := do(t, s, "GET", "/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	for _, want := range []string{
		"# TYPE blinkwatch_frames_seen_total counter",
		"blinkwatch_blink_events_total 0",
		"blinkwatch_tracked_faces 0",
		"blinkwatch_ingest_producers 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	if code, _ := do(t, s, "GET", "/ws/faces", ""); code != http.StatusUpgradeRequired {
		t.Errorf("status: got %d, want 426", code)
	}
}
