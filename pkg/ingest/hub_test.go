package ingest

import (
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-blinkwatch/pkg/frame"
	"github.com/teslashibe/go-blinkwatch/pkg/protocol"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []*frame.Frame
}

func (s *recordingSink) OnFrame(f *frame.Frame) *frame.Frame {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return f
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// startServer serves the hub on a random local port and returns its ws base URL
func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return "ws://" + ln.Addr().String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	if hub.ProducerCount() != 0 {
		t.Error("ProducerCount should be 0 initially")
	}
	if hub.Producer("nonexistent") != nil {
		t.Error("Producer should return nil for unknown id")
	}
	if err := hub.SendPong("nonexistent", "", 0); err == nil {
		t.Error("SendPong should fail for unknown producer")
	}

	// Broadcast to empty hub should not panic
	msg, _ := protocol.NewMessage(protocol.TypePing, nil)
	hub.Broadcast(msg)
}

func TestProducerConnection(t *testing.T) {
	hub := NewHub(nil)
	base := startServer(t, hub)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/ingest/cam-1", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}

	waitFor(t, "producer registration", func() bool { return hub.ProducerCount() == 1 })
	if hub.Producer("cam-1") == nil {
		t.Error("Producer should return the connected producer")
	}

	ws.Close()
	waitFor(t, "producer removal", func() bool { return hub.ProducerCount() == 0 })
}

func TestAnonymousProducer(t *testing.T) {
	hub := NewHub(nil)
	base := startServer(t, hub)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/ingest", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	waitFor(t, "producer registration", func() bool { return hub.ProducerCount() == 1 })
	infos := hub.ProducerInfos()
	if len(infos[0].ID) != 36 {
		t.Errorf("generated ID = %q, want a uuid", infos[0].ID)
	}
}

func TestFrameForwarded(t *testing.T) {
	sink := &recordingSink{}
	hub := NewHub(sink)
	base := startServer(t, hub)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/ingest/frame-test", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	f, err := frame.NewI420(make([]byte, 12), 4, 2, 0)
	if err != nil {
		t.Fatalf("NewI420: %v", err)
	}
	f.Rotation = 90
	msg, err := protocol.NewFrameMessage(f, 1)
	if err != nil {
		t.Fatalf("NewFrameMessage: %v", err)
	}
	data, _ := msg.Bytes()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	waitFor(t, "frame delivery", func() bool { return sink.count() == 1 })

	sink.mu.Lock()
	got := sink.frames[0]
	sink.mu.Unlock()
	if got.Width != 4 || got.Height != 2 || got.Rotation != 90 {
		t.Errorf("frame = %dx%d r%d, want 4x2 r90", got.Width, got.Height, got.Rotation)
	}

	stats := hub.Stats()
	if stats.FramesReceived != 1 || stats.FramesRejected != 0 {
		t.Errorf("Stats = %+v, want 1 received, 0 rejected", stats)
	}
	infos := hub.ProducerInfos()
	if len(infos) != 1 || infos[0].Frames != 1 {
		t.Errorf("ProducerInfos = %+v, want one producer with 1 frame", infos)
	}
}

func TestBadFrameRejected(t *testing.T) {
	sink := &recordingSink{}
	hub := NewHub(sink)
	base := startServer(t, hub)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/ingest/bad", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	msg, _ := protocol.NewMessage(protocol.TypeFrame, protocol.FrameData{Width: 2, Height: 2, Format: "h264"})
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	resp, err := protocol.ParseMessage(respData)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if resp.Type != protocol.TypeError {
		t.Errorf("Type = %s, want error", resp.Type)
	}
	if sink.count() != 0 {
		t.Error("rejected frame should not reach the sink")
	}
	if hub.Stats().FramesRejected != 1 {
		t.Errorf("FramesRejected = %d, want 1", hub.Stats().FramesRejected)
	}
}

func TestPingPong(t *testing.T) {
	hub := NewHub(nil)
	base := startServer(t, hub)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/ingest/ping-test", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	msg, _ := protocol.NewPingMessage("p-1")
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	resp, _ := protocol.ParseMessage(respData)
	if resp.Type != protocol.TypePong {
		t.Fatalf("Type = %s, want pong", resp.Type)
	}
	pong, err := resp.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData: %v", err)
	}
	if pong.ID != "p-1" {
		t.Errorf("pong ID = %q, want p-1", pong.ID)
	}
}

func TestAPIListProducers(t *testing.T) {
	hub := NewHub(nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	tests := []struct {
		path string
		want string
	}{
		{"/api/producers/", "producers"},
		{"/api/producers/stats", "framesReceived"},
	}
	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
		if err != nil {
			t.Fatalf("%s: request error: %v", tt.path, err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("%s: status = %d, want 200", tt.path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), tt.want) {
			t.Errorf("%s: body %s should contain %q", tt.path, body, tt.want)
		}
	}
}
