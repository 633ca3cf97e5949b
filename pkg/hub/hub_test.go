package hub

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	fws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-blinkwatch/pkg/protocol"
)

func startHub(t *testing.T, initial ...Message) (*Hub, string) {
	t.Helper()
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", fws.New(func(c *fws.Conn) {
		NewClient(h, c, initial...).Run()
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() {
		cancel()
		app.Shutdown()
	})
	return h, "ws://" + ln.Addr().String() + "/ws"
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Broadcast(t *testing.T) {
	h, url := startHub(t)

	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer b.Close()
	waitClients(t, h, 2)

	msg, _ := protocol.NewMessage(protocol.TypeStats, protocol.StatsData{FramesSeen: 5})
	if err := h.BroadcastMessage(msg); err != nil {
		t.Fatalf("BroadcastMessage: %v", err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if typ != websocket.TextMessage {
			t.Errorf("message type: got %d, want text", typ)
		}
		got, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("ParseMessage: %v", err)
		}
		if got.Type != protocol.TypeStats {
			t.Errorf("Type: got %s, want stats", got.Type)
		}
	}
}

func TestHub_BinaryAndInitial(t *testing.T) {
	h, url := startHub(t, NewJSONMessage([]byte(`{"hello":true}`)))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitClients(t, h, 1)

	h.BroadcastBinary([]byte{0xFF, 0xD8})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if typ != websocket.TextMessage || string(data) != `{"hello":true}` {
		t.Errorf("first message: got %d %q, want the initial JSON", typ, data)
	}

	typ, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if typ != websocket.BinaryMessage || len(data) != 2 {
		t.Errorf("second message: got %d len %d, want binary len 2", typ, len(data))
	}
}

func TestHub_Disconnect(t *testing.T) {
	h, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)
}

func TestHub_RunStops(t *testing.T) {
	h := New("stop")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !h.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !h.IsRunning() {
		t.Fatal("hub should be running")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.IsRunning() {
		t.Error("hub should not be running after cancel")
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	h := New("full")
	for i := 0; i < cap(h.broadcast)+10; i++ {
		h.Broadcast(NewJSONMessage([]byte("{}")))
	}
	if got := h.Stats().Dropped; got != 10 {
		t.Errorf("Dropped: got %d, want 10", got)
	}
}
