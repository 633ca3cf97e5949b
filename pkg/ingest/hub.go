// Package ingest accepts video frames from remote producers over WebSocket
package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/debug"
	"github.com/teslashibe/go-blinkwatch/pkg/frame"
	"github.com/teslashibe/go-blinkwatch/pkg/protocol"
)

// FrameSink receives decoded frames. *processor.Processor satisfies it.
type FrameSink interface {
	OnFrame(f *frame.Frame) *frame.Frame
}

// Producer is a connected frame source
type Producer struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time
	Frames    uint64

	mu sync.Mutex
}

// Send sends a message to the producer
func (p *Producer) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages WebSocket connections from frame producers
type Hub struct {
	mu        sync.RWMutex
	producers map[string]*Producer
	sink      FrameSink

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	framesRejected   atomic.Uint64
}

// NewHub creates a hub that forwards frames to sink
func NewHub(sink FrameSink) *Hub {
	return &Hub{
		producers: make(map[string]*Producer),
		sink:      sink,
	}
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/ingest", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/ingest", websocket.New(h.handleProducer))
	app.Get("/ws/ingest/:id", websocket.New(h.handleProducer))
}

// handleProducer handles a producer WebSocket connection
func (h *Hub) handleProducer(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	p := &Producer{
		ID:        id,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	if old, ok := h.producers[id]; ok {
		old.Conn.Close()
	}
	h.producers[id] = p
	count := len(h.producers)
	h.mu.Unlock()

	log.Info("Producer connected", "producer", id, "total", count)

	defer func() {
		h.mu.Lock()
		if h.producers[id] == p {
			delete(h.producers, id)
		}
		count := len(h.producers)
		h.mu.Unlock()

		log.Info("Producer disconnected", "producer", id, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			debug.Log("Producer read error", "producer", id, "error", err)
			return
		}

		p.mu.Lock()
		p.LastSeen = time.Now()
		p.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(p, data)
	}
}

// handleMessage processes an incoming message from a producer
func (h *Hub) handleMessage(p *Producer, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.reject(p, err)
		return
	}

	switch msg.Type {
	case protocol.TypeFrame:
		h.framesReceived.Add(1)
		fd, err := msg.GetFrameData()
		if err != nil {
			h.reject(p, err)
			return
		}
		f, err := fd.Frame()
		if err != nil {
			h.reject(p, err)
			return
		}
		p.mu.Lock()
		p.Frames++
		p.mu.Unlock()
		if h.sink != nil {
			h.sink.OnFrame(f)
		}

	case protocol.TypePing:
		ping, _ := msg.GetPingData()
		pingID, pingTS := "", msg.Timestamp
		if ping != nil {
			pingID = ping.ID
			if ping.Timestamp != 0 {
				pingTS = ping.Timestamp
			}
		}
		h.SendPong(p.ID, pingID, pingTS)

	default:
		debug.Log("Ignoring producer message", "producer", p.ID, "type", msg.Type)
	}
}

func (h *Hub) reject(p *Producer, err error) {
	h.framesRejected.Add(1)
	debug.Log("Rejected producer message", "producer", p.ID, "error", err)

	msg, mErr := protocol.NewErrorMessage(err)
	if mErr != nil {
		return
	}
	h.messagesSent.Add(1)
	p.Send(msg)
}

// SendPong sends a pong response to a producer
func (h *Hub) SendPong(producerID, pingID string, pingTS int64) error {
	msg, err := protocol.NewPongMessage(pingID, pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendTo(producerID, msg)
}

// sendTo sends a message to a specific producer
func (h *Hub) sendTo(producerID string, msg *protocol.Message) error {
	h.mu.RLock()
	p, ok := h.producers[producerID]
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "producer not connected")
	}

	h.messagesSent.Add(1)
	return p.Send(msg)
}

// Broadcast sends a message to all connected producers
func (h *Hub) Broadcast(msg *protocol.Message) {
	h.mu.RLock()
	producers := make([]*Producer, 0, len(h.producers))
	for _, p := range h.producers {
		producers = append(producers, p)
	}
	h.mu.RUnlock()

	for _, p := range producers {
		h.messagesSent.Add(1)
		if err := p.Send(msg); err != nil {
			debug.Log("Broadcast error", "producer", p.ID, "error", err)
		}
	}
}

// Producer returns a connection by ID, nil when not connected
func (h *Hub) Producer(id string) *Producer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.producers[id]
}

// ProducerCount returns the number of connected producers
func (h *Hub) ProducerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.producers)
}

// Stats contains hub statistics
type Stats struct {
	ProducerCount    int    `json:"producerCount"`
	MessagesReceived uint64 `json:"messagesReceived"`
	MessagesSent     uint64 `json:"messagesSent"`
	FramesReceived   uint64 `json:"framesReceived"`
	FramesRejected   uint64 `json:"framesRejected"`
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	return Stats{
		ProducerCount:    h.ProducerCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		FramesRejected:   h.framesRejected.Load(),
	}
}

// ProducerInfo describes a connected producer
type ProducerInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"lastSeen"`
	Frames    uint64    `json:"frames"`
}

// ProducerInfos returns info about all connected producers
func (h *Hub) ProducerInfos() []ProducerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]ProducerInfo, 0, len(h.producers))
	for _, p := range h.producers {
		p.mu.Lock()
		infos = append(infos, ProducerInfo{
			ID:        p.ID,
			Connected: p.Connected,
			LastSeen:  p.LastSeen,
			Frames:    p.Frames,
		})
		p.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for producer management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	producers := api.Group("/producers")

	producers.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"producers": h.ProducerInfos(),
			"count":     h.ProducerCount(),
		})
	})

	producers.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.Stats())
	})
}
