// Package web serves the blinkwatch HTTP API and live event websockets.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/hub"
	"github.com/teslashibe/go-blinkwatch/pkg/processor"
	"github.com/teslashibe/go-blinkwatch/pkg/protocol"
)

// recentBlinks is how many blink events are kept in memory for /api/blinks
const recentBlinks = 200

// BlinkLog is a persistent blink history, see store.Store
type BlinkLog interface {
	Recent(ctx context.Context, limit int) ([]processor.BlinkEvent, error)
}

// Server is the HTTP API server. It is a FaceSink and a BlinkSink.
type Server struct {
	app     *fiber.App
	port    string
	proc    *processor.Processor
	started time.Time

	// Optional persistent history, preferred over the in-memory buffer
	blinkLog BlinkLog

	// Last blink events, oldest first
	blinks   []processor.BlinkEvent
	blinksMu sync.RWMutex

	// Hubs for websocket broadcast
	faceHub  *hub.Hub
	blinkHub *hub.Hub

	// Extra counters rendered on /metrics
	Gauges func() map[string]float64
}

// NewServer creates the API server for proc
func NewServer(port string, proc *processor.Processor) *Server {
	s := &Server{
		port:     port,
		proc:     proc,
		started:  time.Now(),
		blinks:   make([]processor.BlinkEvent, 0, recentBlinks),
		faceHub:  hub.New("faces"),
		blinkHub: hub.New("blinks"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "blinkwatch",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handlePutConfig)
	api.Get("/stats", s.handleStats)
	api.Get("/faces", s.handleFaces)
	api.Get("/blinks", s.handleBlinks)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/faces", websocket.New(s.handleFacesWS))
	app.Get("/ws/blinks", websocket.New(s.handleBlinksWS))

	s.app = app
	return s
}

// SetBlinkLog makes /api/blinks read from a persistent history
func (s *Server) SetBlinkLog(l BlinkLog) {
	s.blinkLog = l
}

// App exposes the fiber app so other components can mount routes
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs and serves until ctx is cancelled or Listen fails
func (s *Server) Start(ctx context.Context) error {
	log.Info("API listening", "url", "http://localhost:"+s.port)

	go s.faceHub.Run(ctx)
	go s.blinkHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(":" + s.port) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// OnFaces broadcasts a face event to /ws/faces clients
func (s *Server) OnFaces(ev processor.FaceEvent) {
	msg, err := protocol.NewFacesMessage(ev)
	if err != nil {
		log.Warn("Failed to encode face event", "error", err)
		return
	}
	s.faceHub.BroadcastMessage(msg)
}

// OnBlink records a blink event and broadcasts it to /ws/blinks clients
func (s *Server) OnBlink(ev processor.BlinkEvent) {
	s.blinksMu.Lock()
	s.blinks = append(s.blinks, ev)
	if len(s.blinks) > recentBlinks {
		s.blinks = s.blinks[1:]
	}
	s.blinksMu.Unlock()

	msg, err := protocol.NewBlinkMessage(ev)
	if err != nil {
		log.Warn("Failed to encode blink event", "error", err)
		return
	}
	s.blinkHub.BroadcastMessage(msg)
}

// recent returns up to limit of the newest in-memory blink events, newest first
func (s *Server) recent(limit int) []processor.BlinkEvent {
	s.blinksMu.RLock()
	defer s.blinksMu.RUnlock()

	n := min(limit, len(s.blinks))
	out := make([]processor.BlinkEvent, 0, n)
	for i := len(s.blinks) - 1; i >= len(s.blinks)-n; i-- {
		out = append(out, s.blinks[i])
	}
	return out
}
