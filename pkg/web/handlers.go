package web

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/hub"
	"github.com/teslashibe/go-blinkwatch/pkg/protocol"
)

const (
	defaultBlinkLimit = 50
	maxBlinkLimit     = 1000
)

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := "ok"
	if s.proc.Disposed() {
		status = "disposed"
	}
	return c.JSON(fiber.Map{
		"status": status,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleGetConfig returns the current processor configuration
func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(s.proc.Config())
}

// handlePutConfig merges a partial JSON object into the configuration
func (s *Server) handlePutConfig(c *fiber.Ctx) error {
	params := map[string]any{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}

	cfg, err := s.proc.ConfigureMap(params)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	log.Info("Configuration updated", "config", cfg)
	s.broadcastConfig()
	return c.JSON(cfg)
}

// handleStats returns processor and hub counters
func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"processor": s.proc.Stats(),
		"hubs": fiber.Map{
			s.faceHub.Name():  s.faceHub.Stats(),
			s.blinkHub.Name(): s.blinkHub.Stats(),
		},
	})
}

// handleFaces returns the eye state of every tracked face
func (s *Server) handleFaces(c *fiber.Ctx) error {
	snap := s.proc.Tracker().Snapshot()
	return c.JSON(fiber.Map{
		"faces": snap,
		"count": len(snap),
	})
}

// handleBlinks returns recent blink events, newest first
func (s *Server) handleBlinks(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultBlinkLimit)
	if limit < 1 || limit > maxBlinkLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("limit must be in [1, %d]", maxBlinkLimit),
		})
	}

	if s.blinkLog != nil {
		events, err := s.blinkLog.Recent(c.UserContext(), limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"blinks": events, "source": "store"})
	}
	return c.JSON(fiber.Map{"blinks": s.recent(limit), "source": "memory"})
}

// handleMetrics renders counters in the Prometheus text format
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	st := s.proc.Stats()
	var b strings.Builder

	counter := func(name, help string, v uint64) {
		fmt.Fprintf(&b, "# HELP blinkwatch_%s %s\n# TYPE blinkwatch_%s counter\nblinkwatch_%s %d\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v float64) {
		fmt.Fprintf(&b, "# HELP blinkwatch_%s %s\n# TYPE blinkwatch_%s gauge\nblinkwatch_%s %g\n", name, help, name, name, v)
	}

	counter("frames_seen_total", "Frames offered to the processor.", st.FramesSeen)
	counter("frames_sampled_total", "Frames admitted by the sampling cadence.", st.FramesSampled)
	counter("frames_busy_dropped_total", "Sampled frames dropped while another was in flight.", st.FramesBusyDropped)
	counter("frames_invalid_total", "Frames rejected as malformed.", st.FramesInvalid)
	counter("frames_processed_total", "Frames analyzed by the detector.", st.FramesProcessed)
	counter("detector_failures_total", "Failed detector calls.", st.DetectorFailures)
	counter("faces_detected_total", "Faces reported by the detector.", st.FacesDetected)
	counter("blink_events_total", "Blink events emitted.", st.BlinkEvents)
	counter("captures_taken_total", "Stills encoded on eye closure.", st.CapturesTaken)
	counter("captures_failed_total", "Stills that failed to encode.", st.CapturesFailed)
	gauge("tracked_faces", "Faces with eye state.", float64(st.TrackedFaces))
	gauge("websocket_clients", "Connected dashboard clients.", float64(s.faceHub.ClientCount()+s.blinkHub.ClientCount()))

	if s.Gauges != nil {
		extra := s.Gauges()
		names := make([]string, 0, len(extra))
		for name := range extra {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			gauge(name, "External gauge.", extra[name])
		}
	}

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}

// handleFacesWS streams face events. Clients may send config messages.
func (s *Server) handleFacesWS(c *websocket.Conn) {
	var initial []hub.Message
	for _, build := range []func() (*protocol.Message, error){
		func() (*protocol.Message, error) { return protocol.NewConfigMessage(s.proc.Config()) },
		func() (*protocol.Message, error) { return protocol.NewStatsMessage(s.proc.Stats()) },
	} {
		msg, err := build()
		if err != nil {
			continue
		}
		if m, err := hub.FromProtocol(msg); err == nil {
			initial = append(initial, m)
		}
	}

	client := hub.NewClient(s.faceHub, c, initial...)
	client.OnMessage = s.handleClientMessage
	client.Run()
}

// handleBlinksWS streams blink events, starting with the recent history
func (s *Server) handleBlinksWS(c *websocket.Conn) {
	events := s.recent(20)
	initial := make([]hub.Message, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		msg, err := protocol.NewBlinkMessage(events[i])
		if err != nil {
			continue
		}
		if m, err := hub.FromProtocol(msg); err == nil {
			initial = append(initial, m)
		}
	}

	hub.NewClient(s.blinkHub, c, initial...).Run()
}

func (s *Server) handleClientMessage(client *hub.Client, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		log.Debug("Ignoring dashboard message", "client", client.ID, "error", err)
		return
	}
	if msg.Type != protocol.TypeConfig {
		return
	}

	params, err := msg.GetConfigMap()
	if err != nil {
		log.Debug("Ignoring config message", "client", client.ID, "error", err)
		return
	}
	if _, err := s.proc.ConfigureMap(params); err != nil {
		log.Warn("Config update rejected", "client", client.ID, "error", err)
		return
	}
	s.broadcastConfig()
}

// broadcastConfig tells face dashboards about the current configuration
func (s *Server) broadcastConfig() {
	msg, err := protocol.NewConfigMessage(s.proc.Config())
	if err != nil {
		return
	}
	s.faceHub.BroadcastMessage(msg)
}
