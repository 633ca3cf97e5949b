// Package protocol defines the WebSocket message envelope shared by frame
// producers, the blinkwatch service and its dashboards.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-blinkwatch/pkg/blink"
	"github.com/teslashibe/go-blinkwatch/pkg/processor"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Producer → Service
	TypeFrame MessageType = "frame" // Video frame

	// Service → Dashboard
	TypeFaces MessageType = "faces" // Face geometry for one analyzed frame
	TypeBlink MessageType = "blink" // Blink event
	TypeStats MessageType = "stats" // Processor counters

	// Bidirectional
	TypeConfig MessageType = "config" // Processor configuration
	TypePing   MessageType = "ping"   // Health check
	TypePong   MessageType = "pong"   // Health check response
	TypeError  MessageType = "error"  // Rejected message
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// Frame formats
const (
	FormatI420 = "i420" // Y, U, V planes packed without padding
	FormatJPEG = "jpeg"
)

// FrameData contains one video frame
type FrameData struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Rotation    int    `json:"rotation,omitempty"` // 0, 90, 180, 270
	Format      string `json:"format"`             // "i420", "jpeg"
	Data        string `json:"data"`               // base64 encoded
	FrameID     uint64 `json:"frame_id,omitempty"`
	TimestampNs int64  `json:"timestamp_ns,omitempty"`
}

// FacesData is the face geometry event.
type FacesData = processor.FaceEvent

// BlinkData is the blink event.
type BlinkData = blink.Event

// ConfigData is the processor configuration.
type ConfigData = processor.Config

// StatsData is the processor counter snapshot.
type StatsData = processor.Stats

// ErrorData describes a rejected message
type ErrorData struct {
	Message string `json:"message"`
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
