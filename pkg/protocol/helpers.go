package protocol

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/teslashibe/go-blinkwatch/pkg/frame"
	"github.com/teslashibe/go-blinkwatch/pkg/pixfmt"
)

// ErrFormat is returned for frame payloads that cannot be decoded.
var ErrFormat = errors.New("protocol: unsupported frame payload")

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameMessage creates an i420 frame message, packing the planes without padding
func NewFrameMessage(f *frame.Frame, frameID uint64) (*Message, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	cw, ch := f.ChromaWidth(), f.ChromaHeight()
	buf := make([]byte, 0, f.Width*f.Height+2*cw*ch)
	buf = appendPlane(buf, f.Buffer.Y, f.Buffer.StrideY, f.Width, f.Height)
	buf = appendPlane(buf, f.Buffer.U, f.Buffer.StrideU, cw, ch)
	buf = appendPlane(buf, f.Buffer.V, f.Buffer.StrideV, cw, ch)

	return NewMessage(TypeFrame, FrameData{
		Width:       f.Width,
		Height:      f.Height,
		Rotation:    f.Rotation,
		Format:      FormatI420,
		Data:        base64.StdEncoding.EncodeToString(buf),
		FrameID:     frameID,
		TimestampNs: f.TimestampNs,
	})
}

// NewJPEGFrameMessage creates a frame message from raw JPEG data
func NewJPEGFrameMessage(width, height int, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  FormatJPEG,
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

func appendPlane(dst, src []byte, stride, width, rows int) []byte {
	for r := 0; r < rows; r++ {
		dst = append(dst, src[r*stride:r*stride+width]...)
	}
	return dst
}

// NewFacesMessage creates a face geometry message
func NewFacesMessage(ev FacesData) (*Message, error) {
	return NewMessage(TypeFaces, ev)
}

// NewBlinkMessage creates a blink event message
func NewBlinkMessage(ev BlinkData) (*Message, error) {
	return NewMessage(TypeBlink, ev)
}

// NewConfigMessage creates a configuration message
func NewConfigMessage(cfg ConfigData) (*Message, error) {
	return NewMessage(TypeConfig, cfg)
}

// NewStatsMessage creates a stats message
func NewStatsMessage(stats StatsData) (*Message, error) {
	return NewMessage(TypeStats, stats)
}

// NewErrorMessage creates an error message
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: err.Error()})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 payload
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// Frame decodes the payload into a planar frame. JPEG payloads take their
// size from the image itself.
func (f *FrameData) Frame() (*frame.Frame, error) {
	raw, err := f.DecodeFrameData()
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame data: %w", err)
	}

	out := &frame.Frame{
		Width:       f.Width,
		Height:      f.Height,
		Rotation:    f.Rotation,
		TimestampNs: f.TimestampNs,
	}

	switch f.Format {
	case FormatI420:
		if f.Width <= 0 || f.Height <= 0 {
			return nil, fmt.Errorf("%w: size %dx%d", ErrFormat, f.Width, f.Height)
		}
		if want := f.Width*f.Height + 2*out.ChromaWidth()*out.ChromaHeight(); len(raw) != want {
			return nil, fmt.Errorf("%w: i420 payload is %d bytes, want %d", ErrFormat, len(raw), want)
		}
		planar, err := frame.NewI420(raw, f.Width, f.Height, f.TimestampNs)
		if err != nil {
			return nil, err
		}
		out.Buffer = planar.Buffer

	case FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		b := img.Bounds()
		out.Width, out.Height = b.Dx(), b.Dy()
		out.Buffer = pixfmt.FromImage(img)

	default:
		return nil, fmt.Errorf("%w: format %q", ErrFormat, f.Format)
	}

	return out, nil
}

// GetFacesData extracts face geometry from a message
func (m *Message) GetFacesData() (*FacesData, error) {
	var data FacesData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetBlinkData extracts a blink event from a message
func (m *Message) GetBlinkData() (*BlinkData, error) {
	var data BlinkData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetConfigMap extracts a configuration update as a loose map, so partial
// updates can be merged with processor.ApplyMap.
func (m *Message) GetConfigMap() (map[string]any, error) {
	data := map[string]any{}
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
