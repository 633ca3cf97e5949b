package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-blinkwatch/pkg/debug"
	"github.com/teslashibe/go-blinkwatch/pkg/face"
)

// ErrRemote wraps errors reported by the detector service itself.
var ErrRemote = errors.New("remote: detector error")

// Detector is a face.Detector backed by a detector service on a unix socket.
type Detector struct {
	socketPath string

	// Timeout bounds one request when non-zero. Zero relies on the caller's context.
	Timeout time.Duration

	// ids assigns tracking ids when the service does not.
	ids *face.IDAssigner
}

// NewDetector creates a client for the service listening on socketPath.
func NewDetector(socketPath string) *Detector {
	return &Detector{
		socketPath: socketPath,
		ids:        face.NewIDAssigner(),
	}
}

// Detect sends an NV21 frame to the service and returns its faces.
func (d *Detector) Detect(ctx context.Context, img face.Image) ([]face.Face, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", d.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to detector service: %w", err)
	}
	defer conn.Close()

	// Unblock reads and writes when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := Request{
		Width:    img.Width,
		Height:   img.Height,
		Rotation: img.Rotation,
		Data:     img.NV21,
	}
	if err := msgpack.NewEncoder(conn).Encode(&req); err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("failed to send request: %w", err))
	}

	var resp Response
	if err := msgpack.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}

	faces := make([]face.Face, len(resp.Faces))
	for i, w := range resp.Faces {
		faces[i] = toFace(w)
	}
	d.ids.Assign(faces)

	debug.FrameLog("Remote detection", "faces", len(faces), "inference_ms", resp.InferenceMs)
	return faces, nil
}

// Close is a no-op; connections are per request.
func (d *Detector) Close() error {
	return nil
}

// ctxErr prefers the context's error when the connection was closed because of it.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
