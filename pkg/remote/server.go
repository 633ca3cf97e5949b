package remote

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/face"
)

// Serve answers detection requests on l with d until ctx is cancelled.
// Requests are handled concurrently; d must be safe for concurrent use.
func Serve(ctx context.Context, l net.Listener, d face.Detector) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			handle(ctx, conn, d)
		}()
	}
}

func handle(ctx context.Context, conn net.Conn, d face.Detector) {
	var req Request
	if err := msgpack.NewDecoder(conn).Decode(&req); err != nil {
		log.Warn("Failed to decode detection request", "error", err)
		return
	}

	start := time.Now()
	faces, err := d.Detect(ctx, face.Image{
		NV21:     req.Data,
		Width:    req.Width,
		Height:   req.Height,
		Rotation: req.Rotation,
	})

	resp := Response{InferenceMs: float32(time.Since(start).Microseconds()) / 1000}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Faces = make([]Face, len(faces))
		for i, f := range faces {
			resp.Faces[i] = fromFace(f)
		}
	}

	if err := msgpack.NewEncoder(conn).Encode(&resp); err != nil {
		log.Warn("Failed to send detection response", "error", err)
	}
}
