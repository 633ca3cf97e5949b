package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/frame"
	"github.com/teslashibe/go-blinkwatch/pkg/ingest"
	"github.com/teslashibe/go-blinkwatch/pkg/notify"
	"github.com/teslashibe/go-blinkwatch/pkg/processor"
	"github.com/teslashibe/go-blinkwatch/pkg/store"
	"github.com/teslashibe/go-blinkwatch/pkg/video"
	"github.com/teslashibe/go-blinkwatch/pkg/web"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the processor with the HTTP/WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	det, err := newDetector(cfg.Detector)
	if err != nil {
		return err
	}
	proc := processor.New(det, processor.WithConfig(cfg.Processor))
	defer proc.Dispose()

	srv := web.NewServer(strconv.Itoa(cfg.Server.Port), proc)
	faceSinks := processor.FaceSinks{srv}
	blinkSinks := processor.BlinkSinks{srv}
	gauges := map[string]func() float64{}

	if c := cfg.Sinks.Postgres; c != nil {
		st, err := store.New(ctx, c.URL)
		if err != nil {
			return fmt.Errorf("failed to open blink log: %w", err)
		}
		defer closeWithTimeout(func(ctx context.Context) error { st.Close(ctx); return nil })
		blinkSinks = append(blinkSinks, st)
		srv.SetBlinkLog(st)
		gauges["store_written"] = func() float64 { return float64(st.Stats().Written) }
		gauges["store_dropped"] = func() float64 { return float64(st.Stats().Dropped) }
		gauges["store_failed"] = func() float64 { return float64(st.Stats().Failed) }
	}

	if c := cfg.Sinks.MQTT; c != nil {
		m := notify.NewMQTTEmitter(*c)
		if err := m.Connect(10 * time.Second); err != nil {
			log.Warn("MQTT not connected yet, retrying in background", "error", err)
		}
		defer m.Disconnect()
		faceSinks = append(faceSinks, m)
		blinkSinks = append(blinkSinks, m)
		gauges["mqtt_errors"] = func() float64 { return float64(m.Stats().Errors) }
	}

	if c := cfg.Sinks.Webhook; c != nil {
		w := notify.NewWebhook(*c)
		defer closeWithTimeout(w.Close)
		blinkSinks = append(blinkSinks, w)
		gauges["webhook_sent"] = func() float64 { return float64(w.Stats().Sent) }
		gauges["webhook_failed"] = func() float64 { return float64(w.Stats().Failed) }
		gauges["webhook_dropped"] = func() float64 { return float64(w.Stats().Dropped) }
	}

	proc.RegisterFaceSink(faceSinks)
	proc.RegisterBlinkSink(blinkSinks)
	// Stop event flow before the sinks above are closed.
	defer proc.Dispose()

	if cfg.Server.Ingest {
		in := ingest.NewHub(proc)
		in.RegisterRoutes(srv.App())
		in.RegisterAPIRoutes(srv.App().Group("/api"))
		gauges["ingest_producers"] = func() float64 { return float64(in.ProducerCount()) }
		gauges["ingest_frames_received"] = func() float64 { return float64(in.Stats().FramesReceived) }
		gauges["ingest_frames_rejected"] = func() float64 { return float64(in.Stats().FramesRejected) }
	}

	srv.Gauges = func() map[string]float64 {
		out := make(map[string]float64, len(gauges))
		for k, g := range gauges {
			out[k] = g()
		}
		return out
	}

	src, err := newSource(cfg.Source)
	if err != nil {
		return err
	}
	if src != nil {
		defer src.Close()
		go runSource(ctx, src, proc)
	}

	log.Info("blinkwatch started",
		"version", Version,
		"port", cfg.Server.Port,
		"detector", cfg.Detector.Kind,
		"source", cfg.Source.Kind,
		"face_sinks", len(faceSinks),
		"blink_sinks", len(blinkSinks),
	)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("blinkwatch stopping")
	return nil
}

// runSource feeds src into proc. The API keeps serving when the source ends.
func runSource(ctx context.Context, src video.Source, proc *processor.Processor) {
	err := src.Run(ctx, func(f *frame.Frame) { proc.OnFrame(f) })
	switch {
	case err == nil:
		log.Info("Video source finished")
	case errors.Is(err, context.Canceled), errors.Is(err, video.ErrClosed):
	default:
		log.Error("Video source failed", "error", err)
	}
}

func closeWithTimeout(stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		log.Warn("Shutdown incomplete", "error", err)
	}
}
