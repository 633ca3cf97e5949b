package notify

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-blinkwatch/internal/httpc"
	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/processor"
)

// WebhookConfig configures the blink webhook.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`

	// OmitCapture strips captured stills from the payload.
	OmitCapture bool `yaml:"omitCapture"`
}

// Webhook POSTs every blink event as JSON. It is a processor.BlinkSink;
// events are queued and sent by one background goroutine in order.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client

	queue   chan processor.BlinkEvent
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewWebhook starts a webhook sender.
func NewWebhook(cfg WebhookConfig) *Webhook {
	client := httpc.Client
	if cfg.Timeout > 0 {
		client = httpc.NewClient(cfg.Timeout)
	} else {
		cfg.Timeout = httpc.DefaultTimeout
	}
	w := &Webhook{
		cfg:     cfg,
		client:  client,
		queue:   make(chan processor.BlinkEvent, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// OnBlink queues ev, dropping it when the queue is full or the webhook is closed.
func (w *Webhook) OnBlink(ev processor.BlinkEvent) {
	select {
	case <-w.done:
		return
	default:
	}

	if w.cfg.OmitCapture {
		ev.CapturedFrame = ""
	}
	select {
	case w.queue <- ev:
	default:
		w.dropped.Add(1)
		log.Warn("Webhook queue full, dropping event", "tracking_id", ev.TrackingID)
	}
}

func (w *Webhook) run() {
	defer close(w.stopped)
	for {
		select {
		case ev := <-w.queue:
			w.send(ev)
		case <-w.done:
			for {
				select {
				case ev := <-w.queue:
					w.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (w *Webhook) send(ev processor.BlinkEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	if err := httpc.PostJSON(ctx, w.client, w.cfg.URL, ev, w.cfg.Headers); err != nil {
		w.failed.Add(1)
		log.Warn("Webhook delivery failed", "url", w.cfg.URL, "tracking_id", ev.TrackingID, "error", err)
		return
	}
	w.sent.Add(1)
}

// WebhookStats contains delivery counters.
type WebhookStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Stats returns delivery counters.
func (w *Webhook) Stats() WebhookStats {
	return WebhookStats{
		Sent:    w.sent.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}

// Close sends what is queued and stops the sender, giving up when ctx ends.
func (w *Webhook) Close(ctx context.Context) error {
	w.once.Do(func() { close(w.done) })
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
