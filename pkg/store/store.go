// Package store keeps a PostgreSQL log of blink events.
package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/blink"
)

const (
	queueSize    = 256
	writeTimeout = 5 * time.Second
)

// Store records blink events in Postgres. It implements processor.BlinkSink:
// OnBlink queues the event and a background writer inserts it, so a slow
// database never stalls event delivery.
type Store struct {
	mu   sync.Mutex // pgx.Conn is not safe for concurrent use
	conn *pgx.Conn

	queue   chan blink.Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New connects to the database, ensures the schema and starts the writer.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	s := &Store{
		conn:    conn,
		queue:   make(chan blink.Event, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

// initSchema creates the event table if it doesn't exist (auto-migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS blink_events (
			id BIGSERIAL PRIMARY KEY,
			tracking_id INT NOT NULL,
			eye TEXT NOT NULL,
			left_count BIGINT NOT NULL,
			right_count BIGINT NOT NULL,
			captured_frame TEXT,
			frame_ts_ns BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS blink_events_tracking_id_idx ON blink_events (tracking_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// OnBlink queues ev for insertion, dropping it when the queue is full.
func (s *Store) OnBlink(ev blink.Event) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		log.Warn("Blink log queue full, dropping event", "tracking_id", ev.TrackingID)
	}
}

func (s *Store) writer() {
	defer close(s.stopped)
	for {
		select {
		case ev := <-s.queue:
			s.write(ev)
		case <-s.done:
			// Drain what was queued before Close
			for {
				select {
				case ev := <-s.queue:
					s.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(ev blink.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.Insert(ctx, ev); err != nil {
		s.failed.Add(1)
		log.Error("Failed to record blink event", "tracking_id", ev.TrackingID, "error", err)
		return
	}
	s.written.Add(1)
}

// Insert records one event synchronously.
func (s *Store) Insert(ctx context.Context, ev blink.Event) error {
	var frame *string
	if ev.CapturedFrame != "" {
		frame = &ev.CapturedFrame
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO blink_events (tracking_id, eye, left_count, right_count, captured_frame, frame_ts_ns)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.TrackingID, string(ev.Eye), int64(ev.LeftBlinkCount), int64(ev.RightBlinkCount), frame, ev.Timestamp)
	return err
}

// Recent returns the newest events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]blink.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, `
		SELECT tracking_id, eye, left_count, right_count, COALESCE(captured_frame, ''), frame_ts_ns
		FROM blink_events
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []blink.Event
	for rows.Next() {
		var (
			ev          blink.Event
			eye         string
			left, right int64
		)
		if err := rows.Scan(&ev.TrackingID, &eye, &left, &right, &ev.CapturedFrame, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Eye = blink.Eye(eye)
		ev.LeftBlinkCount = uint32(left)
		ev.RightBlinkCount = uint32(right)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count summarizes the logged events of one tracking id.
type Count struct {
	TrackingID int   `json:"trackingId"`
	Events     int64 `json:"events"`
	Left       int64 `json:"left"`  // highest left count seen
	Right      int64 `json:"right"` // highest right count seen
}

// Counts returns per tracking id totals ordered by id.
func (s *Store) Counts(ctx context.Context) ([]Count, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, `
		SELECT tracking_id, COUNT(*), MAX(left_count), MAX(right_count)
		FROM blink_events
		GROUP BY tracking_id
		ORDER BY tracking_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.TrackingID, &c.Events, &c.Left, &c.Right); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Reset deletes every logged event.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, "TRUNCATE blink_events RESTART IDENTITY")
	return err
}

// Stats reports writer counters.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Queued  int    `json:"queued"`
}

// Stats returns writer counters.
func (s *Store) Stats() Stats {
	return Stats{
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
		Queued:  len(s.queue),
	}
}

// Close flushes queued events and closes the connection.
func (s *Store) Close(ctx context.Context) {
	s.once.Do(func() {
		close(s.done)
	})
	select {
	case <-s.stopped:
	case <-ctx.Done():
		log.Warn("Blink log closed before the queue drained", "queued", len(s.queue))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}
