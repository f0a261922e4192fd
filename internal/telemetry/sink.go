// Package telemetry records per-turn outcomes without ever blocking the
// request path. Events are queued on a bounded channel and drained to
// storage by a background worker; when the queue is full the event is
// dropped and counted.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/karmayogi/saarthi/internal/session"
	"github.com/karmayogi/saarthi/internal/storage"
)

// Event is one turn's telemetry.
type Event struct {
	TurnID    string
	SessionID string
	Intent    string
	Handler   string
	Outcome   string
	Timings   session.Timings
	CreatedAt time.Time
}

// Writer is the slice of the store the sink needs.
type Writer interface {
	InsertTelemetry(ctx context.Context, row storage.TelemetryRow) error
}

// Sink buffers events and writes them out of band.
type Sink struct {
	writer  Writer
	events  chan Event
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewSink creates a sink with the given queue capacity.
func NewSink(writer Writer, capacity int) *Sink {
	if capacity <= 0 {
		capacity = 256
	}
	return &Sink{
		writer: writer,
		events: make(chan Event, capacity),
		logger: slog.Default().With("component", "telemetry"),
	}
}

// Record queues an event. It never blocks: if the queue is full the
// event is dropped.
func (s *Sink) Record(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to a full queue.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still buffered.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.events:
			s.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.events:
					s.write(ev)
				default:
					if n := s.dropped.Load(); n > 0 {
						s.logger.Warn("telemetry events dropped", "count", n)
					}
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Sink) write(ev Event) {
	stages, err := json.Marshal(ev.Timings)
	if err != nil {
		stages = []byte("{}")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := storage.TelemetryRow{
		TurnID:     ev.TurnID,
		SessionID:  ev.SessionID,
		Intent:     ev.Intent,
		Handler:    ev.Handler,
		Outcome:    ev.Outcome,
		TotalMs:    ev.Timings.TotalMs,
		StagesJSON: string(stages),
		CreatedAt:  ev.CreatedAt,
	}
	if err := s.writer.InsertTelemetry(ctx, row); err != nil {
		s.logger.Warn("telemetry write failed", "turn", ev.TurnID, "error", err)
	}
}
