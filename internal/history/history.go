package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of audit event.
type EventType string

const (
	EventCreate  EventType = "create"
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
	EventKill    EventType = "kill"
	EventConfig  EventType = "config"
	EventJob     EventType = "job"
)

// Event is one audit entry exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Server     string    `json:"server"`
	PID        int       `json:"pid,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to every configured sink from a single delivery
// goroutine, so Record never waits on a sink. Sink failures are logged and
// never reach the caller. When the buffer is full new events are dropped.
type Recorder struct {
	mu      sync.RWMutex
	sinks   []Sink
	timeout time.Duration
	queue   chan Event
	closed  bool
	done    chan struct{}
}

// QueueSize bounds the events waiting for delivery.
const QueueSize = 256

func NewRecorder(sinks ...Sink) *Recorder {
	r := &Recorder{
		sinks:   sinks,
		timeout: 5 * time.Second,
		queue:   make(chan Event, QueueSize),
		done:    make(chan struct{}),
	}
	go r.deliver()
	return r
}

// Add registers another sink.
func (r *Recorder) Add(s Sink) {
	if r == nil || s == nil {
		return
	}
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Record queues e for the sinks. A nil or closed Recorder drops the event.
// The caller's cancellation does not apply to delivery.
func (r *Recorder) Record(_ context.Context, e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		slog.Warn("history queue full, event dropped", "type", e.Type, "server", e.Server)
	}
}

func (r *Recorder) deliver() {
	defer close(r.done)
	for e := range r.queue {
		r.mu.RLock()
		sinks := append([]Sink(nil), r.sinks...)
		r.mu.RUnlock()
		for _, s := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				slog.Warn("history sink failed", "type", e.Type, "server", e.Server, "error", err)
			}
			cancel()
		}
	}
}

// Close delivers the queued events, then closes every sink that supports it.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	r.sinks = nil
	return first
}
