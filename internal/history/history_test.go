package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type blockingSink struct {
	release chan struct{}
	got     chan Event
}

func (b *blockingSink) Send(ctx context.Context, e Event) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.got <- e
	return nil
}

func TestRecorderFansOut(t *testing.T) {
	a := &memSink{}
	b := &memSink{err: errors.New("down")}
	r := NewRecorder(a)
	r.Add(b)

	r.Record(context.Background(), Event{Type: EventStart, Server: "alpha", PID: 42, Status: "running"})
	assert.NoError(t, r.Close())

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.False(t, a.events[0].OccurredAt.IsZero())
	assert.True(t, a.closed)

	// closed recorders drop events
	r.Record(context.Background(), Event{Type: EventStop})
	assert.Len(t, a.events, 1)
	assert.NoError(t, r.Close())
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{Type: EventStop})
	r.Add(&memSink{})
	assert.NoError(t, r.Close())
}

func TestRecordIgnoresCallerCancellation(t *testing.T) {
	a := &memSink{}
	r := NewRecorder(a)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, Event{Type: EventKill, Server: "x"})
	assert.NoError(t, r.Close())
	assert.Len(t, a.events, 1)
}

func TestRecordDoesNotWaitForSlowSink(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{}), got: make(chan Event, 4)}
	r := NewRecorder(slow)

	returned := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			r.Record(context.Background(), Event{Type: EventJob, JobID: "j", Status: "completed"})
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a slow sink")
	}

	close(slow.release)
	assert.NoError(t, r.Close())
	assert.Len(t, slow.got, 3)
}
