package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/craftd/internal/store"
)

// persister writes job snapshots in the background. Only the latest pending
// snapshot per job is kept; jobs are written in the order they first became
// pending.
type persister struct {
	st     store.JobStore
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]store.JobRecord
	order   []string
	wake    chan struct{}
	idle    *sync.Cond
	busy    bool
}

func newPersister(st store.JobStore, logger *slog.Logger) *persister {
	p := &persister{
		st:      st,
		logger:  logger,
		pending: make(map[string]store.JobRecord),
		wake:    make(chan struct{}, 1),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

func (p *persister) submit(rec store.JobRecord) {
	if p.st == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.pending[rec.ID]; !ok {
		p.order = append(p.order, rec.ID)
	}
	p.pending[rec.ID] = rec
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run(done <-chan struct{}) {
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-done:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		if len(p.order) == 0 {
			p.busy = false
			p.idle.Broadcast()
			p.mu.Unlock()
			return
		}
		p.busy = true
		id := p.order[0]
		p.order = p.order[1:]
		rec := p.pending[id]
		delete(p.pending, id)
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.st.UpsertJob(ctx, rec); err != nil {
			p.logger.Warn("persist job snapshot", "job", rec.ID, "status", rec.Status, "error", err)
		}
		cancel()
	}
}

// flush blocks until nothing is pending or in flight.
func (p *persister) flush() {
	if p.st == nil {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.mu.Lock()
	for len(p.order) > 0 || p.busy {
		p.idle.Wait()
	}
	p.mu.Unlock()
}
