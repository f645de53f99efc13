// Package jobs runs long operations off the request path. Each Engine owns
// one unbounded FIFO queue drained by a single consumer goroutine, so jobs of
// one engine never overlap.
package jobs

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/store"
)

const (
	// DefaultPollInterval paces Subscribe.
	DefaultPollInterval = 400 * time.Millisecond
	// DefaultRetention is how long finished jobs stay in memory.
	DefaultRetention = time.Hour

	cancelledMessage = "cancelled"
)

// Options configures an Engine.
type Options struct {
	// Name labels the queue in logs and metrics.
	Name         string
	Store        store.JobStore
	History      *history.Recorder
	PollInterval time.Duration
	Retention    time.Duration
	Logger       *slog.Logger
}

// Engine is a single-consumer job queue with durable status.
type Engine struct {
	name      string
	poll      time.Duration
	retention time.Duration
	logger    *slog.Logger
	history   *history.Recorder
	durable   store.JobStore

	queue   *fifo[*job]
	persist *persister
	lookup  Lookup

	mu   sync.RWMutex
	jobs map[string]*job

	ctx      context.Context
	stop     context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	shutOnce sync.Once
}

// New starts an engine. Call Shutdown to stop it.
func New(opts Options) *Engine {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("queue", opts.Name)
	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		name:      opts.Name,
		poll:      opts.PollInterval,
		retention: opts.Retention,
		logger:    logger,
		history:   opts.History,
		durable:   opts.Store,
		queue:     newFIFO[*job](),
		persist:   newPersister(opts.Store, logger),
		jobs:      make(map[string]*job),
		ctx:       ctx,
		stop:      stop,
		done:      make(chan struct{}),
	}
	e.lookup = NewTieredLookup(e, opts.Store)
	e.wg.Add(2)
	go func() { defer e.wg.Done(); e.persist.run(e.done) }()
	go func() { defer e.wg.Done(); e.consume() }()
	return e
}

// Name returns the queue label.
func (e *Engine) Name() string { return e.name }

// Enqueue registers a job and returns its id without waiting for the work.
// The queued record is persisted before Enqueue returns.
func (e *Engine) Enqueue(ctx context.Context, jobType, server string, fn Func) (string, error) {
	if fn == nil {
		return "", errs.Validation("job function is nil")
	}
	if e.ctx.Err() != nil {
		return "", errs.InvalidState("job queue %s is shut down", e.name)
	}
	id := uuid.NewString()
	j := &job{
		rec: store.JobRecord{
			ID:         id,
			Type:       jobType,
			ServerName: server,
			Status:     store.StatusQueued,
			StartedAt:  time.Now().UTC(),
		},
		fn:     fn,
		onSnap: e.persist.submit,
	}
	e.prune()
	e.mu.Lock()
	e.jobs[id] = j
	e.mu.Unlock()

	if e.durable != nil {
		if err := e.durable.UpsertJob(ctx, j.snapshot()); err != nil {
			e.logger.Warn("persist queued job", "job", id, "error", err)
		}
	}
	e.queue.Push(j)
	metrics.SetQueueDepth(e.name, e.queue.Len())
	e.logger.Info("job queued", "job", id, "type", jobType, "server", server)
	return id, nil
}

// Status returns the current record, checking memory before durable storage.
func (e *Engine) Status(ctx context.Context, id string) (store.JobRecord, error) {
	return e.lookup.Get(ctx, id)
}

// Memory implements MemoryView.
func (e *Engine) Memory(id string) (store.JobRecord, bool) {
	j := e.get(id)
	if j == nil {
		return store.JobRecord{}, false
	}
	return j.snapshot(), true
}

// Install returns the install detail of a job still held in memory.
func (e *Engine) Install(id string) (*InstallState, bool) {
	j := e.get(id)
	if j == nil {
		return nil, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.install == nil {
		return nil, false
	}
	return j.install.clone(), true
}

// List returns jobs for server (all servers when empty), newest first.
// In-memory state wins over stored records.
func (e *Engine) List(ctx context.Context, server string, limit int) ([]store.JobRecord, error) {
	byID := make(map[string]store.JobRecord)
	if e.durable != nil {
		recs, err := e.durable.ListJobs(ctx, server, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			byID[r.ID] = r
		}
	}
	e.mu.RLock()
	for id, j := range e.jobs {
		rec := j.snapshot()
		if server == "" || rec.ServerName == server {
			byID[id] = rec
		}
	}
	e.mu.RUnlock()
	out := make([]store.JobRecord, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cancel resolves a queued or running job to failed with "cancelled". A
// running job also has its context cancelled.
func (e *Engine) Cancel(id string) error {
	j := e.get(id)
	if j == nil {
		return errs.NotFound("job %s", id)
	}
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !e.finish(j, store.StatusFailed, cancelledMessage) {
		return errs.InvalidState("job %s already finished", id)
	}
	return nil
}

// Subscribe streams progress for id. It yields the current snapshot at once,
// then again every poll interval until the job is terminal, ending after one
// terminal record. For a job not held in memory it yields the stored record
// once. Cancelling ctx ends the stream with ctx.Err() and leaves the job
// running.
func (e *Engine) Subscribe(ctx context.Context, id string) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		j := e.get(id)
		if j == nil {
			rec, err := e.lookup.Get(ctx, id)
			if err != nil {
				yield(Progress{}, err)
				return
			}
			yield(FromRecord(rec), nil)
			return
		}
		ticker := time.NewTicker(e.poll)
		defer ticker.Stop()
		for {
			if err := ctx.Err(); err != nil {
				yield(Progress{}, err)
				return
			}
			p := j.progress()
			if !yield(p, nil) || p.Terminal() {
				return
			}
			select {
			case <-ctx.Done():
				yield(Progress{}, ctx.Err())
				return
			case <-ticker.C:
			}
		}
	}
}

// Shutdown stops accepting work, cancels queued and running jobs and waits
// for the consumer and pending writes until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	var err error
	e.shutOnce.Do(func() {
		e.stop()
		e.mu.RLock()
		pending := make([]*job, 0, len(e.jobs))
		for _, j := range e.jobs {
			pending = append(pending, j)
		}
		e.mu.RUnlock()
		for _, j := range pending {
			j.mu.Lock()
			cancel := j.cancel
			j.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			e.finish(j, store.StatusFailed, cancelledMessage)
		}
		close(e.done)
		waited := make(chan struct{})
		go func() { e.wg.Wait(); close(waited) }()
		select {
		case <-waited:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (e *Engine) get(id string) *job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.jobs[id]
}

func (e *Engine) consume() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.queue.Ready():
		}
		for {
			j, ok := e.queue.TryPop()
			if !ok {
				break
			}
			metrics.SetQueueDepth(e.name, e.queue.Len())
			if e.ctx.Err() != nil {
				return
			}
			e.runOne(j)
		}
	}
}

func (e *Engine) runOne(j *job) {
	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	j.mu.Lock()
	if store.IsTerminal(j.rec.Status) {
		// cancelled while queued
		j.mu.Unlock()
		return
	}
	j.cancel = cancel
	j.mu.Unlock()

	rec, ok := j.transition(store.StatusRunning, "")
	if !ok {
		return
	}
	e.persist.submit(rec)
	e.logger.Info("job started", "job", rec.ID, "type", rec.Type, "server", rec.ServerName)

	err := e.call(ctx, j)
	switch {
	case err == nil:
		e.finish(j, store.StatusCompleted, "")
	case errs.IsCancellation(err) || ctx.Err() != nil:
		e.finish(j, store.StatusFailed, cancelledMessage)
	default:
		e.finish(j, store.StatusFailed, err.Error())
	}
}

// call runs the job body, turning a panic into an error.
func (e *Engine) call(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(ctx, &Tracker{j: j})
}

// finish moves j to a terminal status once. It reports whether this call did
// the transition.
func (e *Engine) finish(j *job, status, errMsg string) bool {
	rec, ok := j.transition(status, errMsg)
	if !ok {
		return false
	}
	e.persist.submit(rec)
	metrics.ObserveJob(e.name, rec.Type, rec.Status)
	if rec.Status == store.StatusFailed {
		e.logger.Warn("job failed", "job", rec.ID, "type", rec.Type, "server", rec.ServerName, "error", rec.Error)
	} else {
		e.logger.Info("job completed", "job", rec.ID, "type", rec.Type, "server", rec.ServerName)
	}
	e.history.Record(context.Background(), history.Event{
		Type:    history.EventJob,
		Server:  rec.ServerName,
		JobID:   rec.ID,
		Status:  rec.Status,
		Message: rec.Type,
		Error:   rec.Error,
	})
	return true
}

// prune drops finished jobs older than the retention window from memory.
func (e *Engine) prune() {
	cutoff := time.Now().Add(-e.retention)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, j := range e.jobs {
		rec := j.snapshot()
		if rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			delete(e.jobs, id)
		}
	}
}

// Flush waits until every snapshot reported so far has been written.
func (e *Engine) Flush() { e.persist.flush() }

// FromRecord converts a stored record into a stream record.
func FromRecord(rec store.JobRecord) Progress {
	ts := rec.StartedAt
	if rec.CompletedAt != nil {
		ts = *rec.CompletedAt
	}
	return Progress{
		ID:         rec.ID,
		Type:       rec.Type,
		ServerName: rec.ServerName,
		Status:     rec.Status,
		Percentage: rec.Percentage,
		Message:    rec.Message,
		Error:      rec.Error,
		Timestamp:  ts,
	}
}
