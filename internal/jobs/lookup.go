package jobs

import (
	"context"

	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/store"
)

// MemoryView exposes jobs held in memory.
type MemoryView interface {
	Memory(id string) (store.JobRecord, bool)
}

// Lookup resolves a job id to its current record.
type Lookup interface {
	Get(ctx context.Context, id string) (store.JobRecord, error)
}

// TieredLookup answers from memory first and falls back to durable storage,
// which is what survives a daemon restart.
type TieredLookup struct {
	memory  MemoryView
	durable store.JobStore
}

func NewTieredLookup(memory MemoryView, durable store.JobStore) *TieredLookup {
	return &TieredLookup{memory: memory, durable: durable}
}

func (l *TieredLookup) Get(ctx context.Context, id string) (store.JobRecord, error) {
	if l.memory != nil {
		if rec, ok := l.memory.Memory(id); ok {
			return rec, nil
		}
	}
	if l.durable == nil {
		return store.JobRecord{}, errs.NotFound("job %s", id)
	}
	return l.durable.GetJob(ctx, id)
}
