package perf

import (
	"context"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/craftd/internal/discovery"
)

// Stat is a reading of one process.
type Stat struct {
	// CPUSeconds is cumulative user+system CPU time.
	CPUSeconds float64
	RSS        uint64
	VMS        uint64
	// StartTime identifies the process instance behind a pid.
	StartTime int64
}

// ProcStats reads resource usage of a process.
type ProcStats interface {
	Stat(ctx context.Context, pid int) (Stat, error)
}

// HostStats reads the host process table through gopsutil.
type HostStats struct{}

func (HostStats) Stat(ctx context.Context, pid int) (Stat, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Stat{}, err
	}
	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return Stat{}, err
	}
	st := Stat{CPUSeconds: times.User + times.System, StartTime: discovery.StartTime(pid)}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		st.RSS = mem.RSS
		st.VMS = mem.VMS
	}
	return st, nil
}
