package discovery

import (
	"context"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// HostSource enumerates the host process table through gopsutil, which reads
// /proc on Linux and uses the native enumeration APIs elsewhere.
type HostSource struct{}

func (HostSource) Processes(ctx context.Context) ([]Proc, error) {
	ps, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Proc, 0, len(ps))
	for _, p := range ps {
		out = append(out, hostProc{p: p})
	}
	return out, nil
}

type hostProc struct{ p *gopsproc.Process }

func (h hostProc) PID() int { return int(h.p.Pid) }

func (h hostProc) Args(ctx context.Context) ([]string, error) {
	return h.p.CmdlineSliceWithContext(ctx)
}

func (h hostProc) Environ(ctx context.Context) ([]string, error) {
	return h.p.EnvironWithContext(ctx)
}
