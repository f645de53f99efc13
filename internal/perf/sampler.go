// Package perf samples resource usage and liveness of servers and keeps a
// rolling history in the sample store.
package perf

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/loykin/craftd/internal/discovery"
	"github.com/loykin/craftd/internal/mcping"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/serverconfig"
	"github.com/loykin/craftd/internal/store"
)

const (
	// LogActivityWindow is how recent log output must be to count as up.
	LogActivityWindow = 90 * time.Second
	// forgetAfter drops CPU baselines of pids not seen for this long.
	forgetAfter = 10 * time.Minute
)

// Pinger is the status handshake used to decide liveness.
type Pinger interface {
	Ping(ctx context.Context, host string, port int) *mcping.PingResult
}

// Options wires a Sampler.
type Options struct {
	Finder discovery.Finder
	Procs  ProcStats
	Pinger Pinger
	Store  store.SampleStore
	// Dir maps a server name to its directory.
	Dir func(name string) string
	// Servers lists the servers to sample in Run.
	Servers func(ctx context.Context) ([]string, error)
	NumCPU  int
	Now     func() time.Time
	Logger  *slog.Logger
}

type baseline struct {
	cpu   float64
	start int64
	at    time.Time
}

// Sampler produces samples. Safe for concurrent use.
type Sampler struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	prev map[int]baseline
}

func New(opts Options) *Sampler {
	if opts.Procs == nil {
		opts.Procs = HostStats{}
	}
	if opts.Pinger == nil {
		opts.Pinger = &mcping.Client{}
	}
	if opts.NumCPU <= 0 {
		opts.NumCPU = runtime.NumCPU()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sampler{opts: opts, logger: opts.Logger.With("component", "perf"), prev: make(map[int]baseline)}
}

// Sample takes one point-in-time sample of a server.
func (s *Sampler) Sample(ctx context.Context, name string) store.Sample {
	now := s.opts.Now()
	out := store.Sample{Server: name, Timestamp: now.UTC()}
	id := s.opts.Finder.Get(ctx, name)

	if pid := id.PID(); pid > 0 {
		if st, err := s.opts.Procs.Stat(ctx, pid); err == nil {
			out.ResidentMemory = st.RSS
			out.VirtualMemory = st.VMS
			out.CPUPercent = s.observe(pid, st, now)
		} else {
			s.logger.Debug("process stat failed", "server", name, "pid", pid, "error", err)
		}
	}

	var ping *mcping.PingResult
	dir := ""
	if s.opts.Dir != nil {
		dir = s.opts.Dir(name)
	}
	if dir != "" {
		if props, err := serverconfig.LoadProperties(dir); err == nil {
			ping = s.opts.Pinger.Ping(ctx, serverconfig.Host(props), serverconfig.Port(props))
		}
	}
	if ping != nil {
		out.PlayerCount = ping.PlayersOnline
	}
	out.IsUp = id.JavaPID > 0 || id.WrapperPID > 0 || ping != nil || recentLog(dir, now)
	return out
}

// observe records the CPU reading and returns a percentage when a baseline
// from the same process instance exists.
func (s *Sampler) observe(pid int, st Stat, now time.Time) *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, b := range s.prev {
		if now.Sub(b.at) > forgetAfter {
			delete(s.prev, p)
		}
	}
	prev, ok := s.prev[pid]
	s.prev[pid] = baseline{cpu: st.CPUSeconds, start: st.StartTime, at: now}
	// a changed start time means the pid now belongs to another process
	if !ok || prev.start != st.StartTime {
		return nil
	}
	v := cpuPercent(prev.cpu, st.CPUSeconds, now.Sub(prev.at), s.opts.NumCPU)
	return &v
}

func recentLog(dir string, now time.Time) bool {
	if dir == "" {
		return false
	}
	fi, err := os.Stat(filepath.Join(dir, "logs", "latest.log"))
	if err != nil {
		return false
	}
	return now.Sub(fi.ModTime()) <= LogActivityWindow
}

// Collect samples every listed server, stores the samples and publishes them
// as metrics.
func (s *Sampler) Collect(ctx context.Context) []store.Sample {
	if s.opts.Servers == nil {
		return nil
	}
	names, err := s.opts.Servers(ctx)
	if err != nil {
		s.logger.Warn("list servers", "error", err)
		return nil
	}
	out := make([]store.Sample, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		smp := s.Sample(ctx, name)
		metrics.SetSample(name, smp.IsUp, smp.CPUPercent, smp.ResidentMemory, smp.PlayerCount)
		if s.opts.Store != nil {
			if err := s.opts.Store.AppendSample(ctx, smp); err != nil {
				s.logger.Warn("store sample", "server", name, "error", err)
			}
		}
		out = append(out, smp)
	}
	return out
}

// Run samples on every tick until ctx is cancelled. Samples older than
// retention are purged once per cycle when retention is positive.
func (s *Sampler) Run(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.Collect(ctx)
		if retention > 0 && s.opts.Store != nil {
			if n, err := s.opts.Store.PurgeSamplesBefore(ctx, s.opts.Now().Add(-retention)); err != nil {
				s.logger.Warn("purge samples", "error", err)
			} else if n > 0 {
				s.logger.Debug("purged samples", "count", n)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// History returns stored samples of a server since the given time.
func (s *Sampler) History(ctx context.Context, name string, since time.Time, limit int) ([]store.Sample, error) {
	if s.opts.Store == nil {
		return nil, nil
	}
	return s.opts.Store.Samples(ctx, name, since, limit)
}
