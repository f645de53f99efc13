package modpack

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/jobs"
	"github.com/loykin/craftd/internal/store"
)

// Job types.
const (
	JobModpack = "modpack_install"
	JobMod     = "mod_install"
)

// Service enqueues installs. Modpacks go through the install queue, single
// mods through the simple queue.
type Service struct {
	installs *jobs.Engine
	simple   *jobs.Engine
	locate   func(name string) (string, error)
	pipeline *Pipeline
	mods     ModInstaller
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]string // server to modpack job id
}

type Options struct {
	Installs *jobs.Engine
	Simple   *jobs.Engine
	// Locate returns the directory of an existing server.
	Locate   func(name string) (string, error)
	Pipeline *Pipeline
	Mods     ModInstaller
	Logger   *slog.Logger
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mods == nil && opts.Pipeline != nil {
		opts.Mods = opts.Pipeline.Mods
	}
	return &Service{
		installs: opts.Installs,
		simple:   opts.Simple,
		locate:   opts.Locate,
		pipeline: opts.Pipeline,
		mods:     opts.Mods,
		logger:   opts.Logger.With("component", "modpack"),
		inflight: make(map[string]string),
	}
}

// InstallModpack queues a modpack install for server. Only one modpack
// install per server may be pending.
func (s *Service) InstallModpack(ctx context.Context, server, url string) (string, error) {
	if url == "" {
		return "", errs.Validation("modpack url is required")
	}
	dir, err := s.locate(server)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.inflight[server]; ok {
		if rec, live := s.installs.Memory(id); live && !store.IsTerminal(rec.Status) {
			return "", errs.InvalidState("server %q already has modpack install %s", server, id)
		}
	}
	id, err := s.installs.Enqueue(ctx, JobModpack, server, func(ctx context.Context, t *jobs.Tracker) error {
		return s.pipeline.Run(ctx, t, dir, url)
	})
	if err != nil {
		return "", err
	}
	s.inflight[server] = id
	s.logger.Info("modpack install queued", "server", server, "job", id, "url", url)
	return id, nil
}

// InstallMod queues a single mod install for server.
func (s *Service) InstallMod(ctx context.Context, server string, projectID, fileID int) (string, error) {
	if projectID <= 0 || fileID <= 0 {
		return "", errs.Validation("invalid mod reference %d/%d", projectID, fileID)
	}
	dir, err := s.locate(server)
	if err != nil {
		return "", err
	}
	return s.simple.Enqueue(ctx, JobMod, server, func(ctx context.Context, t *jobs.Tracker) error {
		path, err := s.mods.InstallMod(ctx, dir, projectID, fileID, t.Report)
		if err != nil {
			return err
		}
		t.AddFile(path)
		return nil
	})
}
