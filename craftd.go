// Package craftd supervises a fleet of game servers on one host: lifecycle
// control, background installs, resource sampling and an HTTP API. Daemon
// wires the pieces together for embedding; cmd/craftd is a thin CLI over it.
package craftd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/craftd/internal/auth"
	cfg "github.com/loykin/craftd/internal/config"
	"github.com/loykin/craftd/internal/discovery"
	"github.com/loykin/craftd/internal/history"
	hfactory "github.com/loykin/craftd/internal/history/factory"
	"github.com/loykin/craftd/internal/jobs"
	"github.com/loykin/craftd/internal/lifecycle"
	"github.com/loykin/craftd/internal/logger"
	"github.com/loykin/craftd/internal/mcping"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/modpack"
	"github.com/loykin/craftd/internal/perf"
	"github.com/loykin/craftd/internal/registry"
	iapi "github.com/loykin/craftd/internal/server"
	"github.com/loykin/craftd/internal/store"
	sfactory "github.com/loykin/craftd/internal/store/factory"
	itls "github.com/loykin/craftd/internal/tls"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = lifecycle.Status

type CreateRequest = lifecycle.CreateRequest

type Progress = jobs.Progress

type Token = auth.Token

// Job queue names.
const (
	QueueInstalls = "installs"
	QueueSimple   = "simple"
)

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

func DefaultConfig() Config { return cfg.Default() }

// Options overrides host integrations, mainly for tests and embedding.
type Options struct {
	// Logger replaces the logger built from Config.Log.
	Logger  *slog.Logger
	Finder  discovery.Finder
	Session lifecycle.Session
	// Registerer receives the metrics; nil uses the default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Daemon owns every long-lived component.
type Daemon struct {
	cfg       Config
	logger    *slog.Logger
	logCloser io.Closer
	store     store.Store
	history   *history.Recorder
	gate      auth.Gate

	Servers  *lifecycle.Controller
	Modpacks *modpack.Service
	Sampler  *perf.Sampler
	installs *jobs.Engine
	simple   *jobs.Engine
	router   *iapi.Router

	closeOnce sync.Once
}

// New builds a daemon from c. Call Close (or Run) to release it.
func New(c Config, opts Options) (d *Daemon, err error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	d = &Daemon{cfg: c}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	d.logger = opts.Logger
	if d.logger == nil {
		l, closer, err := logger.New(c.Log, os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		d.logger, d.logCloser = l, closer
		slog.SetDefault(l)
	}

	if c.Metrics.Enabled {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	if err := os.MkdirAll(c.ServersDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := sfactory.NewFromDSN(c.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	d.store = st
	if err := st.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}

	d.history = history.NewRecorder()
	for _, dsn := range c.History.Sinks {
		sink, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		d.history.Add(sink)
	}

	d.gate, err = auth.NewGate(c.Auth.JWTSecret, c.Auth.Issuer, c.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	var chowner lifecycle.Chowner = lifecycle.NopChowner{}
	if c.Lifecycle.OwnerUID >= 0 || c.Lifecycle.OwnerGID >= 0 {
		chowner = lifecycle.OwnerChowner{UID: c.Lifecycle.OwnerUID, GID: c.Lifecycle.OwnerGID}
	}
	finder := opts.Finder
	if finder == nil {
		finder = discovery.NewScanner()
	}
	d.Servers = lifecycle.New(lifecycle.Options{
		DataDir:       c.DataDir,
		Finder:        finder,
		Session:       opts.Session,
		Chowner:       chowner,
		History:       d.history,
		BasePort:      c.Lifecycle.BasePort,
		PollInterval:  c.Lifecycle.PollInterval,
		StartTimeout:  c.Lifecycle.StartTimeout,
		StopTimeout:   c.Lifecycle.StopTimeout,
		RestartDelay:  c.Lifecycle.RestartDelay,
		WrapperBinary: c.Lifecycle.Wrapper,
		Logger:        d.logger,
	})

	engine := func(name string) *jobs.Engine {
		return jobs.New(jobs.Options{
			Name:         name,
			Store:        st,
			History:      d.history,
			PollInterval: c.Jobs.PollInterval,
			Retention:    c.Jobs.Retention,
			Logger:       d.logger,
		})
	}
	d.installs = engine(QueueInstalls)
	d.simple = engine(QueueSimple)

	resolver := registry.NewCached(
		registry.NewHTTPResolver(c.Registry.BaseURL, c.Registry.APIKey, &http.Client{Timeout: c.Registry.Timeout}),
		c.Registry.CacheTTL,
	)
	downloader := modpack.Downloader{UserAgent: "craftd"}
	mods := modpack.RegistryInstaller{Resolver: resolver, Downloader: downloader}
	d.Modpacks = modpack.NewService(modpack.Options{
		Installs: d.installs,
		Simple:   d.simple,
		Locate:   d.Servers.Locate,
		Pipeline: &modpack.Pipeline{
			Downloader: downloader,
			Mods:       mods,
			TempDir:    c.Jobs.TempDir,
			Chowner:    chowner,
			Logger:     d.logger,
		},
		Mods:   mods,
		Logger: d.logger,
	})

	pinger := &mcping.Client{Timeout: c.Sampler.PingTimeout}
	d.Sampler = perf.New(perf.Options{
		Finder:  finder,
		Pinger:  pinger,
		Store:   st,
		Dir:     d.Servers.Dir,
		Servers: d.Servers.Names,
		Logger:  d.logger,
	})

	var mh http.Handler
	if c.Metrics.Enabled {
		if opts.Gatherer != nil {
			mh = metrics.HandlerFor(opts.Gatherer)
		} else {
			mh = metrics.Handler()
		}
	}
	d.router = iapi.NewRouter(iapi.Deps{
		Servers:     d.Servers,
		Installs:    d.Modpacks,
		Engines:     []*jobs.Engine{d.installs, d.simple},
		Sampler:     d.Sampler,
		Pinger:      pinger,
		Gate:        d.gate,
		Metrics:     mh,
		MetricsPath: c.Metrics.Path,
		Logger:      d.logger,
	}, c.Server.BasePath)
	return d, nil
}

func (d *Daemon) Logger() *slog.Logger { return d.logger }

// Handler returns the API (and metrics) handler for mounting elsewhere.
func (d *Daemon) Handler() http.Handler { return d.router.Handler() }

// IssueToken mints a bearer token. It fails when no secret is configured.
func (d *Daemon) IssueToken(subject, role string) (*Token, error) {
	g, ok := d.gate.(*auth.JWTGate)
	if !ok {
		return nil, errors.New("auth.jwt_secret is not configured")
	}
	return g.Issue(subject, role)
}

// Job returns the record of a job from whichever queue holds it.
func (d *Daemon) Job(ctx context.Context, id string) (store.JobRecord, error) {
	if rec, ok := d.simple.Memory(id); ok {
		return rec, nil
	}
	return d.installs.Status(ctx, id)
}

// Run starts background work and serves the API until ctx is cancelled,
// then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	defer func() { _ = d.Close() }()

	tlsCfg, err := itls.Setup(d.cfg.Server)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	srv := iapi.NewServer(d.cfg.Server.Listen, d.router, tlsCfg)

	bg, stopBG := context.WithCancel(ctx)
	defer stopBG()
	var wg sync.WaitGroup
	if d.cfg.Sampler.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Sampler.Run(bg, d.cfg.Sampler.Interval, d.cfg.Sampler.Retention)
		}()
	}
	if d.cfg.Lifecycle.StartOnBoot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n := d.Servers.StartOnBoot(bg); n > 0 {
				d.logger.Info("boot autostart finished", "started", n)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("api listening", "addr", srv.Addr, "base_path", d.cfg.Server.BasePath, "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	d.logger.Info("shutting down")
	stopBG()
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		d.logger.Warn("api shutdown", "error", err)
	}
	wg.Wait()
	return errors.Join(serveErr, d.shutdownEngines(sctx))
}

func (d *Daemon) shutdownEngines(ctx context.Context) error {
	var errList []error
	for _, e := range []*jobs.Engine{d.installs, d.simple} {
		if e == nil {
			continue
		}
		if err := e.Shutdown(ctx); err != nil {
			errList = append(errList, fmt.Errorf("queue %s: %w", e.Name(), err))
		}
	}
	return errors.Join(errList...)
}

// Close stops the job queues and releases storage, sinks and log files.
func (d *Daemon) Close() error {
	var err error
	d.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		errList := []error{d.shutdownEngines(ctx)}
		if d.history != nil {
			errList = append(errList, d.history.Close())
		}
		if d.store != nil {
			errList = append(errList, d.store.Close())
		}
		if d.logCloser != nil {
			errList = append(errList, d.logCloser.Close())
		}
		err = errors.Join(errList...)
	})
	return err
}
