// Package lifecycle starts, stops, restarts and kills servers and manages
// their on-disk settings.
//
// Operations rely on precondition checks against a fresh process scan, not
// on locks. Two concurrent Start calls for one server can both pass the
// "not running" check before either spawns.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loykin/craftd/internal/discovery"
	"github.com/loykin/craftd/internal/env"
	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/serverconfig"
)

// Server states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultStartTimeout = 10 * time.Second
	DefaultStopTimeout  = 60 * time.Second
	DefaultRestartDelay = 2 * time.Second
	DefaultBasePort     = serverconfig.DefaultPort

	// RestartRequiredFile marks a server whose launch settings changed
	// since it was started.
	RestartRequiredFile = ".restart-required"
	// TranscriptFile records the wrapper session's terminal output.
	TranscriptFile = "bootstrap.log"
	// LatestLogFile is the game's own log.
	LatestLogFile = "latest.log"
)

// Options wires a Controller. Zero values get defaults.
type Options struct {
	// DataDir holds one directory per server under servers/.
	DataDir      string
	Finder       discovery.Finder
	Session      Session
	Runner       Runner
	Killer       Killer
	Chowner      Chowner
	History      *history.Recorder
	BasePort     int
	PollInterval time.Duration
	StartTimeout time.Duration
	StopTimeout  time.Duration
	RestartDelay time.Duration
	// WrapperBinary is resolved before every start.
	WrapperBinary string
	Logger        *slog.Logger
}

// Status describes one server.
type Status struct {
	Name            string             `json:"name"`
	State           string             `json:"state"`
	Identity        discovery.Identity `json:"identity"`
	Port            int                `json:"port"`
	EULAAccepted    bool               `json:"eula_accepted"`
	RestartRequired bool               `json:"restart_required"`
	AutoStart       bool               `json:"auto_start"`
}

// Controller implements the server state machine.
type Controller struct {
	opts   Options
	logger *slog.Logger

	// transient marks in-flight start/stop for Status only
	mu        sync.Mutex
	transient map[string]string
}

func New(opts Options) *Controller {
	if opts.Finder == nil {
		opts.Finder = discovery.NewScanner()
	}
	if opts.Session == nil {
		opts.Session = ScreenSession{Binary: opts.WrapperBinary}
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Killer == nil {
		opts.Killer = HostKiller{}
	}
	if opts.Chowner == nil {
		opts.Chowner = NopChowner{}
	}
	if opts.BasePort <= 0 {
		opts.BasePort = DefaultBasePort
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.RestartDelay < 0 {
		opts.RestartDelay = 0
	} else if opts.RestartDelay == 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.WrapperBinary == "" {
		opts.WrapperBinary = "screen"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		opts:      opts,
		logger:    opts.Logger.With("component", "lifecycle"),
		transient: make(map[string]string),
	}
}

// ServersDir is the parent of all server directories.
func (c *Controller) ServersDir() string { return filepath.Join(c.opts.DataDir, "servers") }

// Dir returns the directory of a server.
func (c *Controller) Dir(name string) string { return filepath.Join(c.ServersDir(), name) }

// Locate returns the directory of an existing server.
func (c *Controller) Locate(name string) (string, error) { return c.existing(name) }

// existing validates name and checks that its directory exists.
func (c *Controller) existing(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	dir := c.Dir(name)
	fi, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.NotFound("server %q", name)
		}
		return "", err
	}
	if !fi.IsDir() {
		return "", errs.NotFound("server %q", name)
	}
	return dir, nil
}

// Names lists servers by directory, sorted.
func (c *Controller) Names(context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.ServersDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// List returns the status of every server from a single process scan.
func (c *Controller) List(ctx context.Context) ([]Status, error) {
	names, err := c.Names(ctx)
	if err != nil {
		return nil, err
	}
	ids := c.opts.Finder.ListAll(ctx)
	out := make([]Status, 0, len(names))
	for _, n := range names {
		out = append(out, c.status(n, ids[n]))
	}
	return out, nil
}

// Status returns the status of one server.
func (c *Controller) Status(ctx context.Context, name string) (Status, error) {
	if _, err := c.existing(name); err != nil {
		return Status{}, err
	}
	return c.status(name, c.opts.Finder.Get(ctx, name)), nil
}

func (c *Controller) status(name string, id discovery.Identity) Status {
	dir := c.Dir(name)
	st := Status{Name: name, Identity: id, State: StateStopped, EULAAccepted: serverconfig.EULAAccepted(dir)}
	if id.Running() {
		st.State = StateRunning
	}
	c.mu.Lock()
	if t, ok := c.transient[name]; ok {
		st.State = t
	}
	c.mu.Unlock()
	if props, err := serverconfig.LoadProperties(dir); err == nil {
		st.Port = serverconfig.Port(props)
	}
	if cfg, err := serverconfig.Load(dir); err == nil {
		st.AutoStart = cfg.OnReboot.Start
	}
	_, err := os.Stat(filepath.Join(dir, RestartRequiredFile))
	st.RestartRequired = err == nil
	return st
}

func (c *Controller) mark(name, state string) func() {
	c.mu.Lock()
	c.transient[name] = state
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.transient, name)
		c.mu.Unlock()
	}
}

// Start launches a server after checking every precondition. Nothing is
// spawned when a check fails.
func (c *Controller) Start(ctx context.Context, name string) (err error) {
	defer func() { metrics.ObserveOperation(name, "start", err) }()
	dir, err := c.existing(name)
	if err != nil {
		return err
	}
	if c.opts.Finder.IsRunning(ctx, name) {
		return errs.InvalidState("server %q is already running", name)
	}
	if !serverconfig.EULAAccepted(dir) {
		return errs.InvalidState("server %q: EULA not accepted", name)
	}
	cfg, err := serverconfig.Load(dir)
	if err != nil {
		return err
	}
	for _, f := range cfg.LaunchFiles() {
		p := f
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, f)
		}
		if _, err := os.Stat(p); err != nil {
			return errs.InvalidState("server %q: launch file %s is missing", name, f)
		}
	}
	if err := c.checkExecutables(ctx, cfg); err != nil {
		return err
	}
	argv, err := cfg.Argv(discovery.MarkerProperty + name)
	if err != nil {
		return err
	}
	environ, err := env.Compose(os.Environ(), cfg.Java.Env, discovery.EnvVar+"="+name)
	if err != nil {
		return errs.Validation("server %q: java.env: %v", name, err)
	}

	logs := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logs, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	transcript := filepath.Join(logs, TranscriptFile)
	if err := rotateTranscript(transcript); err != nil {
		c.logger.Warn("rotate transcript", "server", name, "error", err)
	}
	if err := c.opts.Chowner.Chown(logs); err != nil {
		return fmt.Errorf("chown log dir: %w", err)
	}

	done := c.mark(name, StateStarting)
	defer done()
	// mtime resolution is one second on some filesystems
	launched := time.Now().Truncate(time.Second)
	c.logger.Info("starting server", "server", name, "argv", argv)
	if err := c.opts.Session.Spawn(ctx, name, dir, transcript, argv, environ); err != nil {
		return err
	}

	if err := c.verifyStarted(ctx, name, dir, launched); err != nil {
		return err
	}
	metrics.ObserveStartDuration(name, time.Since(launched).Seconds())
	_ = os.Remove(filepath.Join(dir, RestartRequiredFile))
	id := c.opts.Finder.Get(ctx, name)
	c.logger.Info("server started", "server", name, "pid", id.PID())
	c.opts.History.Record(ctx, history.Event{Type: history.EventStart, Server: name, PID: id.PID(), Status: StateRunning})
	return nil
}

func (c *Controller) checkExecutables(ctx context.Context, cfg serverconfig.ServerConfig) error {
	if _, err := c.opts.Runner.LookPath(c.opts.WrapperBinary); err != nil {
		return errs.ExternalTool("wrapper %q not found: %v", c.opts.WrapperBinary, err)
	}
	if _, err := c.opts.Runner.LookPath(cfg.Java.Binary); err != nil {
		return errs.ExternalTool("java binary %q not found: %v", cfg.Java.Binary, err)
	}
	return c.opts.Runner.Run(ctx, cfg.Java.Binary, "-version")
}

// verifyStarted polls until the server is discoverable or its log shows
// output written after launch.
func (c *Controller) verifyStarted(ctx context.Context, name, dir string, launched time.Time) error {
	latest := filepath.Join(dir, "logs", LatestLogFile)
	deadline := time.Now().Add(c.opts.StartTimeout)
	t := time.NewTicker(c.opts.PollInterval)
	defer t.Stop()
	for {
		if c.opts.Finder.IsRunning(ctx, name) {
			return nil
		}
		if fi, err := os.Stat(latest); err == nil && !fi.ModTime().Before(launched) {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.Timeout("server %q did not start within %s\n--- %s ---\n%s\n--- %s ---\n%s",
				name, c.opts.StartTimeout,
				TranscriptFile, tail(filepath.Join(dir, "logs", TranscriptFile), tailLines),
				LatestLogFile, tail(latest, tailLines))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Stop asks the server to shut down and waits up to timeout for its
// processes to disappear. A zero timeout uses the default.
func (c *Controller) Stop(ctx context.Context, name string, timeout time.Duration) (err error) {
	defer func() { metrics.ObserveOperation(name, "stop", err) }()
	if _, err := c.existing(name); err != nil {
		return err
	}
	if !c.opts.Finder.IsRunning(ctx, name) {
		return errs.InvalidState("server %q is not running", name)
	}
	if timeout <= 0 {
		timeout = c.opts.StopTimeout
	}
	done := c.mark(name, StateStopping)
	defer done()

	c.logger.Info("stopping server", "server", name, "timeout", timeout)
	if err := c.opts.Session.Send(ctx, name, "stop"); err != nil {
		return err
	}
	if err := c.waitGone(ctx, name, timeout); err != nil {
		return err
	}
	c.logger.Info("server stopped", "server", name)
	c.opts.History.Record(ctx, history.Event{Type: history.EventStop, Server: name, Status: StateStopped})
	return nil
}

func (c *Controller) waitGone(ctx context.Context, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	t := time.NewTicker(c.opts.PollInterval)
	defer t.Stop()
	for {
		if !c.opts.Finder.IsRunning(ctx, name) {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.Timeout("server %q still running after %s", name, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Restart stops a running server, waits the settle delay and starts it. A
// stopped server is just started.
func (c *Controller) Restart(ctx context.Context, name string) (err error) {
	defer func() { metrics.ObserveOperation(name, "restart", err) }()
	if _, err := c.existing(name); err != nil {
		return err
	}
	if c.opts.Finder.IsRunning(ctx, name) {
		if err := c.Stop(ctx, name, c.opts.StopTimeout); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RestartDelay):
		}
	}
	if err := c.Start(ctx, name); err != nil {
		return err
	}
	c.opts.History.Record(ctx, history.Event{Type: history.EventRestart, Server: name, Status: StateRunning})
	return nil
}

// Kill terminates the server's processes at once.
func (c *Controller) Kill(ctx context.Context, name string) (err error) {
	defer func() { metrics.ObserveOperation(name, "kill", err) }()
	if _, err := c.existing(name); err != nil {
		return err
	}
	id := c.opts.Finder.Get(ctx, name)
	if !id.Running() {
		return errs.InvalidState("server %q has no live process", name)
	}
	var errList []error
	for _, pid := range []int{id.JavaPID, id.WrapperPID} {
		if pid <= 0 {
			continue
		}
		if err := c.opts.Killer.Kill(ctx, pid); err != nil {
			errList = append(errList, fmt.Errorf("kill %d: %w", pid, err))
		}
	}
	if err := errors.Join(errList...); err != nil {
		return err
	}
	c.logger.Warn("server killed", "server", name, "java_pid", id.JavaPID, "wrapper_pid", id.WrapperPID)
	c.opts.History.Record(ctx, history.Event{Type: history.EventKill, Server: name, PID: id.PID(), Status: StateStopped})
	return nil
}

// SendCommand types a console command into the server's session.
func (c *Controller) SendCommand(ctx context.Context, name, command string) error {
	if _, err := c.existing(name); err != nil {
		return err
	}
	if command == "" {
		return errs.Validation("command is empty")
	}
	for _, r := range command {
		if r == '\r' || r == '\n' {
			return errs.Validation("command must be a single line")
		}
	}
	if !c.opts.Finder.IsRunning(ctx, name) {
		return errs.InvalidState("server %q is not running", name)
	}
	return c.opts.Session.Send(ctx, name, command)
}

// StartOnBoot starts every stopped server whose settings ask for it. It
// returns how many started; failures are logged.
func (c *Controller) StartOnBoot(ctx context.Context) int {
	names, err := c.Names(ctx)
	if err != nil {
		c.logger.Warn("boot start: list servers", "error", err)
		return 0
	}
	started := 0
	for _, n := range names {
		cfg, err := serverconfig.Load(c.Dir(n))
		if err != nil || !cfg.OnReboot.Start || c.opts.Finder.IsRunning(ctx, n) {
			continue
		}
		if err := c.Start(ctx, n); err != nil {
			c.logger.Warn("boot start failed", "server", n, "error", err)
			continue
		}
		started++
	}
	return started
}
