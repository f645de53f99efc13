package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/craftd/internal/discovery"
	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/serverconfig"
)

type fakeFinder struct {
	mu  sync.Mutex
	ids map[string]discovery.Identity
}

func newFakeFinder() *fakeFinder { return &fakeFinder{ids: map[string]discovery.Identity{}} }

func (f *fakeFinder) set(name string, id discovery.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id.Running() {
		f.ids[name] = id
	} else {
		delete(f.ids, name)
	}
}

func (f *fakeFinder) ListAll(context.Context) map[string]discovery.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]discovery.Identity, len(f.ids))
	for k, v := range f.ids {
		out[k] = v
	}
	return out
}

func (f *fakeFinder) Get(ctx context.Context, name string) discovery.Identity {
	return f.ListAll(ctx)[name]
}

func (f *fakeFinder) IsRunning(ctx context.Context, name string) bool {
	return f.Get(ctx, name).Running()
}

type spawnCall struct {
	server, dir, transcript string
	argv, env               []string
}

type fakeSession struct {
	mu      sync.Mutex
	spawns  []spawnCall
	sent    []string
	onSpawn func(call spawnCall)
	onSend  func(server, line string)
}

func (s *fakeSession) Spawn(_ context.Context, server, dir, transcript string, argv, env []string) error {
	call := spawnCall{server: server, dir: dir, transcript: transcript, argv: argv, env: env}
	s.mu.Lock()
	s.spawns = append(s.spawns, call)
	fn := s.onSpawn
	s.mu.Unlock()
	if fn != nil {
		fn(call)
	}
	return nil
}

func (s *fakeSession) Send(_ context.Context, server, line string) error {
	s.mu.Lock()
	s.sent = append(s.sent, line)
	fn := s.onSend
	s.mu.Unlock()
	if fn != nil {
		fn(server, line)
	}
	return nil
}

func (s *fakeSession) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawns)
}

type fakeRunner struct {
	missing map[string]bool
	runErr  error
}

func (r fakeRunner) LookPath(name string) (string, error) {
	if r.missing[name] {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + name, nil
}

func (r fakeRunner) Run(context.Context, string, ...string) error { return r.runErr }

type fakeKiller struct {
	mu     sync.Mutex
	killed []int
	finder *fakeFinder
	server string
}

func (k *fakeKiller) Kill(_ context.Context, pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.killed = append(k.killed, pid)
	if k.finder != nil {
		k.finder.set(k.server, discovery.Identity{})
	}
	return nil
}

type harness struct {
	ctl     *Controller
	finder  *fakeFinder
	session *fakeSession
	runner  *fakeRunner
	killer  *fakeKiller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		finder:  newFakeFinder(),
		session: &fakeSession{},
		runner:  &fakeRunner{missing: map[string]bool{}},
		killer:  &fakeKiller{},
	}
	h.ctl = New(Options{
		DataDir:      t.TempDir(),
		Finder:       h.finder,
		Session:      h.session,
		Runner:       h.runner,
		Killer:       h.killer,
		PollInterval: 5 * time.Millisecond,
		StartTimeout: 150 * time.Millisecond,
		StopTimeout:  100 * time.Millisecond,
		RestartDelay: time.Millisecond,
	})
	return h
}

// ready creates a server with an accepted EULA and its jar in place.
func (h *harness) ready(t *testing.T, name string) string {
	t.Helper()
	_, err := h.ctl.Create(context.Background(), CreateRequest{Name: name, AcceptEULA: true})
	require.NoError(t, err)
	dir := h.ctl.Dir(name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.jar"), []byte("jar"), 0o644))
	return dir
}

func TestCreateAllocatesLowestFreePort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.ctl.Create(ctx, CreateRequest{Name: "alpha"})
	require.NoError(t, err)
	b, err := h.ctl.Create(ctx, CreateRequest{Name: "beta"})
	require.NoError(t, err)
	c, err := h.ctl.Create(ctx, CreateRequest{Name: "gamma"})
	require.NoError(t, err)

	assert.Equal(t, 25565, a.Port)
	assert.Equal(t, 25566, b.Port)
	assert.Equal(t, 25567, c.Port)
	assert.Equal(t, StateStopped, c.State)
	assert.False(t, c.EULAAccepted)
}

func TestCreateFillsGap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctl.Create(ctx, CreateRequest{Name: "one", Port: 25566})
	require.NoError(t, err)
	st, err := h.ctl.Create(ctx, CreateRequest{Name: "two"})
	require.NoError(t, err)
	assert.Equal(t, 25565, st.Port)
}

func TestCreateRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctl.Create(ctx, CreateRequest{Name: "alpha"})
	require.NoError(t, err)

	_, err = h.ctl.Create(ctx, CreateRequest{Name: "alpha"})
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = h.ctl.Create(ctx, CreateRequest{Name: "beta", Port: 25565})
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = h.ctl.Create(ctx, CreateRequest{Name: "../escape"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.ctl.Create(ctx, CreateRequest{Name: "gamma", Port: 70000})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestStartSpawnsWithMarker(t *testing.T) {
	h := newHarness(t)
	name := "my server"
	dir := h.ready(t, name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, RestartRequiredFile), nil, 0o644))
	h.session.onSpawn = func(call spawnCall) {
		h.finder.set(call.server, discovery.Identity{WrapperPID: 10, JavaPID: 11})
	}

	require.NoError(t, h.ctl.Start(context.Background(), name))

	require.Equal(t, 1, h.session.spawnCount())
	call := h.session.spawns[0]
	assert.Equal(t, name, call.server)
	assert.Equal(t, dir, call.dir)
	assert.Equal(t, filepath.Join(dir, "logs", TranscriptFile), call.transcript)
	assert.Contains(t, call.argv, "-Dcraftd.server=my server")
	assert.Equal(t, []string{"-jar", "server.jar", "nogui"}, call.argv[len(call.argv)-3:])
	assert.Contains(t, call.env, "CRAFTD_SERVER=my server")
	assert.NoFileExists(t, filepath.Join(dir, RestartRequiredFile))

	st, err := h.ctl.Status(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 11, st.Identity.JavaPID)
}

func TestStartAppliesServerEnv(t *testing.T) {
	h := newHarness(t)
	dir := h.ready(t, "alpha")
	cfg, err := serverconfig.Load(dir)
	require.NoError(t, err)
	cfg.Java.Env = []string{"TZ=UTC", "CRAFTD_SERVER=spoofed"}
	require.NoError(t, serverconfig.Save(dir, cfg))
	h.session.onSpawn = func(call spawnCall) {
		h.finder.set(call.server, discovery.Identity{WrapperPID: 10, JavaPID: 11})
	}

	require.NoError(t, h.ctl.Start(context.Background(), "alpha"))

	call := h.session.spawns[0]
	assert.Contains(t, call.env, "TZ=UTC")
	assert.Contains(t, call.env, "CRAFTD_SERVER=alpha")
	assert.NotContains(t, call.env, "CRAFTD_SERVER=spoofed")
}

func TestStartVerifiedByLogActivity(t *testing.T) {
	h := newHarness(t)
	dir := h.ready(t, "alpha")
	h.session.onSpawn = func(spawnCall) {
		_ = os.WriteFile(filepath.Join(dir, "logs", LatestLogFile), []byte("[Server thread/INFO]: Starting\n"), 0o644)
	}
	require.NoError(t, h.ctl.Start(context.Background(), "alpha"))
}

func TestStartMissingLaunchFile(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctl.Create(context.Background(), CreateRequest{Name: "alpha", AcceptEULA: true})
	require.NoError(t, err)

	err = h.ctl.Start(context.Background(), "alpha")
	require.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Contains(t, err.Error(), "server.jar")
	assert.Equal(t, 0, h.session.spawnCount())
	assert.False(t, h.finder.IsRunning(context.Background(), "alpha"))
}

func TestStartMissingArgfile(t *testing.T) {
	h := newHarness(t)
	dir := h.ready(t, "alpha")
	cfg := serverconfig.Default()
	cfg.Java.JarFile = "@user_jvm_args.txt @libraries/unix_args.txt"
	_, err := h.ctl.UpdateConfig(context.Background(), "alpha", cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_jvm_args.txt"), nil, 0o644))

	err = h.ctl.Start(context.Background(), "alpha")
	require.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Contains(t, err.Error(), "unix_args.txt")
	assert.Equal(t, 0, h.session.spawnCount())
}

func TestStartPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown server", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.ctl.Start(ctx, "ghost"), errs.ErrNotFound)
	})

	t.Run("eula not accepted", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ctl.Create(ctx, CreateRequest{Name: "alpha"})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(h.ctl.Dir("alpha"), "server.jar"), nil, 0o644))
		assert.ErrorIs(t, h.ctl.Start(ctx, "alpha"), errs.ErrInvalidState)
		assert.Equal(t, 0, h.session.spawnCount())
	})

	t.Run("already running", func(t *testing.T) {
		h := newHarness(t)
		h.ready(t, "alpha")
		h.finder.set("alpha", discovery.Identity{JavaPID: 5})
		assert.ErrorIs(t, h.ctl.Start(ctx, "alpha"), errs.ErrInvalidState)
		assert.Equal(t, 0, h.session.spawnCount())
	})

	t.Run("missing wrapper", func(t *testing.T) {
		h := newHarness(t)
		h.ready(t, "alpha")
		h.runner.missing["screen"] = true
		assert.ErrorIs(t, h.ctl.Start(ctx, "alpha"), errs.ErrExternalTool)
		assert.Equal(t, 0, h.session.spawnCount())
	})

	t.Run("java probe fails", func(t *testing.T) {
		h := newHarness(t)
		h.ready(t, "alpha")
		h.runner.runErr = errs.ExternalTool("java -version: exit status 1")
		assert.ErrorIs(t, h.ctl.Start(ctx, "alpha"), errs.ErrExternalTool)
		assert.Equal(t, 0, h.session.spawnCount())
	})
}

func TestStartTimeoutIncludesTails(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "alpha")
	h.session.onSpawn = func(call spawnCall) {
		_ = os.WriteFile(call.transcript, []byte("Error: Unable to access jarfile\n"), 0o644)
	}
	err := h.ctl.Start(context.Background(), "alpha")
	require.ErrorIs(t, err, errs.ErrTimeout)
	assert.Contains(t, err.Error(), "Unable to access jarfile")
	assert.Contains(t, err.Error(), LatestLogFile)
}

func TestStopTimesOut(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "alpha")
	h.finder.set("alpha", discovery.Identity{WrapperPID: 3, JavaPID: 4})

	err := h.ctl.Stop(context.Background(), "alpha", 50*time.Millisecond)
	require.ErrorIs(t, err, errs.ErrTimeout)
	assert.Equal(t, []string{"stop"}, h.session.sent)
}

func TestStop(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "alpha")
	ctx := context.Background()

	assert.ErrorIs(t, h.ctl.Stop(ctx, "alpha", 0), errs.ErrInvalidState)

	h.finder.set("alpha", discovery.Identity{JavaPID: 4})
	h.session.onSend = func(server, line string) {
		if line == "stop" {
			go func() {
				time.Sleep(20 * time.Millisecond)
				h.finder.set(server, discovery.Identity{})
			}()
		}
	}
	require.NoError(t, h.ctl.Stop(ctx, "alpha", time.Second))
	assert.False(t, h.finder.IsRunning(ctx, "alpha"))
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "alpha")
	ctx := context.Background()
	h.finder.set("alpha", discovery.Identity{JavaPID: 4})
	h.session.onSend = func(server, _ string) { h.finder.set(server, discovery.Identity{}) }
	h.session.onSpawn = func(call spawnCall) { h.finder.set(call.server, discovery.Identity{JavaPID: 9}) }

	require.NoError(t, h.ctl.Restart(ctx, "alpha"))
	assert.Equal(t, []string{"stop"}, h.session.sent)
	assert.Equal(t, 1, h.session.spawnCount())
	assert.Equal(t, 9, h.finder.Get(ctx, "alpha").JavaPID)
}

func TestRestartStoppedServerStarts(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "alpha")
	h.session.onSpawn = func(call spawnCall) { h.finder.set(call.server, discovery.Identity{JavaPID: 9}) }

	require.NoError(t, h.ctl.Restart(context.Background(), "alpha"))
	assert.Empty(t, h.session.sent)
	assert.Equal(t, 1, h.session.spawnCount())
}

func TestKill(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "alpha")
	ctx := context.Background()

	assert.ErrorIs(t, h.ctl.Kill(ctx, "alpha"), errs.ErrInvalidState)

	h.finder.set("alpha", discovery.Identity{WrapperPID: 3, JavaPID: 4})
	require.NoError(t, h.ctl.Kill(ctx, "alpha"))
	assert.Equal(t, []int{4, 3}, h.killer.killed)
}

func TestSendCommand(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "alpha")
	ctx := context.Background()

	assert.ErrorIs(t, h.ctl.SendCommand(ctx, "alpha", "say hi"), errs.ErrInvalidState)
	h.finder.set("alpha", discovery.Identity{WrapperPID: 3})
	assert.ErrorIs(t, h.ctl.SendCommand(ctx, "alpha", ""), errs.ErrValidation)
	assert.ErrorIs(t, h.ctl.SendCommand(ctx, "alpha", "say a\nstop"), errs.ErrValidation)
	require.NoError(t, h.ctl.SendCommand(ctx, "alpha", "say hi"))
	assert.Equal(t, []string{"say hi"}, h.session.sent)
}

func TestUpdateConfigMarksRestartRequired(t *testing.T) {
	h := newHarness(t)
	dir := h.ready(t, "alpha")
	ctx := context.Background()

	cfg, err := h.ctl.Config(ctx, "alpha")
	require.NoError(t, err)
	cfg.Java.Tweaks = "-XX:+UseG1GC"
	restart, err := h.ctl.UpdateConfig(ctx, "alpha", cfg)
	require.NoError(t, err)
	assert.False(t, restart)
	assert.NoFileExists(t, filepath.Join(dir, RestartRequiredFile))

	cfg.Java.JarFile = "paper.jar"
	restart, err = h.ctl.UpdateConfig(ctx, "alpha", cfg)
	require.NoError(t, err)
	assert.True(t, restart)

	st, err := h.ctl.Status(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, st.RestartRequired)

	got, err := h.ctl.Config(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "paper.jar", got.Java.JarFile)
	assert.Equal(t, "-XX:+UseG1GC", got.Java.Tweaks)
}

func TestUpdatePropertiesRejectsPortCollision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ready(t, "alpha")
	h.ready(t, "beta")

	err := h.ctl.UpdateProperties(ctx, "beta", map[string]string{"server-port": "25565"})
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	err = h.ctl.UpdateProperties(ctx, "beta", map[string]string{"server-port": "nope"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	require.NoError(t, h.ctl.UpdateProperties(ctx, "beta", map[string]string{"server-port": "25600", "motd": "hello"}))
	props, err := h.ctl.Properties(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "25600", props["server-port"])
	assert.Equal(t, "hello", props["motd"])

	// a server may keep its own port
	require.NoError(t, h.ctl.UpdateProperties(ctx, "alpha", map[string]string{"server-port": "25565"}))
}

func TestListAndStartOnBoot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ready(t, "alpha")
	h.ready(t, "beta")
	cfg := serverconfig.Default()
	cfg.OnReboot.Start = true
	_, err := h.ctl.UpdateConfig(ctx, "beta", cfg)
	require.NoError(t, err)
	h.session.onSpawn = func(call spawnCall) { h.finder.set(call.server, discovery.Identity{JavaPID: 7}) }

	assert.Equal(t, 1, h.ctl.StartOnBoot(ctx))

	list, err := h.ctl.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, StateStopped, list[0].State)
	assert.Equal(t, "beta", list[1].Name)
	assert.Equal(t, StateRunning, list[1].State)
	assert.True(t, list[1].AutoStart)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ready(t, "alpha")
	h.finder.set("alpha", discovery.Identity{JavaPID: 7})
	assert.ErrorIs(t, h.ctl.Delete(ctx, "alpha"), errs.ErrInvalidState)

	h.finder.set("alpha", discovery.Identity{})
	require.NoError(t, h.ctl.Delete(ctx, "alpha"))
	assert.NoDirExists(t, h.ctl.Dir("alpha"))
	_, err := h.ctl.Status(ctx, "alpha")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
