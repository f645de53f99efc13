package discovery

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	pid     int
	args    []string
	env     []string
	argsErr error
}

func (f fakeProc) PID() int { return f.pid }
func (f fakeProc) Args(context.Context) ([]string, error) {
	if f.argsErr != nil {
		return nil, f.argsErr
	}
	return f.args, nil
}
func (f fakeProc) Environ(context.Context) ([]string, error) { return f.env, nil }

type fakeSource struct {
	procs []Proc
	err   error
}

func (f fakeSource) Processes(context.Context) ([]Proc, error) { return f.procs, f.err }

func scanner(procs ...fakeProc) *Scanner {
	ps := make([]Proc, 0, len(procs))
	for _, p := range procs {
		ps = append(ps, p)
	}
	return NewScannerWithSource(fakeSource{procs: ps})
}

func TestListAll_WrapperAndJava(t *testing.T) {
	s := scanner(
		fakeProc{pid: 100, args: []string{"SCREEN", "-dmS", "craftd_alpha", "-L", "java", "-Dcraftd.server=alpha", "-jar", "server.jar"}},
		fakeProc{pid: 101, args: []string{"java", "-Xmx2G", "-Dcraftd.server=alpha", "-jar", "server.jar", "nogui"}},
		fakeProc{pid: 7, args: []string{"/sbin/init"}},
	)
	all := s.ListAll(context.Background())
	require.Len(t, all, 1)
	assert.Equal(t, Identity{WrapperPID: 100, JavaPID: 101}, all["alpha"])
}

func TestListAll_NameWithSpace(t *testing.T) {
	s := scanner(
		fakeProc{pid: 55, args: []string{"java", "-Dcraftd.server=my world", "-jar", "server.jar"}},
	)
	id := s.Get(context.Background(), "my world")
	assert.Equal(t, 55, id.JavaPID)
	assert.False(t, s.IsRunning(context.Background(), "my"))
}

func TestListAll_EnvFallbackOnlyWithoutMarker(t *testing.T) {
	s := scanner(
		fakeProc{pid: 10, args: []string{"bash", "run.sh"}, env: []string{"PATH=/bin", "CRAFTD_SERVER=beta"}},
		fakeProc{pid: 20, args: []string{"java", "-Dcraftd.server=beta"}},
		fakeProc{pid: 30, args: []string{"java", "-jar", "x.jar"}, env: []string{"CRAFTD_SERVER=gamma"}},
	)
	all := s.ListAll(context.Background())
	assert.Equal(t, 20, all["beta"].JavaPID)
	assert.Equal(t, 30, all["gamma"].JavaPID)
	assert.Zero(t, all["gamma"].WrapperPID)
}

func TestListAll_LowestPIDWins(t *testing.T) {
	s := scanner(
		fakeProc{pid: 300, args: []string{"java", "-Dcraftd.server=a"}},
		fakeProc{pid: 200, args: []string{"java", "-Dcraftd.server=a"}},
	)
	assert.Equal(t, 200, s.Get(context.Background(), "a").JavaPID)
}

func TestListAll_SkipsVanishedAndRemoteControl(t *testing.T) {
	s := scanner(
		fakeProc{pid: 1, argsErr: errors.New("no such process")},
		fakeProc{pid: 2, args: []string{"screen", "-S", "craftd_a", "-p", "0", "-X", "stuff", "stop\r"}},
		fakeProc{pid: 3, args: []string{"SCREEN", "-dmS", "craftd_a"}},
	)
	assert.Equal(t, Identity{WrapperPID: 3}, s.Get(context.Background(), "a"))
}

func TestListAll_SocketForm(t *testing.T) {
	name, ok := matchSession([]string{"screen", "-r", "4242.craftd_survival"})
	require.True(t, ok)
	assert.Equal(t, "survival", name)
	_, ok = matchSession([]string{"java", "-jar", "craftd_"})
	assert.False(t, ok)
}

func TestListAll_IgnoresNonScreenMentions(t *testing.T) {
	s := scanner(
		fakeProc{pid: 10, args: []string{"tail", "-f", "craftd_alpha"}},
		fakeProc{pid: 11, args: []string{"/usr/local/bin/craftd", "serve", "--config", "craftd_prod.toml"}},
		fakeProc{pid: 12, args: []string{"less", "1234.craftd_alpha"}},
		fakeProc{pid: 13, args: []string{"screen", "-L", "craftd_alpha"}},
	)
	assert.Empty(t, s.ListAll(context.Background()))
	assert.False(t, s.IsRunning(context.Background(), "alpha"))
}

func TestMatchSession_ScreenForms(t *testing.T) {
	cases := []struct {
		args []string
		name string
	}{
		{[]string{"/usr/bin/screen", "-S", "craftd_my world"}, "my world"},
		{[]string{"SCREEN", "-dmS", "craftd_alpha", "-L", "-Logfile", "x.log", "java"}, "alpha"},
		{[]string{"screen", "-x", "777.craftd_beta"}, "beta"},
	}
	for _, tc := range cases {
		name, ok := matchSession(tc.args)
		require.True(t, ok, tc.args)
		assert.Equal(t, tc.name, name)
	}
}

func TestListAll_SourceFailureIsEmpty(t *testing.T) {
	s := NewScannerWithSource(fakeSource{err: errors.New("permission denied")})
	assert.Empty(t, s.ListAll(context.Background()))
	assert.False(t, s.IsRunning(context.Background(), "x"))
}

func TestStartTime_Self(t *testing.T) {
	assert.Zero(t, StartTime(0))
	if v := StartTime(os.Getpid()); v <= 0 {
		t.Skip("start time unavailable on this platform")
	}
}
