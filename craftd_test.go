package craftd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/craftd/internal/discovery"
	"github.com/loykin/craftd/internal/store"
)

type noProcs struct{}

func (noProcs) ListAll(context.Context) map[string]discovery.Identity { return nil }
func (noProcs) Get(context.Context, string) discovery.Identity        { return discovery.Identity{} }
func (noProcs) IsRunning(context.Context, string) bool                { return false }

func testConfig(t *testing.T) Config {
	t.Helper()
	c := DefaultConfig()
	c.DataDir = t.TempDir()
	c.Store.DSN = "sqlite://" + filepath.Join(c.DataDir, "craftd.db")
	c.History.Sinks = []string{"sqlite://" + filepath.Join(c.DataDir, "history.db")}
	c.Jobs.PollInterval = 10 * time.Millisecond
	return c
}

func newDaemon(t *testing.T, c Config) *Daemon {
	t.Helper()
	reg := prometheus.NewRegistry()
	d, err := New(c, Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Finder:     noProcs{},
		Registerer: reg,
		Gatherer:   reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonServesAPI(t *testing.T) {
	d := newDaemon(t, testConfig(t))
	_, err := d.Servers.Create(context.Background(), CreateRequest{Name: "alpha"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/servers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "alpha", list[0].Name)

	rec = httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = d.IssueToken("me", "admin")
	assert.Error(t, err)
}

func TestDaemonInstallFailsOnBadURL(t *testing.T) {
	d := newDaemon(t, testConfig(t))
	ctx := context.Background()
	_, err := d.Servers.Create(ctx, CreateRequest{Name: "alpha"})
	require.NoError(t, err)

	id, err := d.Modpacks.InstallModpack(ctx, "alpha", "http://127.0.0.1:1/pack.zip")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, err := d.Job(ctx, id)
		return err == nil && store.IsTerminal(rec.Status)
	}, 10*time.Second, 10*time.Millisecond)
	rec, err := d.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
}

func TestDaemonTokens(t *testing.T) {
	c := testConfig(t)
	c.Auth.JWTSecret = "s3cret"
	c.Metrics.Enabled = false
	d := newDaemon(t, c)

	tok, err := d.IssueToken("ops", "operator")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/servers", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	rec = httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.DataDir = ""
	_, err := New(c, Options{})
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := testConfig(t)
	c.Server.Listen = "127.0.0.1:0"
	c.Sampler.Interval = 10 * time.Millisecond
	d := newDaemon(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}
