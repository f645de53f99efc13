package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/loykin/craftd/internal/auth"
	"github.com/loykin/craftd/pkg/client"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelpMentionsCraftd(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	if !strings.Contains(out, "craftd") {
		t.Fatalf("unexpected help output: %s", out)
	}
}

func TestServersListTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/servers" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode([]client.ServerStatus{
			{Name: "survival", State: "running", Port: 25565, Identity: client.Identity{WrapperPID: 7, JavaPID: 8}},
			{Name: "creative", State: "stopped", Port: 25566},
		})
	}))
	defer srv.Close()

	out, err := run(t, "servers", "list", "--api-url", srv.URL+"/api")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"NAME", "survival", "running", "25565", "8", "creative"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestServerActionReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"server \"survival\" is already running: invalid state"}`))
	}))
	defer srv.Close()

	_, err := run(t, "servers", "start", "survival", "--api-url", srv.URL+"/api")
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestJobsWatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(client.Progress{ID: "j1", Status: "running", Percentage: 45,
			Install: &client.InstallState{CurrentStep: "mods"}, Message: "installed mod 2 of 4"})
		_ = conn.WriteJSON(client.Progress{ID: "j1", Status: "completed", Percentage: 100})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	out, err := run(t, "jobs", "watch", "j1", "--api-url", srv.URL+"/api")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, "[ 45%] running mods: installed mod 2 of 4") || !strings.Contains(out, "[100%] completed") {
		t.Fatalf("unexpected watch output:\n%s", out)
	}
}

func TestTokenCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "data_dir = \"" + filepath.ToSlash(dir) + "\"\n[auth]\njwt_secret = \"s3cret\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "token", "--config", path, "--role", "operator", "--subject", "deploy")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	gate, err := auth.NewJWTGate("s3cret", "craftd", 0)
	if err != nil {
		t.Fatal(err)
	}
	p, err := gate.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if p.Subject != "deploy" || p.Role != auth.RoleOperator {
		t.Fatalf("unexpected principal %+v", p)
	}

	if _, err := run(t, "token", "--config", path, "--role", "root"); err == nil {
		t.Fatal("unknown role should fail")
	}
}

func TestChildArgsDropsDaemonFlags(t *testing.T) {
	got := childArgs([]string{"serve", "--daemonize", "--pidfile", "/run/c.pid", "--logfile=/tmp/x", "/etc/c.toml"})
	want := []string{"serve", "/etc/c.toml"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("childArgs = %v, want %v", got, want)
	}
}
