package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_Defaults(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without Dir")
	}
	dir := t.TempDir()
	w := FileConfig{Dir: dir}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected *lumberjack.Logger, got %T", w)
	}
	if l.Filename != filepath.Join(dir, DefaultFileName) {
		t.Fatalf("filename: %s", l.Filename)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNew_ConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	log, closer, err := New(Config{Level: "debug", File: FileConfig{Dir: dir}}, &console)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.With("server", "alpha").Debug("started", "pid", 42)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.Contains(console.String(), "server=alpha") || !strings.Contains(console.String(), "pid=42") {
		t.Fatalf("console output missing attrs: %q", console.String())
	}
	b, err := os.ReadFile(filepath.Join(dir, DefaultFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"server":"alpha"`) {
		t.Fatalf("file output missing attrs: %q", b)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var console bytes.Buffer
	log, _, err := New(Config{Level: "warn"}, &console)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(console.String(), "hidden") || !strings.Contains(console.String(), "shown") {
		t.Fatalf("unexpected output: %q", console.String())
	}
}

func TestColorTextHandler_KeepsColorWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	slog.New(h).With("job", "j1").Error("failed")
	out := buf.String()
	if !strings.Contains(out, "\033[31mERROR\033[0m") {
		t.Fatalf("missing color: %q", out)
	}
	if !strings.Contains(out, "job=j1") {
		t.Fatalf("missing attr: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted: %q", out)
	}
	if strings.Contains(out, `\x1b`) || strings.Contains(out, "level=") {
		t.Fatalf("color codes must not be escaped into attributes: %q", out)
	}
	if !strings.HasPrefix(out, "\033[31mERROR\033[0m msg=failed") {
		t.Fatalf("unexpected line layout: %q", out)
	}
}

func TestMultiHandler_RespectsEachLevel(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	log := slog.New(m)
	log.Debug("dbg")
	log.Warn("wrn")
	if !strings.Contains(a.String(), "dbg") || !strings.Contains(a.String(), "wrn") {
		t.Fatalf("first handler: %q", a.String())
	}
	if strings.Contains(b.String(), "dbg") || !strings.Contains(b.String(), "wrn") {
		t.Fatalf("second handler: %q", b.String())
	}
}
