// Package discovery maps OS processes to the named game servers they belong to.
//
// Every query performs a full scan of the process table. Results are never
// cached: process ids are reused by the OS and a stale mapping would point
// lifecycle operations at an unrelated process.
package discovery

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// SessionPrefix prefixes the wrapper session name of every server.
	SessionPrefix = "craftd_"
	// MarkerProperty is the JVM system property carrying the server name.
	MarkerProperty = "-Dcraftd.server="
	// EnvVar names the server in the environment of spawned processes.
	EnvVar = "CRAFTD_SERVER"
)

// Identity is the set of process ids currently representing one server.
type Identity struct {
	WrapperPID int `json:"wrapper_pid,omitempty"`
	JavaPID    int `json:"java_pid,omitempty"`
}

// Running reports whether any process represents the server.
func (i Identity) Running() bool { return i.WrapperPID > 0 || i.JavaPID > 0 }

// PID returns the game process id when known, else the wrapper id.
func (i Identity) PID() int {
	if i.JavaPID > 0 {
		return i.JavaPID
	}
	return i.WrapperPID
}

// Proc is one entry of the process table. Reads may fail when the process
// exits between enumeration and inspection.
type Proc interface {
	PID() int
	Args(ctx context.Context) ([]string, error)
	Environ(ctx context.Context) ([]string, error)
}

// Source enumerates the process table.
type Source interface {
	Processes(ctx context.Context) ([]Proc, error)
}

// Finder is the contract the rest of the supervisor depends on.
type Finder interface {
	ListAll(ctx context.Context) map[string]Identity
	Get(ctx context.Context, name string) Identity
	IsRunning(ctx context.Context, name string) bool
}

type matchKind int

const (
	kindNone matchKind = iota
	kindWrapper
	kindMarker
	kindEnv
)

// Scanner implements Finder on top of a Source. It holds no state between
// calls and is safe for concurrent use.
type Scanner struct {
	source Source
	logger *slog.Logger
}

// NewScanner returns a Scanner over the host process table.
func NewScanner() *Scanner { return NewScannerWithSource(HostSource{}) }

func NewScannerWithSource(src Source) *Scanner {
	return &Scanner{source: src, logger: slog.Default().With("component", "discovery")}
}

type candidate struct {
	pid  int
	kind matchKind
}

// ListAll scans the process table and returns the identity of every server
// with at least one matching process.
func (s *Scanner) ListAll(ctx context.Context) map[string]Identity {
	out := make(map[string]Identity)
	procs, err := s.source.Processes(ctx)
	if err != nil {
		s.logger.Debug("process table unavailable", "error", err)
		return out
	}
	// sort for deterministic tie-breaking on the lowest pid
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID() < procs[j].PID() })

	wrappers := make(map[string]int)
	java := make(map[string]candidate)
	for _, p := range procs {
		if ctx.Err() != nil {
			break
		}
		name, kind := s.classify(ctx, p)
		switch kind {
		case kindNone:
			continue
		case kindWrapper:
			if _, ok := wrappers[name]; !ok {
				wrappers[name] = p.PID()
			}
		default:
			cur, ok := java[name]
			if !ok || kind < cur.kind {
				java[name] = candidate{pid: p.PID(), kind: kind}
			}
		}
	}
	for name, pid := range wrappers {
		id := out[name]
		id.WrapperPID = pid
		out[name] = id
	}
	for name, c := range java {
		id := out[name]
		id.JavaPID = c.pid
		out[name] = id
	}
	return out
}

// Get returns the identity of one server; the zero Identity when none of its
// processes is alive.
func (s *Scanner) Get(ctx context.Context, name string) Identity {
	return s.ListAll(ctx)[name]
}

func (s *Scanner) IsRunning(ctx context.Context, name string) bool {
	return s.Get(ctx, name).Running()
}

// classify tests the three patterns in priority order. The first match wins.
func (s *Scanner) classify(ctx context.Context, p Proc) (string, matchKind) {
	args, err := p.Args(ctx)
	if err != nil {
		// process vanished mid-scan or is not readable
		return "", kindNone
	}
	if name, ok := matchSession(args); ok {
		return name, kindWrapper
	}
	if name, ok := matchMarker(args); ok {
		return name, kindMarker
	}
	env, err := p.Environ(ctx)
	if err != nil {
		return "", kindNone
	}
	if name, ok := matchEnv(env); ok {
		return name, kindEnv
	}
	return "", kindNone
}

// matchSession finds the wrapper session name of a screen process: the
// argument after a session flag (-S, -dmS, ...) or the socket form
// <pid>.craftd_<name>. Other programs that merely mention a craftd_ word,
// and remote control invocations of screen (those sending commands into or
// listing sessions), are not wrappers.
func matchSession(args []string) (string, bool) {
	if len(args) == 0 || !isScreen(args[0]) {
		return "", false
	}
	for _, a := range args[1:] {
		if a == "-X" || a == "-ls" || a == "-list" || a == "-Q" {
			return "", false
		}
	}
	for i := 1; i < len(args); i++ {
		a := args[i]
		if isSessionFlag(a) && i+1 < len(args) {
			if name, ok := strings.CutPrefix(args[i+1], SessionPrefix); ok && name != "" {
				return name, true
			}
			continue
		}
		if j := strings.Index(a, "."+SessionPrefix); j > 0 && isDigits(a[:j]) {
			if name := a[j+1+len(SessionPrefix):]; name != "" {
				return name, true
			}
		}
	}
	return "", false
}

func isScreen(argv0 string) bool {
	return strings.EqualFold(filepath.Base(argv0), "screen")
}

// isSessionFlag reports flag clusters ending in S, such as -S or -dmS.
func isSessionFlag(a string) bool {
	return len(a) >= 2 && a[0] == '-' && a[1] != '-' && strings.HasSuffix(a, "S")
}

// matchMarker inspects each argument on its own so that names containing
// spaces are never split.
func matchMarker(args []string) (string, bool) {
	for _, a := range args {
		if strings.HasPrefix(a, MarkerProperty) {
			if name := a[len(MarkerProperty):]; name != "" {
				return name, true
			}
		}
	}
	return "", false
}

func matchEnv(env []string) (string, bool) {
	prefix := EnvVar + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			if name := kv[len(prefix):]; name != "" {
				return name, true
			}
		}
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SessionName returns the wrapper session name for a server.
func SessionName(server string) string { return SessionPrefix + server }
