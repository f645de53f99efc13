package lifecycle

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/craftd/internal/errs"
)

// Runner resolves and probes external executables.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs real executables.
type ExecRunner struct {
	// Timeout bounds a probe; defaults to 10s.
	Timeout time.Duration
}

func (ExecRunner) LookPath(name string) (string, error) { return exec.LookPath(name) }

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// #nosec G204
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return errs.ExternalTool("%s %s: %v: %s", name, strings.Join(args, " "), err, msg)
	}
	return nil
}

// Killer terminates a process without grace.
type Killer interface {
	Kill(ctx context.Context, pid int) error
}

// HostKiller kills through gopsutil (SIGKILL on Unix, TerminateProcess on
// Windows).
type HostKiller struct{}

func (HostKiller) Kill(ctx context.Context, pid int) error {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	return p.KillWithContext(ctx)
}

// Chowner hands files the spawned process must write to its account.
type Chowner interface {
	Chown(path string) error
}

// NopChowner leaves ownership alone, for daemons running as the server user.
type NopChowner struct{}

func (NopChowner) Chown(string) error { return nil }

// OwnerChowner recursively sets uid/gid.
type OwnerChowner struct {
	UID, GID int
}

func (o OwnerChowner) Chown(path string) error {
	return filepath.WalkDir(path, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, o.UID, o.GID)
	})
}
