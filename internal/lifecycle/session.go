package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/craftd/internal/discovery"
	"github.com/loykin/craftd/internal/errs"
)

// Session runs servers inside detached wrapper sessions.
type Session interface {
	// Spawn starts argv in a new session named after server, in dir, with
	// its terminal output recorded to transcript.
	Spawn(ctx context.Context, server, dir, transcript string, argv, env []string) error
	// Send types line into the session followed by a carriage return.
	Send(ctx context.Context, server, line string) error
}

// ScreenSession drives GNU screen.
type ScreenSession struct {
	// Binary defaults to "screen".
	Binary string
}

func (s ScreenSession) bin() string {
	if s.Binary == "" {
		return "screen"
	}
	return s.Binary
}

// SpawnArgs returns the screen arguments used to launch argv.
func (s ScreenSession) SpawnArgs(server, transcript string, argv []string) []string {
	args := []string{"-dmS", discovery.SessionName(server), "-L", "-Logfile", transcript}
	return append(args, argv...)
}

func (s ScreenSession) Spawn(ctx context.Context, server, dir, transcript string, argv, env []string) error {
	// #nosec G204 -- argv comes from the server's own launch settings
	cmd := exec.CommandContext(ctx, s.bin(), s.SpawnArgs(server, transcript, argv)...)
	cmd.Dir = dir
	cmd.Env = env
	configureSysProcAttr(cmd)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// with -dm screen forks the session and returns at once
	if err := cmd.Run(); err != nil {
		return errs.ExternalTool("spawn session for %q: %v: %s", server, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s ScreenSession) Send(ctx context.Context, server, line string) error {
	// #nosec G204
	cmd := exec.CommandContext(ctx, s.bin(), "-S", discovery.SessionName(server), "-p", "0", "-X", "stuff", line+"\r")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errs.ExternalTool("send to session %q: %v: %s", server, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// String is used in logs.
func (s ScreenSession) String() string { return fmt.Sprintf("screen(%s)", s.bin()) }
