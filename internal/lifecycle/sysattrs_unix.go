//go:build !windows

package lifecycle

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr starts the wrapper in a new session so it is detached
// from the daemon's controlling terminal and survives daemon exit.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
