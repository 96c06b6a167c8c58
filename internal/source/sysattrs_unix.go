//go:build !windows

package source

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the listener in a new process group so
// stop signals reach its whole tree.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalStop asks the listener's process group to exit.
func signalStop(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// signalKill forcefully ends the listener's process group.
func signalKill(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
