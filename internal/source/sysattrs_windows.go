//go:build windows

package source

import (
	"os/exec"
	"syscall"
)

// Windows creation flags
const CREATE_NEW_PROCESS_GROUP = 0x00000200

// configureSysProcAttr creates a new process group for the listener so
// it can be signaled independently of the parent console.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: CREATE_NEW_PROCESS_GROUP}
}

// signalStop has no graceful equivalent on Windows; the listener is
// terminated directly.
func signalStop(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func signalKill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
