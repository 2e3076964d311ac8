//go:build !unix

package agentmgr

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op outside POSIX: there is no portable process
// group to join, so signals target the single process (spec §4.2 "send
// SIGTERM to the process group if POSIX else the process").
func setProcessGroup(cmd *exec.Cmd) {}

func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(os.Interrupt)
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
