//go:build windows

package agent

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}

// signalProcessGroup kills the process; Windows has no process groups to signal
func signalProcessGroup(cmd *exec.Cmd, force bool) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
