//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup makes the child the leader of a new process group so
// a timeout kill reaches everything it spawned, not just the direct
// child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second
}
