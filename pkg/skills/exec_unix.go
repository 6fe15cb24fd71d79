//go:build !windows

package skills

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the skill in its own process group so cancelling
// the run kills anything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
