//go:build unix

package infra

import (
	"os/exec"
	"syscall"
)

// configureProcess põe o motor em um grupo próprio para que o cancelamento
// mate também os netos que herdaram os pipes.
func configureProcess(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
