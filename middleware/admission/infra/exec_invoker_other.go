//go:build !unix

package infra

import "os/exec"

func configureProcess(c *exec.Cmd) {
	c.Cancel = func() error { return c.Process.Kill() }
}
