//go:build !unix

package toolchain

import (
	"os/exec"
)

func configureProcessGroup(c *exec.Cmd) {}

func killProcessGroup(c *exec.Cmd) {}
