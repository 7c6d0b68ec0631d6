//go:build windows

package servicectl

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr hides the console window the engine would otherwise open.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
