//go:build !windows

package servicectl

import (
	"os"
	"syscall"
)

// IsProcessAlive reports whether a previously recorded engine PID still
// refers to a live process. Used by covenantrixctl to repair stale state.
func IsProcessAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	// Signal 0 checks existence on Unix-y platforms.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}
	return true, nil
}
