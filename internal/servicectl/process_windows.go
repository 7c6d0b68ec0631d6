//go:build windows

package servicectl

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// IsProcessAlive reports whether a previously recorded engine PID still
// refers to a live process. Used by covenantrixctl to repair stale state.
func IsProcessAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false, nil
	}
	defer windows.CloseHandle(h)
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false, fmt.Errorf("GetExitCodeProcess: %w", err)
	}
	// STILL_ACTIVE == 259
	return code == 259, nil
}
