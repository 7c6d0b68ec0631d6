package servicectl

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// RuntimeState records the engine process this shell launched, persisted per
// user so covenantrixctl can inspect it across invocations and stale PIDs
// can be repaired after crashes or reboots.
type RuntimeState struct {
	PID          int       `json:"pid"`
	ArtifactPath string    `json:"artifact_path"`
	Mode         string    `json:"mode"`
	StartedAt    time.Time `json:"started_at"`
}

// DefaultStatePath returns the per-user location of the runtime state file.
func DefaultStatePath() string {
	base := os.Getenv("LOCALAPPDATA")
	if base == "" {
		if d, err := os.UserConfigDir(); err == nil && d != "" {
			base = d
		}
	}
	if base == "" {
		base = "."
	}
	return filepath.Join(base, "Covenantrix", "shell-state.json")
}

// LoadRuntimeState reads the state file. A missing file yields (nil, nil).
func LoadRuntimeState(path string) (*RuntimeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var s RuntimeState
	if err = json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveRuntimeState writes the state file atomically.
func SaveRuntimeState(path string, s *RuntimeState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DeleteRuntimeState removes the state file; a missing file is not an error.
func DeleteRuntimeState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RepairStaleState clears a recorded PID that no longer refers to a live
// process, so status surfaces do not keep reporting a managed engine after a
// crash or reboot.
func RepairStaleState(path string) (*RuntimeState, error) {
	s, err := LoadRuntimeState(path)
	if err != nil || s == nil {
		return s, err
	}
	alive, _ := IsProcessAlive(s.PID)
	if !alive {
		if err = DeleteRuntimeState(path); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s, nil
}
