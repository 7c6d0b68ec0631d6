package servicectl

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
)

// Mode is the execution mode of a located engine artifact.
type Mode string

const (
	// ModeBundled runs a precompiled, installation-resident engine binary.
	ModeBundled Mode = "bundled"
	// ModeInterpreter runs the engine source entry point under a Python
	// interpreter. Development fallback only.
	ModeInterpreter Mode = "fallback-interpreter"
)

// Artifact describes a runnable engine: the absolute path to execute, its
// arguments, the working directory the engine expects (its config lookup is
// relative to it) and the execution mode. An Artifact is never partially
// populated; absence is signalled by the locator's ok result instead.
type Artifact struct {
	Path string   `json:"path"`
	Args []string `json:"args,omitempty"`
	Dir  string   `json:"dir"`
	Mode Mode     `json:"mode"`
}

// Locator resolves where the runnable engine artifact lives based on the
// packaging mode. Filesystem and PATH lookups are injectable for tests.
type Locator struct {
	installed    bool
	resourcesDir string
	repoRoot     string
	goos         string

	stat     func(string) (os.FileInfo, error)
	lookPath func(string) (string, error)
}

// NewLocator builds a locator from the engine configuration.
func NewLocator(cfg config.EngineConfig) *Locator {
	return &Locator{
		installed:    cfg.Installed,
		resourcesDir: cfg.ResourcesDir,
		repoRoot:     cfg.RepoRoot,
		goos:         runtime.GOOS,
		stat:         os.Stat,
		lookPath:     exec.LookPath,
	}
}

// Locate resolves the bundled engine artifact. It returns the descriptor and
// true on success, or a zero descriptor, false and a human-readable reason
// when no bundled artifact is available. Absence is a normal result that
// triggers the interpreter fallback, never an error.
//
// In installed mode the artifact is part of the installation, so existence is
// assumed rather than verified. In development mode the build output is
// checked on disk.
func (l *Locator) Locate() (Artifact, bool, string) {
	path := bundledArtifactPath(l.installed, l.goos, l.resourcesDir, l.repoRoot)
	if l.installed {
		return Artifact{Path: path, Dir: filepath.Dir(path), Mode: ModeBundled}, true, ""
	}
	if _, err := l.stat(path); err != nil {
		return Artifact{}, false, fmt.Sprintf("no development engine build at %s", path)
	}
	return Artifact{Path: path, Dir: filepath.Dir(path), Mode: ModeBundled}, true, ""
}

// LocateFallback resolves the interpreter fallback: a Python interpreter on
// PATH plus the engine source entry point. Both prerequisites must exist or
// the descriptor is absent with a reason; the caller then fails the cycle
// without attempting a spawn.
func (l *Locator) LocateFallback() (Artifact, bool, string) {
	interp, err := l.lookPath(interpreterName(l.goos))
	if err != nil {
		return Artifact{}, false, fmt.Sprintf("interpreter %q not found on PATH", interpreterName(l.goos))
	}
	srcDir := filepath.Join(l.repoRoot, "core-rag-service")
	entry := filepath.Join(srcDir, "service_main.py")
	if _, err = l.stat(entry); err != nil {
		return Artifact{}, false, fmt.Sprintf("engine entry point missing at %s", entry)
	}
	return Artifact{Path: interp, Args: []string{entry}, Dir: srcDir, Mode: ModeInterpreter}, true, ""
}

// bundledArtifactPath is the pure mapping (packaging mode, platform family)
// to bundled artifact path. Kept free of any filesystem access so the
// platform branching is testable on every target.
func bundledArtifactPath(installed bool, goos, resourcesDir, repoRoot string) string {
	name := engineExecutableName(goos)
	if installed {
		return filepath.Join(resourcesDir, "engine", name)
	}
	return filepath.Join(repoRoot, "core-rag-service", "dist", name)
}

func engineExecutableName(goos string) string {
	if goos == "windows" {
		return "covenantrix-engine.exe"
	}
	return "covenantrix-engine"
}

func interpreterName(goos string) string {
	if goos == "windows" {
		return "python"
	}
	return "python3"
}
