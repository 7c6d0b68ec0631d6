package servicectl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
)

func TestBundledArtifactPath(t *testing.T) {
	tests := []struct {
		name      string
		installed bool
		goos      string
		want      string
	}{
		{
			name:      "installed linux",
			installed: true,
			goos:      "linux",
			want:      filepath.Join("/opt/app/resources", "engine", "covenantrix-engine"),
		},
		{
			name:      "installed windows gets exe suffix",
			installed: true,
			goos:      "windows",
			want:      filepath.Join("/opt/app/resources", "engine", "covenantrix-engine.exe"),
		},
		{
			name:      "installed darwin",
			installed: true,
			goos:      "darwin",
			want:      filepath.Join("/opt/app/resources", "engine", "covenantrix-engine"),
		},
		{
			name: "development build output",
			goos: "linux",
			want: filepath.Join("/src/covenantrix", "core-rag-service", "dist", "covenantrix-engine"),
		},
		{
			name: "development windows",
			goos: "windows",
			want: filepath.Join("/src/covenantrix", "core-rag-service", "dist", "covenantrix-engine.exe"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bundledArtifactPath(tt.installed, tt.goos, "/opt/app/resources", "/src/covenantrix")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocateInstalledAssumesExistence(t *testing.T) {
	l := NewLocator(config.EngineConfig{Installed: true, ResourcesDir: "/opt/app/resources"})
	l.goos = "linux"
	l.stat = func(string) (os.FileInfo, error) {
		t.Fatal("installed mode must not stat the artifact")
		return nil, nil
	}

	a, ok, reason := l.Locate()
	require.True(t, ok, reason)
	assert.Equal(t, ModeBundled, a.Mode)
	assert.Equal(t, filepath.Join("/opt/app/resources", "engine", "covenantrix-engine"), a.Path)
	assert.Equal(t, filepath.Dir(a.Path), a.Dir)
}

func TestLocateDevelopmentChecksDisk(t *testing.T) {
	repo := t.TempDir()
	distDir := filepath.Join(repo, "core-rag-service", "dist")
	require.NoError(t, os.MkdirAll(distDir, 0o755))

	l := NewLocator(config.EngineConfig{RepoRoot: repo})
	l.goos = "linux"

	// Absent build output is a first-class absence result, not an error.
	a, ok, reason := l.Locate()
	assert.False(t, ok)
	assert.Empty(t, a.Path)
	assert.Contains(t, reason, "no development engine build")

	binPath := filepath.Join(distDir, "covenantrix-engine")
	require.NoError(t, os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0o755))

	a, ok, _ = l.Locate()
	require.True(t, ok)
	assert.Equal(t, binPath, a.Path)
	assert.Equal(t, ModeBundled, a.Mode)
}

func TestLocateFallbackRequiresBothPrerequisites(t *testing.T) {
	repo := t.TempDir()
	srcDir := filepath.Join(repo, "core-rag-service")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	l := NewLocator(config.EngineConfig{RepoRoot: repo})
	l.goos = "linux"

	// No interpreter on PATH.
	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, ok, reason := l.LocateFallback()
	assert.False(t, ok)
	assert.Contains(t, reason, "interpreter")

	// Interpreter present but entry point missing.
	l.lookPath = func(string) (string, error) { return "/usr/bin/python3", nil }
	_, ok, reason = l.LocateFallback()
	assert.False(t, ok)
	assert.Contains(t, reason, "entry point")

	// Both present: descriptor carries the entry point as sole argument and
	// the source dir as working directory.
	entry := filepath.Join(srcDir, "service_main.py")
	require.NoError(t, os.WriteFile(entry, []byte("print('engine')\n"), 0o644))
	a, ok, _ := l.LocateFallback()
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/python3", a.Path)
	assert.Equal(t, []string{entry}, a.Args)
	assert.Equal(t, srcDir, a.Dir)
	assert.Equal(t, ModeInterpreter, a.Mode)
}

func TestInterpreterNamePerPlatform(t *testing.T) {
	assert.Equal(t, "python", interpreterName("windows"))
	assert.Equal(t, "python3", interpreterName("linux"))
	assert.Equal(t, "python3", interpreterName("darwin"))
}
