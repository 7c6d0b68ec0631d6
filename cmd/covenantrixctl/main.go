// Package main is the operator CLI for the Covenantrix shell. It inspects
// and drives the running shell over its loopback bridge, with an offline
// status fallback that probes the engine endpoint directly.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
	"github.com/RandomWilder/Covenantrix-2.0/internal/servicectl"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := strings.ToLower(strings.TrimSpace(os.Args[1]))

	fs := flag.NewFlagSet("covenantrixctl "+cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to shell config.yaml")
	jsonOut := fs.Bool("json", true, "output JSON when applicable")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)

	switch cmd {
	case "status":
		printStatus(cfg, *jsonOut)
	case "connect", "retry", "reprobe":
		if err := postShell(cfg, "/shell/"+cmd); err != nil {
			fatal(err)
		}
		fmt.Println("accepted")
	case "open-logs":
		logDir := cfg.LogDir
		if logDir == "" {
			logDir = filepath.Join(filepath.Dir(resolvedConfigPath(*configPath)), "logs")
		}
		_ = os.MkdirAll(logDir, 0o755)
		if err := servicectl.OpenLogsFolder(logDir); err != nil {
			fatal(err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(resolvedConfigPath(path))
	if err != nil {
		return config.Default()
	}
	return cfg
}

func resolvedConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, "Covenantrix", "config.yaml")
	}
	return "config.yaml"
}

// printStatus asks the running shell first; when no shell is listening it
// falls back to probing the engine endpoint directly and repairing any stale
// persisted runtime state.
func printStatus(cfg *config.Config, jsonOut bool) {
	shellURL := fmt.Sprintf("http://127.0.0.1:%d/shell/status", cfg.ShellPort)
	if body, err := httpGet(shellURL); err == nil {
		emit(body, jsonOut)
		return
	}

	ep := servicectl.NewEndpoint(cfg.Engine.Host, cfg.Engine.Port)
	probe := servicectl.NewProbe()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	running := probe.Check(ctx, ep, 2*time.Second)

	state, _ := servicectl.RepairStaleState(servicectl.DefaultStatePath())
	out := map[string]any{
		"shell_running": false,
		"running":       running,
		"base_url":      ep.BaseURL(),
	}
	if state != nil {
		out["pid"] = state.PID
		out["mode"] = state.Mode
		out["started_at"] = state.StartedAt
	}
	body, _ := json.MarshalIndent(out, "", "  ")
	emit(body, jsonOut)
}

func emit(body []byte, jsonOut bool) {
	if jsonOut {
		fmt.Println(string(body))
		return
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		fmt.Println(string(body))
		return
	}
	for k, v := range m {
		fmt.Printf("%s: %v\n", k, v)
	}
}

func postShell(cfg *config.Config, path string) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.ShellPort, path)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("shell not reachable on port %d: %w", cfg.ShellPort, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("shell rejected %s: %s %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func httpGet(url string) ([]byte, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Println(`covenantrixctl <command> [flags]

Commands:
  status      show shell and engine status
  connect     trigger an engine connection cycle
  retry       terminate the owned engine and relaunch
  reprobe     re-check the engine endpoint without launching
  open-logs   open the log folder

Flags:
  -config string   path to shell config.yaml
  -json            output JSON (default true)`)
}
