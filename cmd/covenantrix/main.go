// Package main runs the Covenantrix shell: it guarantees the local RAG
// engine is running and reachable before the UI becomes usable, and serves
// the UI-facing bridge on a loopback port.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/RandomWilder/Covenantrix-2.0/internal/bridge"
	"github.com/RandomWilder/Covenantrix-2.0/internal/buildinfo"
	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
	"github.com/RandomWilder/Covenantrix-2.0/internal/logging"
	"github.com/RandomWilder/Covenantrix-2.0/internal/servicectl"
	"github.com/RandomWilder/Covenantrix-2.0/internal/shell"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("Covenantrix Shell Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", defaultConfigPath(), "path to shell config.yaml")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		return
	}

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.WithError(err).WithField("path", configPath).Warn("config not loaded, using defaults")
		cfg = config.Default()
	}
	applyEnvOverrides(cfg)
	logging.SetLevelFromString(cfg.LoggingLevel)

	logDir := resolveLogDir(cfg, configPath)
	if err = logging.EnableFileOutput(logDir); err != nil {
		log.WithError(err).Warn("file logging disabled")
	}
	diag := logging.NewRingBuffer(logging.DefaultBufferSize)
	log.AddHook(diag)

	locator := servicectl.NewLocator(cfg.Engine)
	supervisor := servicectl.NewSupervisor(logDir, diag)
	probe := servicectl.NewProbe()
	orch := servicectl.New(cfg, locator, supervisor, probe)
	client := bridge.New(orch.Endpoint(), cfg, func() bool {
		return orch.State() == servicectl.StateReady
	})
	server := shell.NewServer(cfg, orch, client, diag, logDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Endpoint and probe bounds stay fixed for the process lifetime; reload
	// touches log level and bridge timeouts only.
	watchStop := make(chan struct{})
	defer close(watchStop)
	if err = config.Watch(configPath, func(next *config.Config) {
		logging.SetLevelFromString(next.LoggingLevel)
		client.ApplyConfig(next)
	}, watchStop); err != nil {
		log.WithError(err).Warn("config watcher disabled")
	}

	go func() {
		if errConnect := orch.Connect(ctx); errConnect != nil {
			log.WithError(errConnect).Error("initial engine connection failed")
		}
	}()

	err = server.Run(ctx)
	orch.Shutdown()
	if err != nil {
		log.WithError(err).Fatal("shell server error")
	}
}

// applyEnvOverrides applies the packaging signals the host runtime supplies:
// COVENANTRIX_INSTALLED flips installed mode and COVENANTRIX_RESOURCES points
// at the bundled-resources directory of the installation.
func applyEnvOverrides(cfg *config.Config) {
	if v := strings.TrimSpace(os.Getenv("COVENANTRIX_INSTALLED")); v == "1" || strings.EqualFold(v, "true") {
		cfg.Engine.Installed = true
	}
	if v := strings.TrimSpace(os.Getenv("COVENANTRIX_RESOURCES")); v != "" {
		cfg.Engine.ResourcesDir = v
	}
	if cfg.Engine.RepoRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Engine.RepoRoot = wd
		}
	}
}

func defaultConfigPath() string {
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, "Covenantrix", "config.yaml")
	}
	return "config.yaml"
}

func resolveLogDir(cfg *config.Config, configPath string) string {
	if strings.TrimSpace(cfg.LogDir) != "" {
		return cfg.LogDir
	}
	return filepath.Join(filepath.Dir(configPath), "logs")
}
