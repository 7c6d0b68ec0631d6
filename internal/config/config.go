// Package config provides configuration management for the Covenantrix shell.
// It handles loading and parsing the YAML configuration file and provides
// structured access to the engine endpoint, artifact locations, probe bounds
// and bridge timeouts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the shell's configuration, loaded from a YAML file.
type Config struct {
	// ShellPort is the loopback port the UI bridge server listens on.
	ShellPort int `yaml:"shell-port" json:"shell-port"`

	// LoggingLevel overrides the shell log level (trace..error). Hot-reloadable.
	LoggingLevel string `yaml:"logging-level,omitempty" json:"logging-level,omitempty"`

	// LogDir is where shell and engine logs are written. Defaults next to the
	// config file when empty.
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// Engine describes the backend service endpoint and artifact locations.
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Probe holds readiness-check bounds. Fixed for the process lifetime.
	Probe ProbeConfig `yaml:"probe" json:"probe"`

	// Bridge holds request-bridge timeout ceilings. Hot-reloadable.
	Bridge BridgeConfig `yaml:"bridge" json:"bridge"`
}

// EngineConfig describes where the backend engine lives and listens.
type EngineConfig struct {
	// Host is the loopback address the engine binds. Fixed per process.
	Host string `yaml:"host" json:"host"`

	// Port is the engine's fixed port.
	Port int `yaml:"port" json:"port"`

	// Installed signals packaged mode: the engine artifact is expected under
	// ResourcesDir. When false the shell looks in the development build
	// output under RepoRoot, then falls back to the interpreter.
	Installed bool `yaml:"installed" json:"installed"`

	// ResourcesDir is the bundled-resources directory of the installation.
	ResourcesDir string `yaml:"resources-dir,omitempty" json:"resources-dir,omitempty"`

	// RepoRoot is the project root used in development mode.
	RepoRoot string `yaml:"repo-root,omitempty" json:"repo-root,omitempty"`
}

// ProbeConfig holds readiness-probe bounds. The per-attempt timeout must stay
// strictly below the polling interval; LoadConfig clamps violations.
type ProbeConfig struct {
	PrecheckAttempts   int `yaml:"precheck-attempts" json:"precheck-attempts"`
	PrecheckIntervalMS int `yaml:"precheck-interval-ms" json:"precheck-interval-ms"`
	PrecheckTimeoutMS  int `yaml:"precheck-timeout-ms" json:"precheck-timeout-ms"`
	Attempts           int `yaml:"attempts" json:"attempts"`
	IntervalMS         int `yaml:"interval-ms" json:"interval-ms"`
	TimeoutMS          int `yaml:"timeout-ms" json:"timeout-ms"`
}

// BridgeConfig holds request-bridge timeout ceilings.
type BridgeConfig struct {
	// CallTimeoutSeconds bounds generic JSON calls.
	CallTimeoutSeconds int `yaml:"call-timeout-seconds" json:"call-timeout-seconds"`
	// UploadTimeoutSeconds bounds multipart document uploads.
	UploadTimeoutSeconds int `yaml:"upload-timeout-seconds" json:"upload-timeout-seconds"`
}

// LoadConfig reads the YAML file at path, applies defaults and returns the
// resulting configuration. A missing file is an error; an empty file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ShellPort == 0 {
		c.ShellPort = 8765
	}
	if strings.TrimSpace(c.Engine.Host) == "" {
		c.Engine.Host = "127.0.0.1"
	}
	if c.Engine.Port == 0 {
		c.Engine.Port = 8080
	}
	if c.Probe.PrecheckAttempts <= 0 {
		c.Probe.PrecheckAttempts = 2
	}
	if c.Probe.PrecheckIntervalMS <= 0 {
		c.Probe.PrecheckIntervalMS = 300
	}
	if c.Probe.PrecheckTimeoutMS <= 0 {
		c.Probe.PrecheckTimeoutMS = 250
	}
	if c.Probe.Attempts <= 0 {
		c.Probe.Attempts = 30
	}
	if c.Probe.IntervalMS <= 0 {
		c.Probe.IntervalMS = 1000
	}
	if c.Probe.TimeoutMS <= 0 {
		c.Probe.TimeoutMS = 800
	}
	// The per-attempt timeout must not reach the polling interval, otherwise
	// a hung attempt eats into the next slot.
	if c.Probe.TimeoutMS >= c.Probe.IntervalMS {
		c.Probe.TimeoutMS = c.Probe.IntervalMS * 4 / 5
	}
	if c.Probe.PrecheckTimeoutMS >= c.Probe.PrecheckIntervalMS {
		c.Probe.PrecheckTimeoutMS = c.Probe.PrecheckIntervalMS * 4 / 5
	}
	if c.Bridge.CallTimeoutSeconds <= 0 {
		c.Bridge.CallTimeoutSeconds = 15
	}
	if c.Bridge.UploadTimeoutSeconds <= 0 {
		c.Bridge.UploadTimeoutSeconds = 600
	}
}

// PrecheckInterval returns the fast pre-check polling interval.
func (c *Config) PrecheckInterval() time.Duration {
	return time.Duration(c.Probe.PrecheckIntervalMS) * time.Millisecond
}

// PrecheckTimeout returns the fast pre-check per-attempt timeout.
func (c *Config) PrecheckTimeout() time.Duration {
	return time.Duration(c.Probe.PrecheckTimeoutMS) * time.Millisecond
}

// ProbeInterval returns the patient post-launch polling interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Probe.IntervalMS) * time.Millisecond
}

// ProbeTimeout returns the patient post-launch per-attempt timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutMS) * time.Millisecond
}

// CallTimeout returns the generic bridge call ceiling.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Bridge.CallTimeoutSeconds) * time.Second
}

// UploadTimeout returns the multipart upload ceiling.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Bridge.UploadTimeoutSeconds) * time.Second
}
