// Package config loads cesvault.jsonc, the single configuration file for
// the code execution service: server address, auth, sandbox defaults, and
// housekeeping intervals.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the full set of settings read from cesvault.jsonc.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Sandbox SandboxConfig `json:"sandbox"`
	Session SessionConfig `json:"session"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig controls the shared-secret X-API-Key check.
type AuthConfig struct {
	APIKey        string `json:"api_key"`
	AllowLoopback bool   `json:"allow_loopback"`
}

// SandboxConfig controls how interpreter processes are launched.
type SandboxConfig struct {
	// Kind is "process" or "docker".
	Kind               string   `json:"kind"`
	InterpreterCommand []string `json:"interpreter_command"`
	Image              string   `json:"image"`
	KillGraceSeconds   int      `json:"kill_grace_seconds"`
}

// SessionConfig controls the session manager's housekeeping.
type SessionConfig struct {
	BaseDir              string `json:"base_dir"`
	IdleTimeoutMinutes   int    `json:"idle_timeout_minutes"`
	SweepCron            string `json:"sweep_cron"`
	StartupTimeoutSeconds int   `json:"startup_timeout_seconds"`
	DataDir              string `json:"data_dir"`
}

// FindConfigPath locates cesvault.jsonc using precedence:
// 1. configDir + /cesvault.jsonc (if configDir is given)
// 2. ./config/cesvault.jsonc (project-local)
// 3. ~/.cesvault/config/cesvault.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	var candidates []string

	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "cesvault.jsonc"))
	}
	candidates = append(candidates, filepath.Join("config", "cesvault.jsonc"))

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".cesvault", "config", "cesvault.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs, nil
			}
			return path, nil
		}
	}

	return "", fmt.Errorf("cesvault.jsonc not found; tried: %v", candidates)
}

// Load reads and parses cesvault.jsonc at path, applying defaults for any
// field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(StripJSONComments(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a Config with every field set to its default value, for
// use when no cesvault.jsonc is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Sandbox.Kind == "" {
		cfg.Sandbox.Kind = "process"
	}
	if len(cfg.Sandbox.InterpreterCommand) == 0 {
		cfg.Sandbox.InterpreterCommand = []string{"python3", "-u", "-m", "cesvault_adapter"}
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "cesvault-interpreter:latest"
	}
	if cfg.Sandbox.KillGraceSeconds == 0 {
		cfg.Sandbox.KillGraceSeconds = 5
	}
	if cfg.Session.BaseDir == "" {
		cfg.Session.BaseDir = "data/sessions"
	}
	if cfg.Session.DataDir == "" {
		cfg.Session.DataDir = "data"
	}
	if cfg.Session.IdleTimeoutMinutes == 0 {
		cfg.Session.IdleTimeoutMinutes = 30
	}
	if cfg.Session.SweepCron == "" {
		cfg.Session.SweepCron = "@every 1m"
	}
	if cfg.Session.StartupTimeoutSeconds == 0 {
		cfg.Session.StartupTimeoutSeconds = 30
	}
}
