package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultAppliesAllDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q", cfg.Server.Address)
	}
	if cfg.Sandbox.Kind != "process" {
		t.Errorf("Sandbox.Kind = %q", cfg.Sandbox.Kind)
	}
	if cfg.Session.SweepCron != "@every 1m" {
		t.Errorf("Session.SweepCron = %q", cfg.Session.SweepCron)
	}
}

func TestLoadParsesJSONCAndFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cesvault.jsonc")
	contents := `{
		// shared secret
		"server": { "address": ":9090" },
		"auth": { "api_key": "topsecret" },
		"sandbox": { "kind": "docker" }
	}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("Server.Address = %q", cfg.Server.Address)
	}
	if cfg.Auth.APIKey != "topsecret" {
		t.Errorf("Auth.APIKey = %q", cfg.Auth.APIKey)
	}
	if cfg.Sandbox.Kind != "docker" {
		t.Errorf("Sandbox.Kind = %q", cfg.Sandbox.Kind)
	}
	if cfg.Session.IdleTimeoutMinutes != 30 {
		t.Errorf("Session.IdleTimeoutMinutes = %d, want default 30", cfg.Session.IdleTimeoutMinutes)
	}
}

func TestFindConfigPathMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := FindConfigPath(filepath.Join(dir, "nope")); err == nil {
		t.Fatal("expected error for missing config")
	}
}
