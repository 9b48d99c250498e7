package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoad_MissingFileUsesDefaults tests that no config file is fine
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daybook.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("sync interval = %s, want 5m", cfg.Sync.Interval)
	}
	if cfg.Dashboard.Port != 7319 {
		t.Errorf("dashboard port = %d, want 7319", cfg.Dashboard.Port)
	}
	if cfg.DataDir == "" || cfg.CacheDir == "" {
		t.Errorf("directories not defaulted: %+v", cfg)
	}
}

// TestLoad_FileValues tests reading a config file
func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daybook.yaml")
	content := `
server:
  baseUrl: https://api.example.com
  token: secret
sync:
  interval: 30s
dashboard:
  enabled: true
  port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.BaseURL != "https://api.example.com" {
		t.Errorf("baseUrl = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.Token != "secret" {
		t.Errorf("token = %q", cfg.Server.Token)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("interval = %s, want 30s", cfg.Sync.Interval)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9000 {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
}

// TestLoad_EnvOverride tests DAYBOOK_* environment overrides
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DAYBOOK_SERVER_URL", "https://env.example.com")
	t.Setenv("DAYBOOK_TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "daybook.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.BaseURL != "https://env.example.com" {
		t.Errorf("baseUrl = %q, want env override", cfg.Server.BaseURL)
	}
	if cfg.Server.Token != "env-token" {
		t.Errorf("token = %q, want env override", cfg.Server.Token)
	}
}

// TestWriteDefault tests scaffold creation and overwrite refusal
func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "daybook.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of scaffold failed: %v", err)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("scaffold interval = %s, want 5m", cfg.Sync.Interval)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault() overwrote an existing file")
	}
}
