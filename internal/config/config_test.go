package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MESSENGER_CONFIG", "")
	t.Setenv("MESSENGER_BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:3000/api" {
		t.Fatalf("unexpected base url %s", cfg.API.BaseURL)
	}
	if cfg.Backend.Enabled() {
		t.Fatal("expected backend disabled by default")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messenger.yaml")
	content := []byte(`
api:
  base_url: https://chat.example.com/api
  timeout: 3s
realtime:
  poll_interval: 2s
backend:
  url: https://baas.example.com
  anon_key: anon
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config err: %v", err)
	}

	t.Setenv("MESSENGER_CONFIG", path)
	t.Setenv("MESSENGER_TIMEOUT", "7s")
	t.Setenv("MESSENGER_STORE_IN_MEMORY", "true")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.API.BaseURL != "https://chat.example.com/api" {
		t.Fatalf("unexpected base url %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 7*time.Second {
		t.Fatalf("expected env timeout to win, got %s", cfg.API.Timeout)
	}
	if cfg.Realtime.PollInterval != 2*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.Realtime.PollInterval)
	}
	if !cfg.Backend.Enabled() {
		t.Fatal("expected backend enabled")
	}
	if cfg.Store.Path != "" {
		t.Fatalf("expected in-memory store, got %q", cfg.Store.Path)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("MESSENGER_CONFIG", "")
	t.Setenv("MESSENGER_BURST", "many")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid burst")
	}
}

func TestValidateBackendPair(t *testing.T) {
	cfg := Default()
	cfg.Backend.URL = "https://baas.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for backend url without key")
	}
}

func TestServerFlagsFromEnv(t *testing.T) {
	t.Setenv("MESSENGER_CONFIG", "")
	t.Setenv("MESSENGER_ACCESS_LOG", "false")
	t.Setenv("MESSENGER_SEED_DEMO", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.AccessLog {
		t.Fatal("expected access log disabled")
	}
	if !cfg.Server.SeedDemo {
		t.Fatal("expected demo seeding enabled")
	}
}
