package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_SECRET", "test-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("default port = %d; want 8080", cfg.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("default backend = %q; want memory", cfg.Store.Backend)
	}
	if cfg.Store.TTL != time.Hour {
		t.Fatalf("default ttl = %v; want 1h", cfg.Store.TTL)
	}
	if cfg.RateLimit.Events != 60 || cfg.RateLimit.Interval != 10*time.Second {
		t.Fatalf("default rate limit = %+v", cfg.RateLimit)
	}
	if cfg.SendBuffer != 32 {
		t.Fatalf("default send buffer = %d; want 32", cfg.SendBuffer)
	}
	if len(cfg.WebRTC.STUNServers) == 0 {
		t.Fatalf("expected default STUN server")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("RELAY_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("RELAY_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("mode: debug\nport: 9090\nstore:\n  backend: dynamo\n  table: sessions-prod\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "debug" || cfg.Port != 9090 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Store.Backend != "dynamo" || cfg.Store.Table != "sessions-prod" {
		t.Fatalf("store config not applied: %+v", cfg.Store)
	}
}
