package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default http addr :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.Client.AckTimeout != 5*time.Second {
		t.Errorf("expected ack timeout 5s, got %v", cfg.Client.AckTimeout)
	}
	if cfg.Client.RESTTimeout >= cfg.Client.AckTimeout {
		t.Errorf("REST timeout should be shorter than ack timeout: %v vs %v", cfg.Client.RESTTimeout, cfg.Client.AckTimeout)
	}
	if cfg.RabbitMQ.Exchange == "" || cfg.Redis.Addr == "" {
		t.Errorf("expected infra defaults, got %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KUSHEET_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("KUSHEET_CLIENT_ACK_TIMEOUT", "2s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("env override not applied: %q", cfg.Redis.Addr)
	}
	if cfg.Client.AckTimeout != 2*time.Second {
		t.Errorf("expected 2s ack timeout, got %v", cfg.Client.AckTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kusheet.yaml")
	content := "http_addr: \":9090\"\nclient:\n  token: abc\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.Client.Token != "abc" {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
