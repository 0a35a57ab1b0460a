package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"port": 9090, "rabbitmq": {"host": "mq"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.RabbitMQ.Retry.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.RabbitMQ.Retry.MaxAttempts)
	}
	if cfg.RabbitMQ.Retry.InitialInterval() != 3*time.Second {
		t.Errorf("initial interval = %v, want 3s", cfg.RabbitMQ.Retry.InitialInterval())
	}
	if cfg.RabbitMQ.Retry.MaxInterval() != 10*time.Second {
		t.Errorf("max interval = %v, want 10s", cfg.RabbitMQ.Retry.MaxInterval())
	}
	if cfg.RabbitMQ.BindingKey != "keyword.extract.#" {
		t.Errorf("binding key = %q", cfg.RabbitMQ.BindingKey)
	}
	if cfg.Jobs.MaxCandidates != 5 {
		t.Errorf("max candidates = %d, want 5", cfg.Jobs.MaxCandidates)
	}
	if cfg.Storage.Driver != "local" {
		t.Errorf("storage driver = %q, want local", cfg.Storage.Driver)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected error for malformed json")
	}
}
