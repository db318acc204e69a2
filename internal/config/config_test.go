package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultBroker(t *testing.T) {
	cfg := DefaultBroker()
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr :8080, got %q", cfg.ListenAddr)
	}
	if cfg.MaxConns != 10 {
		t.Fatalf("expected default max conns 10, got %d", cfg.MaxConns)
	}
	if cfg.AgentPollRate != 60 {
		t.Fatalf("expected default agent poll rate 60, got %d", cfg.AgentPollRate)
	}
}

func TestLoadBrokerFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.toml")
	contents := "listen_addr = \":9090\"\nmax_conns = 25\nlog_level = \"debug\"\n"
	if err := os.WriteFile(path, []byte(contents), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadBroker(path)
	if err != nil {
		t.Fatalf("LoadBroker: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected file value :9090, got %q", cfg.ListenAddr)
	}
	if cfg.MaxConns != 25 {
		t.Fatalf("expected file value 25, got %d", cfg.MaxConns)
	}

	t.Setenv("DATABASE_URL", "postgres://override/db")
	t.Setenv("BROKKR_LOG_LEVEL", "warn")
	cfg, err = LoadBroker(path)
	if err != nil {
		t.Fatalf("LoadBroker: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override/db" {
		t.Fatalf("expected DATABASE_URL env to win, got %q", cfg.DatabaseURL)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env log level warn, got %q", cfg.LogLevel)
	}

	t.Setenv("BROKKR_AGENT_POLL_RATE", "120")
	cfg, err = LoadBroker(path)
	if err != nil {
		t.Fatalf("LoadBroker: %v", err)
	}
	if cfg.AgentPollRate != 120 {
		t.Fatalf("expected env agent poll rate 120, got %d", cfg.AgentPollRate)
	}
}

func TestLoadAgentDefaults(t *testing.T) {
	cfg, err := LoadAgent("")
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("expected default poll interval 30s, got %s", cfg.PollInterval)
	}
}

func TestLoadAgentEnvOverride(t *testing.T) {
	t.Setenv("BROKKR_BROKER_URL", "https://broker.example.com")
	t.Setenv("BROKKR_POLL_INTERVAL", "5s")
	cfg, err := LoadAgent("")
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if cfg.BrokerURL != "https://broker.example.com" {
		t.Fatalf("expected env broker URL, got %q", cfg.BrokerURL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected env poll interval 5s, got %s", cfg.PollInterval)
	}
}
