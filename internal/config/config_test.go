package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/me/cmdbase/pkg/command"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Robot.Period != 20*time.Millisecond {
		t.Errorf("Period = %s, want 20ms", cfg.Robot.Period)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Server.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if cfg.PanicPolicy() != command.PanicPropagate {
		t.Errorf("PanicPolicy = %v, want propagate", cfg.PanicPolicy())
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdbase.yaml")
	body := `
robot:
  period: 10ms
  watchdog: false
scheduler:
  panic_policy: recover
log:
  level: debug
journal:
  path: /tmp/journal.db
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CMDBASE_SERVER_ADDR", ":9090")
	t.Setenv("CMDBASE_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Robot.Period != 10*time.Millisecond {
		t.Errorf("Period = %s, want 10ms", cfg.Robot.Period)
	}
	if cfg.Robot.Watchdog {
		t.Error("Watchdog should be disabled by file")
	}
	if cfg.PanicPolicy() != command.PanicRecover {
		t.Errorf("PanicPolicy = %v, want recover", cfg.PanicPolicy())
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
	if cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("Journal.Path = %q", cfg.Journal.Path)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want env override :9090", cfg.Server.Addr)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero period", "robot:\n  period: 0s\n"},
		{"bad policy", "scheduler:\n  panic_policy: ignore\n"},
		{"bad format", "log:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cmdbase.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
