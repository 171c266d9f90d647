package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Sandbox.BlankOutput != "error exists" {
		t.Errorf("blank output = %q", cfg.Sandbox.BlankOutput)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero code ceiling", func(c *Config) { c.Limits.MaxCodeBytes = 0 }},
		{"bad oversize policy", func(c *Config) { c.Limits.OversizePolicy = "truncate" }},
		{"zero timeout", func(c *Config) { c.Limits.Timeout = 0 }},
		{"zero slots", func(c *Config) { c.Admission.MaxConcurrent = 0 }},
		{"negative queue", func(c *Config) { c.Admission.QueueDepth = -1 }},
		{"unknown backend", func(c *Config) { c.Sandbox.Backend = "firecracker" }},
		{"no languages", func(c *Config) { c.Languages.Allowed = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Admission.MaxConcurrent != 8 {
		t.Errorf("max_concurrent = %d, want 8", cfg.Admission.MaxConcurrent)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	yaml := `
server:
  port: 9090
limits:
  timeout: 3s
languages:
  allowed: [javascript]
providers:
  local:
    base_url: http://localhost:11434/v1/
    api_key: ${RUNBOX_TEST_KEY}
    model: tiny
`
	if err := os.WriteFile(filepath.Join(dir, "runbox.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RUNBOX_ADMISSION_MAX_CONCURRENT", "3")
	t.Setenv("RUNBOX_TEST_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Limits.Timeout != 3*time.Second {
		t.Errorf("timeout = %s, want 3s", cfg.Limits.Timeout)
	}
	if cfg.Admission.MaxConcurrent != 3 {
		t.Errorf("max_concurrent = %d, want 3 from env", cfg.Admission.MaxConcurrent)
	}
	if len(cfg.Languages.Allowed) != 1 || cfg.Languages.Allowed[0] != "javascript" {
		t.Errorf("allowed = %v", cfg.Languages.Allowed)
	}

	p, err := cfg.Provider("local")
	if err != nil {
		t.Fatalf("Provider: %v", err)
	}
	if p.APIKey != "secret" {
		t.Errorf("api key = %q, want expanded env value", p.APIKey)
	}
	if _, err := cfg.Provider("missing"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
