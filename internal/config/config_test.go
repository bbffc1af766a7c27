package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "sanduku.yaml", `
workspace: /tmp/sanduku-test
sandbox:
  timeout_seconds: 30
  truncate_output_chars: 1000
  max_var_display_chars: 100
delegate:
  model: gpt-5-mini
  api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/tmp/sanduku-test" {
		t.Errorf("Workspace = %q", cfg.Workspace)
	}
	if got := cfg.Sandbox.Timeout(); got != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", got)
	}
	if cfg.Sandbox.TruncateOutputChars != 1000 {
		t.Errorf("TruncateOutputChars = %d", cfg.Sandbox.TruncateOutputChars)
	}
	if cfg.Delegate == nil || cfg.Delegate.Model != "gpt-5-mini" {
		t.Errorf("Delegate = %+v", cfg.Delegate)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "sanduku.json", `{
  "sandbox": {"timeout_seconds": 5, "truncate_output_chars": 200, "max_var_display_chars": 50}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Sandbox.Timeout(); got != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", got)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Sandbox.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("TimeoutSeconds = %v", cfg.Sandbox.TimeoutSeconds)
	}
	if cfg.Sandbox.TruncateOutputChars != DefaultTruncateOutputChars {
		t.Errorf("TruncateOutputChars = %d", cfg.Sandbox.TruncateOutputChars)
	}
	if cfg.Delegate != nil {
		t.Error("Delegate should be nil by default")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.Sandbox.TimeoutSeconds = 0 }},
		{"negative timeout", func(c *Config) { c.Sandbox.TimeoutSeconds = -1 }},
		{"zero truncate", func(c *Config) { c.Sandbox.TruncateOutputChars = 0 }},
		{"empty delegate model", func(c *Config) { c.Delegate = &DelegateConfig{Model: "  ", APIKey: "k"} }},
		{"delegate without credentials", func(c *Config) { c.Delegate = &DelegateConfig{Model: "gpt-5-mini"} }},
		{"unknown storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "bolt"} }},
		{"postgres without dsn", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }},
		{"gateway without addr", func(c *Config) { c.Gateway = &GatewayConfig{} }},
		{"janitor without schedule", func(c *Config) { c.Janitor = &JanitorConfig{Enabled: true} }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SANDUKU_WORKSPACE", "/custom/ws")
	t.Setenv("OPENAI_API_KEY", "env-key")

	path := writeConfig(t, "sanduku.yaml", `
workspace: /from/file
delegate:
  model: gpt-5-mini
  api_key: file-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/custom/ws" {
		t.Errorf("Workspace = %q, want env override", cfg.Workspace)
	}
	if cfg.Delegate.APIKey != "env-key" {
		t.Errorf("Delegate.APIKey = %q, want env override", cfg.Delegate.APIKey)
	}
}

func TestJanitorMaxAge(t *testing.T) {
	var j *JanitorConfig
	if got := j.MaxAge(); got != 24*time.Hour {
		t.Errorf("nil MaxAge() = %v", got)
	}
	j = &JanitorConfig{MaxAgeSeconds: 60}
	if got := j.MaxAge(); got != time.Minute {
		t.Errorf("MaxAge() = %v, want 1m", got)
	}
}
