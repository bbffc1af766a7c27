// Package config handles loading and validating Sanduku configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Defaults for the sandbox configuration surface.
const (
	DefaultTimeoutSeconds      = 60.0
	DefaultTruncateOutputChars = 50_000
	DefaultMaxVarDisplayChars  = 200
)

// Config is the root configuration for Sanduku.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.sanduku/workspace. Override: SANDUKU_WORKSPACE env var.
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Delegate      *DelegateConfig      `json:"delegate,omitempty" yaml:"delegate,omitempty"`           // nil = llm_query disabled
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = execution history disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Gateway       *GatewayConfig       `json:"gateway,omitempty" yaml:"gateway,omitempty"`             // nil = HTTP gateway disabled
	Janitor       *JanitorConfig       `json:"janitor,omitempty" yaml:"janitor,omitempty"`             // nil = scratch janitor disabled
}

// SandboxConfig configures the REPL execution environment.
type SandboxConfig struct {
	TimeoutSeconds      float64 `json:"timeout_seconds" yaml:"timeout_seconds"`             // Per-execution wall-clock deadline. Default: 60.
	TruncateOutputChars int     `json:"truncate_output_chars" yaml:"truncate_output_chars"` // Output cap in characters. Default: 50000.
	MaxVarDisplayChars  int     `json:"max_var_display_chars" yaml:"max_var_display_chars"` // Per-variable display cap in results. Default: 200.
}

// Timeout returns the execution deadline as a duration.
func (s *SandboxConfig) Timeout() time.Duration {
	secs := s.TimeoutSeconds
	if secs <= 0 {
		secs = DefaultTimeoutSeconds
	}
	return time.Duration(secs * float64(time.Second))
}

// DelegateConfig configures the llm_query() delegate capability.
// When present, evaluated code can delegate semantic sub-analysis of
// context chunks to the configured model.
type DelegateConfig struct {
	Model   string `json:"model" yaml:"model"`                           // Model identifier, e.g. "gpt-5-mini". Required.
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`   // Override: OPENAI_API_KEY env var.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"` // OpenAI-compatible endpoint. Empty = api.openai.com.
}

// StorageConfig configures the optional execution history backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "sanduku"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// GatewayConfig configures the HTTP API gateway.
type GatewayConfig struct {
	ListenAddr string            `json:"listen_addr" yaml:"listen_addr"`         // e.g. ":8080"
	APIKeys    map[string]string `json:"api_keys,omitempty" yaml:"api_keys"`     // API key → user ID. Override: SANDUKU_API_KEY adds a key for user "default".
	EnableDocs bool              `json:"enable_docs" yaml:"enable_docs"`         // Serve OpenAPI docs.
	EnableREPL bool              `json:"enable_repl" yaml:"enable_repl"`         // Serve the WebSocket REPL endpoint.
	MaxBodyMB  int               `json:"max_body_mb,omitempty" yaml:"max_body_mb"` // Request body cap in MB. Default: 8 (context payloads are large).
}

// JanitorConfig configures the orphaned-scratch-directory sweeper.
// The janitor only touches directories not owned by a live session;
// live sessions are never expired (teardown is always caller-driven).
type JanitorConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Schedule      string `json:"schedule" yaml:"schedule"`               // Cron spec, e.g. "@every 10m".
	MaxAgeSeconds int    `json:"max_age_seconds" yaml:"max_age_seconds"` // Orphan age threshold. Default: 86400.
}

// MaxAge returns the orphan age threshold with a default of 24h.
func (j *JanitorConfig) MaxAge() time.Duration {
	if j != nil && j.MaxAgeSeconds > 0 {
		return time.Duration(j.MaxAgeSeconds) * time.Second
	}
	return 24 * time.Hour
}

// Default returns a Config with sandbox defaults and all optional
// subsystems disabled.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			TimeoutSeconds:      DefaultTimeoutSeconds,
			TruncateOutputChars: DefaultTruncateOutputChars,
			MaxVarDisplayChars:  DefaultMaxVarDisplayChars,
		},
	}
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. API keys can be set in the config file or overridden by
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Env vars take
// precedence over config file values.
func applyEnvOverrides(cfg *Config) {
	if envWS := os.Getenv("SANDUKU_WORKSPACE"); envWS != "" {
		cfg.Workspace = envWS
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" && cfg.Delegate != nil {
		cfg.Delegate.APIKey = envKey
	}
	if envKey := os.Getenv("SANDUKU_API_KEY"); envKey != "" && cfg.Gateway != nil {
		if cfg.Gateway.APIKeys == nil {
			cfg.Gateway.APIKeys = make(map[string]string)
		}
		cfg.Gateway.APIKeys[envKey] = "default"
	}
}

// Validate checks the configuration for construction-time contract
// violations. These are fatal: a misconfigured sandbox must not start.
func (c *Config) Validate() error {
	if c.Sandbox.TimeoutSeconds <= 0 {
		return fmt.Errorf("sandbox.timeout_seconds must be positive, got %v", c.Sandbox.TimeoutSeconds)
	}
	if c.Sandbox.TruncateOutputChars <= 0 {
		return fmt.Errorf("sandbox.truncate_output_chars must be positive, got %d", c.Sandbox.TruncateOutputChars)
	}
	if c.Sandbox.MaxVarDisplayChars < 0 {
		return fmt.Errorf("sandbox.max_var_display_chars must not be negative, got %d", c.Sandbox.MaxVarDisplayChars)
	}
	if c.Delegate != nil {
		if strings.TrimSpace(c.Delegate.Model) == "" {
			return fmt.Errorf("delegate.model must be non-empty when delegate is configured")
		}
		if c.Delegate.APIKey == "" && c.Delegate.BaseURL == "" {
			return fmt.Errorf("delegate requires api_key (or OPENAI_API_KEY) or a base_url")
		}
	}
	if c.Storage != nil {
		switch d := c.Storage.StorageDriver(); d {
		case "sqlite":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("unknown storage driver %q", d)
		}
	}
	if c.Gateway != nil && c.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway.listen_addr is required when the gateway is enabled")
	}
	if c.Janitor != nil && c.Janitor.Enabled && c.Janitor.Schedule == "" {
		return fmt.Errorf("janitor.schedule is required when the janitor is enabled")
	}
	return nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/sanduku.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".sanduku", "config.yaml")
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
