// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents the service configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	LLM       LLMConfig       `toml:"llm"`       // Default LLM settings
	Execution ExecutionConfig `toml:"execution"` // Admission and step limits
	Cleanup   CleanupConfig   `toml:"cleanup"`   // Delayed workspace reclamation
	Telemetry TelemetryConfig `toml:"telemetry"`
	Events    EventsConfig    `toml:"events"`  // Optional NATS lifecycle events
	Storage   StorageConfig   `toml:"storage"` // Trajectory file storage
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr            string `toml:"addr"`             // Listen address (default :8420)
	ShutdownTimeout int    `toml:"shutdown_timeout"` // Graceful drain window in seconds
	MaxConnections  int    `toml:"max_connections"`  // Accepted TCP connection cap (0 = 4x execution ceiling)
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // Custom API endpoint (OpenRouter, LiteLLM, Ollama)
	MaxRetries   int    `toml:"max_retries"`   // Max retry attempts (default 5)
	RetryBackoff string `toml:"retry_backoff"` // Max backoff duration (default "60s")
}

// ExecutionConfig contains admission control and per-execution limits.
type ExecutionConfig struct {
	MaxConcurrency    int    `toml:"max_concurrency"`     // Execution ceiling (0 = 4x CPU count)
	DefaultMaxSteps   int    `toml:"default_max_steps"`   // Step ceiling when request omits one
	MaxSteps          int    `toml:"max_steps"`           // Hard upper bound on requested step ceilings
	DefaultTimeout    int    `toml:"default_timeout"`     // Seconds, when request omits a deadline
	MinTimeout        int    `toml:"min_timeout"`         // Lower clamp bound in seconds
	MaxTimeout        int    `toml:"max_timeout"`         // Upper clamp bound in seconds
	ParallelToolCalls bool   `toml:"parallel_tool_calls"` // Dispatch mode for tool batches
	WorkspaceBase     string `toml:"workspace_base"`      // Base directory for execution workspaces
}

// CleanupConfig contains delayed cleanup settings.
type CleanupConfig struct {
	DelaySeconds int `toml:"delay_seconds"` // Grace window before workspace deletion
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
}

// EventsConfig contains the optional NATS event sink settings.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"` // Empty disables the sink
	Subject string `toml:"subject"`  // Subject prefix (default "agentd.executions")
}

// StorageConfig contains trajectory storage settings.
type StorageConfig struct {
	Path string `toml:"path"` // Base directory for trajectory files
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8420",
			ShutdownTimeout: 30,
		},
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Execution: ExecutionConfig{
			MaxConcurrency:  runtime.NumCPU() * 4,
			DefaultMaxSteps: 20,
			MaxSteps:        200,
			DefaultTimeout:  900,
			MinTimeout:      30,
			MaxTimeout:      3600,
			WorkspaceBase:   os.TempDir(),
		},
		Cleanup: CleanupConfig{
			DelaySeconds: 300,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Events: EventsConfig{
			Subject: "agentd.executions",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from agentd.toml in the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	return LoadFile(filepath.Join(cwd, "agentd.toml"))
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}
