package config

import (
	"encoding/json"
	"fmt"

	"github.com/hfaried/parley/pkg/provider"
)

// Config represents the main Parley configuration
type Config struct {
	// Gateway HTTP server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Model routing
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Provider backends keyed by type (openai, anthropic, gemini)
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`

	// Session persistence and eviction
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Identity table
	Identity IdentityConfig `json:"identity" mapstructure:"identity"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// ModelsConfig holds model routing configuration
type ModelsConfig struct {
	Default         string `json:"default" mapstructure:"default"`
	DefaultProvider string `json:"default_provider" mapstructure:"default_provider"`
}

// ProviderConfig holds one backend's endpoint configuration
type ProviderConfig struct {
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// SessionConfig holds session store and janitor configuration
type SessionConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	JanitorSchedule string `json:"janitor_schedule" mapstructure:"janitor_schedule"`
	IdleTTLMinutes  int    `json:"idle_ttl_minutes" mapstructure:"idle_ttl_minutes"`
}

// IdentityConfig holds the persona table configuration
type IdentityConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Models: ModelsConfig{
			Default: "claude-sonnet-4",
		},
		Providers: map[string]ProviderConfig{},
		Session: SessionConfig{
			JanitorSchedule: "@every 10m",
			IdleTTLMinutes:  60,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Require at least one provider backend
	if len(c.Providers) == 0 {
		return fmt.Errorf("no provider backends configured: at least one is required")
	}

	for name, p := range c.Providers {
		switch name {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("provider %s: invalid type (must be: openai, anthropic, gemini)", name)
		}
		if p.BaseURL == "" && p.Endpoint == "" {
			return fmt.Errorf("provider %s: base_url or endpoint is required", name)
		}
	}

	if c.Models.Default == "" {
		return fmt.Errorf("default model is required")
	}
	if c.Models.DefaultProvider != "" {
		if _, ok := c.Providers[c.Models.DefaultProvider]; !ok {
			return fmt.Errorf("default provider %s has no configuration", c.Models.DefaultProvider)
		}
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	if c.Session.IdleTTLMinutes < 0 {
		return fmt.Errorf("session idle_ttl_minutes must be >= 0")
	}

	return nil
}

// ProviderTable builds the runtime lookup table from the configured
// backends. The table construction re-checks the default provider, so
// Validate and ProviderTable agree on what is servable.
func (c *Config) ProviderTable() (*provider.Table, error) {
	configs := make(map[provider.Kind]provider.Config, len(c.Providers))
	for name, p := range c.Providers {
		configs[provider.Kind(name)] = provider.Config{
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Endpoint: p.Endpoint,
		}
	}
	return provider.NewTable(configs, provider.Kind(c.Models.DefaultProvider))
}
