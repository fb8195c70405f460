package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/hfaried/parley/pkg/provider"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, providerType string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", providerType)
	}

	switch providerType {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name. Names no backend family claims
// are allowed only when a default provider is configured to catch them.
func (v *Validator) ValidateModel(model string, defaultProvider string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	if _, err := provider.SelectKind(model); err != nil {
		if errors.Is(err, provider.ErrUnknownModel) && defaultProvider == "" {
			return fmt.Errorf("model %s matches no backend family and no default provider is set", model)
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a janitor cron expression
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil // Use default
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidatePort validates a TCP port number
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	// Validate provider backends
	for name, p := range cfg.Providers {
		switch name {
		case "openai", "anthropic":
			if err := v.ValidateAPIKey(p.APIKey, name); err != nil {
				errs = append(errs, fmt.Errorf("provider %s: %w", name, err))
			}
		case "gemini":
			// Key may ride the endpoint query string instead.
			if p.APIKey == "" && p.Endpoint == "" {
				errs = append(errs, fmt.Errorf("provider gemini: api_key or endpoint is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("provider %s: invalid type (must be: openai, anthropic, gemini)", name))
		}
	}

	// Validate model routing
	if err := v.ValidateModel(cfg.Models.Default, cfg.Models.DefaultProvider); err != nil {
		errs = append(errs, err)
	}

	// Validate gateway
	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}

	// Validate session janitor
	if err := v.ValidateSchedule(cfg.Session.JanitorSchedule); err != nil {
		errs = append(errs, err)
	}
	if cfg.Session.IdleTTLMinutes < 0 {
		errs = append(errs, fmt.Errorf("session idle_ttl_minutes must be >= 0"))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
