package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard reading from stdin
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// NewWizardFrom creates a wizard reading answers from r
func NewWizardFrom(r io.Reader) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(r),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Parley Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Provider backends
	fmt.Println("Provider backends (at least one is required):")
	fmt.Println()

	// OpenAI
	for {
		fmt.Print("OpenAI API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			break
		}

		if err := validator.ValidateAPIKey(key, "openai"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Providers["openai"] = ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
			APIKey:  key,
		}
		break
	}

	// Anthropic
	for {
		fmt.Print("Anthropic API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			break
		}

		if err := validator.ValidateAPIKey(key, "anthropic"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Providers["anthropic"] = ProviderConfig{
			BaseURL: "https://api.anthropic.com/v1",
			APIKey:  key,
		}
		break
	}

	// Gemini
	fmt.Print("Gemini endpoint URL (press Enter to skip): ")
	endpoint, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if endpoint != "" {
		cfg.Providers["gemini"] = ProviderConfig{
			Endpoint: endpoint,
		}
	}

	// Check if at least one backend is configured
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider backend is required")
	}

	fmt.Println()

	// Default Model
	fmt.Println("Default Model:")
	fmt.Print("Model name [claude-sonnet-4]: ")
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if model != "" {
		cfg.Models.Default = model
	}

	fmt.Println()

	// Gateway
	fmt.Println("Gateway:")
	fmt.Print("Listen port [8080]: ")
	port, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil || validator.ValidatePort(p) != nil {
			fmt.Printf("Warning: invalid port %q, using default (8080)\n", port)
		} else {
			cfg.Gateway.Port = p
		}
	}

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
