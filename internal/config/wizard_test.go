package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("collects backends and overrides", func(t *testing.T) {
		answers := strings.Join([]string{
			"sk-openai-test", // openai key
			"",               // skip anthropic
			"",               // skip gemini
			"gpt-4o",         // default model
			"9090",           // port
			"debug",          // log level
		}, "\n") + "\n"

		w := NewWizardFrom(strings.NewReader(answers))
		cfg, err := w.Run()

		require.NoError(t, err)
		assert.Equal(t, "sk-openai-test", cfg.Providers["openai"].APIKey)
		assert.Equal(t, "gpt-4o", cfg.Models.Default)
		assert.Equal(t, 9090, cfg.Gateway.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("all backends skipped", func(t *testing.T) {
		answers := "\n\n\n"

		w := NewWizardFrom(strings.NewReader(answers))
		_, err := w.Run()

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least one provider backend")
	})

	t.Run("defaults survive blank answers", func(t *testing.T) {
		answers := strings.Join([]string{
			"", // skip openai
			"sk-ant-test123",
			"", // skip gemini
			"", // keep default model
			"", // keep default port
			"", // keep default level
		}, "\n") + "\n"

		w := NewWizardFrom(strings.NewReader(answers))
		cfg, err := w.Run()

		require.NoError(t, err)
		assert.Equal(t, "claude-sonnet-4", cfg.Models.Default)
		assert.Equal(t, 8080, cfg.Gateway.Port)
		assert.Equal(t, "info", cfg.Logging.Level)
	})
}
