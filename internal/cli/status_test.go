package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		commands := cmd.Commands()

		found := false
		for _, c := range commands {
			if c.Name() == "status" {
				found = true
				break
			}
		}
		assert.True(t, found, "status command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "status")
	})

	t.Run("reports stopped when nothing listens", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "parley.json")
		// Port 1 is never serving.
		err := os.WriteFile(configPath, []byte(`{"gateway": {"host": "127.0.0.1", "port": 1}}`), 0644)
		require.NoError(t, err)

		prev := cfgFile
		cfgFile = configPath
		t.Cleanup(func() { cfgFile = prev })

		err = runStatus(statusCmd, nil)
		assert.NoError(t, err)
	})
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"explicit host", "10.0.0.5", 8080, "http://10.0.0.5:8080/healthz"},
		{"wildcard bind", "0.0.0.0", 8080, "http://127.0.0.1:8080/healthz"},
		{"empty host", "", 9090, "http://127.0.0.1:9090/healthz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, healthURL(tt.host, tt.port))
		})
	}
}
