package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8840, cfg.Server.Port)
	assert.Equal(t, 600*time.Second, cfg.Runs.ApprovalTimeout)
	assert.Equal(t, time.Second, cfg.Runs.PollInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid logging format"},
		{"no model url", func(c *Config) { c.Model.BaseURL = "" }, "model base_url is required"},
		{"no toolbox url", func(c *Config) { c.Toolbox.URL = "" }, "toolbox url is required"},
		{"zero approval timeout", func(c *Config) { c.Runs.ApprovalTimeout = 0 }, "approval_timeout"},
		{"zero poll interval", func(c *Config) { c.Runs.PollInterval = 0 }, "poll_interval"},
		{"zero tool turns", func(c *Config) { c.Runs.MaxToolTurns = 0 }, "max_tool_turns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
runs:
  approval_timeout: 30s
  max_tool_turns: 5
model:
  name: claude-test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Runs.ApprovalTimeout)
	assert.Equal(t, 5, cfg.Runs.MaxToolTurns)
	assert.Equal(t, "claude-test", cfg.Model.Name)
	// Untouched values keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 80, cfg.Runs.ContextWindow)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	t.Setenv("PENTESTD_SERVER_PORT", "9100")
	t.Setenv("PENTESTD_MODEL_API_KEY", "test-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "test-key", cfg.Model.APIKey)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoadRejectsInvalidResult(t *testing.T) {
	t.Setenv("PENTESTD_SERVER_PORT", "99999")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
