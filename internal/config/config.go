// Package config provides configuration loading for pentestd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. See Load for precedence rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete pentestd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Model     ModelConfig     `koanf:"model"`
	Toolbox   ToolboxConfig   `koanf:"toolbox"`
	Runs      RunsConfig      `koanf:"runs"`
	Playbooks PlaybooksConfig `koanf:"playbooks"`
	Events    EventsConfig    `koanf:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
}

// ModelConfig holds the language-model client configuration.
type ModelConfig struct {
	APIKey         string        `koanf:"api_key"`
	BaseURL        string        `koanf:"base_url"`
	Name           string        `koanf:"name"`
	MaxTokens      int           `koanf:"max_tokens"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RequestsPerSec float64       `koanf:"requests_per_sec"`
	Burst          int           `koanf:"burst"`
	MaxRetries     int           `koanf:"max_retries"`
}

// ToolboxConfig holds the tool-execution service configuration.
type ToolboxConfig struct {
	URL         string        `koanf:"url"`
	ExecTimeout time.Duration `koanf:"exec_timeout"`
}

// RunsConfig holds autonomous run configuration.
type RunsConfig struct {
	// ApprovalTimeout bounds how long a step waits for a manual decision.
	ApprovalTimeout time.Duration `koanf:"approval_timeout"`
	// PollInterval is the approval-wait poll cadence.
	PollInterval time.Duration `koanf:"poll_interval"`
	// MaxToolTurns bounds model turns within one step's execute loop.
	MaxToolTurns int `koanf:"max_tool_turns"`
	// ContextWindow is the number of trailing conversation turns sent to
	// the model; the run's introductory turn is always pinned first.
	ContextWindow int `koanf:"context_window"`
	// DefaultMaxSteps applies when a start request omits max_steps.
	DefaultMaxSteps int `koanf:"default_max_steps"`
}

// PlaybooksConfig holds playbook store configuration.
type PlaybooksConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

// EventsConfig holds event fan-out configuration.
type EventsConfig struct {
	BufferSize    int    `koanf:"buffer_size"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8840,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Model: ModelConfig{
			BaseURL:        "https://api.anthropic.com",
			Name:           "claude-sonnet-4-5-20250929",
			MaxTokens:      4096,
			RequestTimeout: 120 * time.Second,
			RequestsPerSec: 2,
			Burst:          4,
			MaxRetries:     3,
		},
		Toolbox: ToolboxConfig{
			URL:         "http://localhost:8841",
			ExecTimeout: 10 * time.Minute,
		},
		Runs: RunsConfig{
			ApprovalTimeout: 600 * time.Second,
			PollInterval:    time.Second,
			MaxToolTurns:    12,
			ContextWindow:   80,
			DefaultMaxSteps: 10,
		},
		Playbooks: PlaybooksConfig{
			Dir:   "playbooks",
			Watch: true,
		},
		Events: EventsConfig{
			BufferSize:    128,
			SubjectPrefix: "pentestd.sessions",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q (must be json or console)", c.Logging.Format)
	}
	if c.Model.BaseURL == "" {
		return errors.New("model base_url is required")
	}
	if c.Model.MaxTokens <= 0 {
		return errors.New("model max_tokens must be positive")
	}
	if c.Toolbox.URL == "" {
		return errors.New("toolbox url is required")
	}
	if c.Runs.ApprovalTimeout <= 0 {
		return errors.New("runs approval_timeout must be positive")
	}
	if c.Runs.PollInterval <= 0 {
		return errors.New("runs poll_interval must be positive")
	}
	if c.Runs.MaxToolTurns < 1 {
		return errors.New("runs max_tool_turns must be at least 1")
	}
	if c.Runs.ContextWindow < 1 {
		return errors.New("runs context_window must be at least 1")
	}
	if c.Runs.DefaultMaxSteps < 1 {
		return errors.New("runs default_max_steps must be at least 1")
	}
	return nil
}
