package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PENTESTD_"

// Load loads configuration with the following precedence (highest wins):
//
//  1. Environment variables (PENTESTD_SERVER_PORT, PENTESTD_MODEL_API_KEY, ...)
//  2. YAML config file (configPath; skipped when empty or missing)
//  3. Defaults from Default()
//
// Environment variables map to config keys by stripping the PENTESTD_
// prefix, lowercasing, and splitting on the first underscore:
//
//	PENTESTD_SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout
//	PENTESTD_MODEL_API_KEY           -> model.api_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", configPath, err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	// Environment overrides. Split on the first underscore only: the
	// leading token is the section, the remainder is the field name.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
