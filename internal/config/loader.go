package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "REGWATCH_"

// Load loads configuration with the precedence (highest first):
//
//  1. Environment variables (REGWATCH_SERVER_PORT, REGWATCH_LLM_MODEL, ...)
//  2. YAML config file (configPath, skipped when empty or absent)
//  3. Built-in defaults
//
// Environment variables are prefixed with REGWATCH_ and mapped to config
// paths by lowercasing and splitting the first underscore:
//
//	REGWATCH_SERVER_PORT          -> server.port
//	REGWATCH_DATABASE_URL         -> database.url
//	REGWATCH_WATCH_ERROR_BACKOFF  -> watch.error_backoff
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("opening config file: %w", err)
			}
			content, readErr := io.ReadAll(f)
			f.Close()
			if readErr != nil {
				return nil, fmt.Errorf("reading config file: %w", readErr)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// transformEnvKey maps REGWATCH_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore becomes a separator; the rest stay part of the
// field name, matching the koanf struct tags.
func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}
