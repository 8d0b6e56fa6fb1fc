package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a configuration file and unmarshals it into the specified type.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func LoadConfig[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg T
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	return &cfg, nil
}

// LoadClientConfig reads a client configuration file, applies defaults and validates it.
func LoadClientConfig(path string) (*Client, error) {
	logger := log.With().Str("com", "config-loader").Logger()

	cfg, err := LoadConfig[Client](path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client configuration validation failed: %w", err)
	}

	logger.Info().
		Str("server", cfg.Addr()).
		Str("transport", cfg.Transport).
		Bool("auto_reconnect", cfg.IsAutoReconnect()).
		Msg("loaded client configuration")

	return cfg, nil
}

// LoadServerConfig reads a server configuration file, applies defaults and validates it.
func LoadServerConfig(path string) (*Server, error) {
	logger := log.With().Str("com", "config-loader").Logger()

	cfg, err := LoadConfig[Server](path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server configuration validation failed: %w", err)
	}

	logger.Info().
		Str("listen", cfg.Listen.Addr()).
		Str("transport", cfg.Transport).
		Msg("loaded server configuration")

	return cfg, nil
}
