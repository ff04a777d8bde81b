package appconfig

import (
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/internal/config"
)

// DefaultConfigFilePath is the default path to the configuration file.
const DefaultConfigFilePath = config.DefaultConfigFilePath

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "POLLR"

// NewLoader creates a new configuration loader with the given environment prefix.
func NewLoader(envPrefix string) *config.Loader[Config] {
	return config.NewLoader(Defaults, envPrefix)
}

// Load reads the configuration from path, or the default file when path is empty, and validates it.
func Load(path string) (Config, error) {
	loader := NewLoader(EnvPrefix)
	if path != "" {
		if err := loader.SetConfigFilePath(path); err != nil {
			return Config{}, err
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ToFile writes the configuration to path in the format given by its extension.
func ToFile(cfg *Config, path string) error {
	if err := config.ToFile(cfg, path, EnvPrefix); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SupportedExts returns the list of supported configuration file extensions.
func SupportedExts() []string {
	return config.SupportedExts
}
