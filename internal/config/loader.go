package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/giantswarm/mcpgate/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcpgate"
	configFileName = "config.yaml"
)

// GetDefaultConfigPath returns ~/.config/mcpgate.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath on top of the defaults and
// validates the result. A missing file is not an error.
func LoadConfig(configPath string) (GatewayConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return GatewayConfig{}, fmt.Errorf("error reading %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return GatewayConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	cfg.Tools.CatalogFile = ResolvePath(configPath, cfg.Tools.CatalogFile)
	if cfg.Storage.SQLitePath != "" {
		cfg.Storage.SQLitePath = ResolvePath(configPath, cfg.Storage.SQLitePath)
	}

	if errs := Validate(cfg); errs.HasErrors() {
		return GatewayConfig{}, errs
	}
	return cfg, nil
}

// ResolvePath makes p absolute relative to base unless it already is.
func ResolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
