package app

import (
	"github.com/giantswarm/mcpgate/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// ConfigPath is the configuration directory. Empty means the user default.
	ConfigPath string

	// Version is reported to agents and remote MCP backends.
	Version string

	// Overrides are applied after loading, before validation. The CLI uses
	// them for flags.
	Overrides []func(*config.GatewayConfig)

	// GatewayConfig, when set, is used instead of loading from ConfigPath.
	GatewayConfig *config.GatewayConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}
