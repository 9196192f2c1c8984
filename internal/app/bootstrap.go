package app

import (
	"context"
	"fmt"
	"os"

	"github.com/giantswarm/mcpgate/internal/config"
	"github.com/giantswarm/mcpgate/pkg/logging"
)

// Application bootstraps and runs the gateway.
//
// Initialization has two phases:
//  1. Bootstrap: load configuration, initialize logging, build services
//  2. Execution: serve until the context is cancelled or a signal arrives
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads and validates the configuration, initializes logging
// and builds every service. Upstream metadata discovery happens here, so an
// unreachable identity provider fails startup.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	gatewayCfg, err := loadConfig(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration")
		return nil, err
	}
	cfg.GatewayConfig = &gatewayCfg

	if err := initLogging(cfg.Debug, gatewayCfg.Logging); err != nil {
		return nil, err
	}

	services, err := InitializeServices(ctx, cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Services exposes the initialized services.
func (a *Application) Services() *Services {
	return a.services
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM is received, then shuts
// everything down.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.services)
}

func loadConfig(cfg *Config) (config.GatewayConfig, error) {
	var gatewayCfg config.GatewayConfig
	if cfg.GatewayConfig != nil {
		gatewayCfg = *cfg.GatewayConfig
	} else {
		configPath := cfg.ConfigPath
		if configPath == "" {
			p, err := config.GetDefaultConfigPath()
			if err != nil {
				return config.GatewayConfig{}, err
			}
			configPath = p
		}
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return config.GatewayConfig{}, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
		}
		gatewayCfg = loaded
	}

	for _, override := range cfg.Overrides {
		override(&gatewayCfg)
	}
	if errs := config.Validate(gatewayCfg); errs.HasErrors() {
		return config.GatewayConfig{}, errs
	}
	return gatewayCfg, nil
}

func initLogging(debug bool, cfg config.LoggingConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if debug {
		level = logging.LevelDebug
	}
	logging.Init(level, logging.Format(cfg.Format), os.Stderr)
	return nil
}
