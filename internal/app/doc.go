// Package app provides application bootstrap and lifecycle management for mcpgate.
//
// # Architecture Overview
//
// The app package is the composition root. It has four parts:
//
//  1. **Bootstrap (`bootstrap.go`)**: configuration loading, logging setup, Application
//  2. **Configuration (`config.go`)**: runtime options coming from the CLI
//  3. **Services (`services.go`)**: construction and wiring of every component
//  4. **Run (`run.go`)**: signal handling and ordered shutdown
//
// # Configuration Loading
//
// Configuration is read from config.yaml in the configuration directory
// (default ~/.config/mcpgate) on top of the built-in defaults. CLI overrides
// are applied afterwards and the result is validated again. A pre-built
// GatewayConfig skips loading entirely, which is what tests use.
//
// # Service Wiring
//
//	tokenstore ──► broker ◄── upstream IdP (x/oauth2)
//	     │            │
//	     │            ▼ (token validation)
//	     └──► dispatcher ◄── tools catalog + executors
//	                  │
//	session registry ─┤
//	                  ▼
//	               gateway (HTTP)
//
// The metrics collector observes the registry, broker, dispatcher and gateway.
//
// # Usage
//
//	cfg := app.NewConfig(false, "/etc/mcpgate", version)
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
package app
