package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcpgate/internal/app"
	"github.com/giantswarm/mcpgate/internal/config"
)

var (
	// serveDebug forces debug logging regardless of server.logLevel.
	serveDebug bool

	// serveConfigPath is the directory holding config.yaml and, by default,
	// the tool catalog.
	serveConfigPath string

	serveHost         string
	servePort         int
	serveBaseURL      string
	serveStorage      string
	serveCatalogFile  string
	serveWatchCatalog bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Starts the MCP gateway and its authorization broker.

Endpoints:
  GET    /mcp/sse                              open a session stream
  POST   /mcp/message?sessionId=ID             send a JSON-RPC message
  DELETE /mcp/sse?sessionId=ID                 close a session
  GET    /authorize, /oauth-callback           authorization code flow
  POST   /token, /register, /revoke            token, registration, revocation
  GET    /.well-known/oauth-authorization-server
  GET    /.well-known/oauth-protected-resource
  GET    /health, /metrics

Configuration:
  mcpgate loads config.yaml from ~/.config/mcpgate unless --config-path is set.
  Flags override values from the file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveConfigPath, GetVersion())
	cfg.Overrides = serveOverrides(cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

// serveOverrides turns the flags the user actually set into config overrides.
func serveOverrides(cmd *cobra.Command) []func(*config.GatewayConfig) {
	var overrides []func(*config.GatewayConfig)
	flags := cmd.Flags()
	if flags.Changed("host") {
		overrides = append(overrides, func(c *config.GatewayConfig) { c.Server.Host = serveHost })
	}
	if flags.Changed("port") {
		overrides = append(overrides, func(c *config.GatewayConfig) { c.Server.Port = servePort })
	}
	if flags.Changed("base-url") {
		overrides = append(overrides, func(c *config.GatewayConfig) { c.Server.BaseURL = serveBaseURL })
	}
	if flags.Changed("storage") {
		overrides = append(overrides, func(c *config.GatewayConfig) { c.Storage.Type = serveStorage })
	}
	if flags.Changed("catalog") {
		overrides = append(overrides, func(c *config.GatewayConfig) { c.Tools.CatalogFile = serveCatalogFile })
	}
	if flags.Changed("watch") {
		overrides = append(overrides, func(c *config.GatewayConfig) { c.Tools.Watch = serveWatchCatalog })
	}
	return overrides
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Configuration directory (default ~/.config/mcpgate)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port")
	serveCmd.Flags().StringVar(&serveBaseURL, "base-url", "", "Externally visible base URL, used as OAuth issuer")
	serveCmd.Flags().StringVar(&serveStorage, "storage", "", "Token store: memory, sqlite or valkey")
	serveCmd.Flags().StringVar(&serveCatalogFile, "catalog", "", "Tool catalog file")
	serveCmd.Flags().BoolVar(&serveWatchCatalog, "watch", false, "Reload the tool catalog when the file changes")
}
