package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBasePath mirrors the route prefix of the original API Management deployment.
	DefaultBasePath = "/mcp"

	// DefaultCatalogFile is looked up in the config directory.
	DefaultCatalogFile = "tools.yaml"

	// DefaultRequiredScope is the scope a token needs to call tools.
	DefaultRequiredScope = "tools:call"
)

// GetDefaultConfig returns the configuration used when no config.yaml overrides it.
func GetDefaultConfig() GatewayConfig {
	return GatewayConfig{
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8090,
			BasePath:          DefaultBasePath,
			KeepAliveInterval: 15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MetricsEnabled:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Sessions: SessionsConfig{
			MaxSessions:  1000,
			QueueSize:    256,
			Shards:       16,
			IdleTimeout:  30 * time.Minute,
			ReapInterval: time.Minute,
			ClosedGrace:  30 * time.Second,
			FlushTimeout: 5 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			DefaultTimeout: 30 * time.Second,
			MaxInFlight:    64,
			RequiredScope:  "",
		},
		Tools: ToolsConfig{
			CatalogFile:   DefaultCatalogFile,
			Watch:         false,
			WatchDebounce: 500 * time.Millisecond,
		},
		OAuth: OAuthConfig{
			AutoRegister:      true,
			ScopesSupported:   []string{"openid", "profile", "email", DefaultRequiredScope},
			PendingTTL:        10 * time.Minute,
			CodeTTL:           time.Minute,
			AccessTokenTTL:    time.Hour,
			RefreshTokenTTL:   24 * time.Hour,
			RegistrationGrace: 5 * time.Minute,
			Upstream: UpstreamConfig{
				Scopes:      []string{"openid", "profile", "email"},
				HTTPTimeout: 30 * time.Second,
			},
		},
		Storage: StorageConfig{
			Type:      StorageMemory,
			KeyPrefix: "mcpgate:",
		},
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func trimSlash(s string) string {
	return strings.TrimSuffix(s, "/")
}
