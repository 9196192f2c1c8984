package config

import "time"

// GatewayConfig is the top-level configuration structure for mcpgate.
type GatewayConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Tools      ToolsConfig      `yaml:"tools"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Storage    StorageConfig    `yaml:"storage"`
}

// ServerConfig controls the network-facing listener.
type ServerConfig struct {
	Host              string        `yaml:"host,omitempty"`
	Port              int           `yaml:"port,omitempty"`
	BaseURL           string        `yaml:"baseURL,omitempty"`  // Public URL agents use to reach the gateway
	BasePath          string        `yaml:"basePath,omitempty"` // Prefix of the MCP routes (default: /mcp)
	KeepAliveInterval time.Duration `yaml:"keepAliveInterval,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout,omitempty"`
	MetricsEnabled    bool          `yaml:"metricsEnabled,omitempty"`
	TLSCertFile       string        `yaml:"tlsCertFile,omitempty"`
	TLSKeyFile        string        `yaml:"tlsKeyFile,omitempty"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // text or json
}

// SessionsConfig bounds the session registry.
type SessionsConfig struct {
	MaxSessions  int           `yaml:"maxSessions,omitempty"`
	QueueSize    int           `yaml:"queueSize,omitempty"`
	Shards       int           `yaml:"shards,omitempty"`
	IdleTimeout  time.Duration `yaml:"idleTimeout,omitempty"`
	ReapInterval time.Duration `yaml:"reapInterval,omitempty"`
	ClosedGrace  time.Duration `yaml:"closedGrace,omitempty"`
	FlushTimeout time.Duration `yaml:"flushTimeout,omitempty"`
}

// DispatcherConfig bounds tool execution.
type DispatcherConfig struct {
	DefaultTimeout time.Duration `yaml:"defaultTimeout,omitempty"`
	MaxInFlight    int64         `yaml:"maxInFlight,omitempty"`
	RequiredScope  string        `yaml:"requiredScope,omitempty"` // Scope a token needs for tools/call; empty disables the check
}

// ToolsConfig points at the tool catalog.
type ToolsConfig struct {
	CatalogFile   string        `yaml:"catalogFile,omitempty"` // Relative paths resolve against the config directory
	Watch         bool          `yaml:"watch,omitempty"`
	WatchDebounce time.Duration `yaml:"watchDebounce,omitempty"`
}

// OAuthConfig configures the authorization broker.
type OAuthConfig struct {
	Upstream          UpstreamConfig `yaml:"upstream"`
	AutoRegister      bool           `yaml:"autoRegister,omitempty"`
	ScopesSupported   []string       `yaml:"scopesSupported,omitempty"`
	PendingTTL        time.Duration  `yaml:"pendingTTL,omitempty"`
	CodeTTL           time.Duration  `yaml:"codeTTL,omitempty"`
	AccessTokenTTL    time.Duration  `yaml:"accessTokenTTL,omitempty"`
	RefreshTokenTTL   time.Duration  `yaml:"refreshTokenTTL,omitempty"`
	RegistrationGrace time.Duration  `yaml:"registrationGrace,omitempty"`
}

// UpstreamConfig describes the single identity provider the broker delegates to.
type UpstreamConfig struct {
	Issuer                string        `yaml:"issuer,omitempty"`
	ClientID              string        `yaml:"clientID,omitempty"`
	ClientSecretRef       string        `yaml:"clientSecretRef,omitempty"` // env:NAME or file:/path
	Scopes                []string      `yaml:"scopes,omitempty"`
	AuthorizationEndpoint string        `yaml:"authorizationEndpoint,omitempty"` // Overrides discovery when set
	TokenEndpoint         string        `yaml:"tokenEndpoint,omitempty"`
	HTTPTimeout           time.Duration `yaml:"httpTimeout,omitempty"`
}

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageValkey = "valkey"
)

// StorageConfig selects the token store backend.
type StorageConfig struct {
	Type              string   `yaml:"type,omitempty"`
	SQLitePath        string   `yaml:"sqlitePath,omitempty"`
	ValkeyAddresses   []string `yaml:"valkeyAddresses,omitempty"`
	ValkeyPasswordRef string   `yaml:"valkeyPasswordRef,omitempty"`
	KeyPrefix         string   `yaml:"keyPrefix,omitempty"`
}

// ListenAddress returns host:port for the HTTP listener.
func (s ServerConfig) ListenAddress() string {
	return joinHostPort(s.Host, s.Port)
}

// PublicURL returns the externally visible base URL, falling back to the listen address.
func (s ServerConfig) PublicURL() string {
	if s.BaseURL != "" {
		return trimSlash(s.BaseURL)
	}
	scheme := "http"
	if s.TLSCertFile != "" {
		scheme = "https"
	}
	return scheme + "://" + s.ListenAddress()
}
