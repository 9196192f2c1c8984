package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/mcpgate/pkg/logging"
)

// Validate checks a fully merged configuration and collects every problem found.
func Validate(cfg GatewayConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535", cfg.Server.Port)
	}
	if !strings.HasPrefix(cfg.Server.BasePath, "/") {
		errs.Add("server.basePath", "must start with '/'", cfg.Server.BasePath)
	}
	if cfg.Server.BaseURL != "" {
		if u, err := url.Parse(cfg.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("server.baseURL", "must be an absolute URL", cfg.Server.BaseURL)
		}
	}
	if (cfg.Server.TLSCertFile == "") != (cfg.Server.TLSKeyFile == "") {
		errs.Add("server.tlsCertFile", "tlsCertFile and tlsKeyFile must be set together")
	}
	validatePositive(&errs, "server.keepAliveInterval", cfg.Server.KeepAliveInterval)

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), cfg.Logging.Level)
	}
	if err := validateOneOf("logging.format", cfg.Logging.Format, []string{"text", "json"}); err != nil {
		errs = append(errs, *err)
	}

	if cfg.Sessions.MaxSessions <= 0 {
		errs.Add("sessions.maxSessions", "must be positive", cfg.Sessions.MaxSessions)
	}
	if cfg.Sessions.QueueSize <= 0 {
		errs.Add("sessions.queueSize", "must be positive", cfg.Sessions.QueueSize)
	}
	if cfg.Sessions.Shards <= 0 {
		errs.Add("sessions.shards", "must be positive", cfg.Sessions.Shards)
	}
	validatePositive(&errs, "sessions.idleTimeout", cfg.Sessions.IdleTimeout)
	validatePositive(&errs, "sessions.reapInterval", cfg.Sessions.ReapInterval)

	validatePositive(&errs, "dispatcher.defaultTimeout", cfg.Dispatcher.DefaultTimeout)
	if cfg.Dispatcher.MaxInFlight <= 0 {
		errs.Add("dispatcher.maxInFlight", "must be positive", cfg.Dispatcher.MaxInFlight)
	}

	if cfg.Tools.CatalogFile == "" {
		errs.Add("tools.catalogFile", "is required")
	}

	validatePositive(&errs, "oauth.pendingTTL", cfg.OAuth.PendingTTL)
	validatePositive(&errs, "oauth.codeTTL", cfg.OAuth.CodeTTL)
	validatePositive(&errs, "oauth.accessTokenTTL", cfg.OAuth.AccessTokenTTL)
	validatePositive(&errs, "oauth.refreshTokenTTL", cfg.OAuth.RefreshTokenTTL)
	if cfg.OAuth.Upstream.Issuer == "" && (cfg.OAuth.Upstream.AuthorizationEndpoint == "" || cfg.OAuth.Upstream.TokenEndpoint == "") {
		errs.Add("oauth.upstream.issuer", "is required unless authorizationEndpoint and tokenEndpoint are both set")
	}
	if cfg.OAuth.Upstream.ClientID == "" {
		errs.Add("oauth.upstream.clientID", "is required")
	}
	if ref := cfg.OAuth.Upstream.ClientSecretRef; ref != "" && !IsSecretRef(ref) {
		errs.Add("oauth.upstream.clientSecretRef", "must use the env: or file: scheme")
	}

	if err := validateOneOf("storage.type", cfg.Storage.Type, []string{StorageMemory, StorageSQLite, StorageValkey}); err != nil {
		errs = append(errs, *err)
	}
	switch cfg.Storage.Type {
	case StorageSQLite:
		if cfg.Storage.SQLitePath == "" {
			errs.Add("storage.sqlitePath", "is required for the sqlite store")
		}
	case StorageValkey:
		if len(cfg.Storage.ValkeyAddresses) == 0 {
			errs.Add("storage.valkeyAddresses", "must have at least one address for the valkey store")
		}
		if ref := cfg.Storage.ValkeyPasswordRef; ref != "" && !IsSecretRef(ref) {
			errs.Add("storage.valkeyPasswordRef", "must use the env: or file: scheme")
		}
	}

	return errs
}

func validatePositive(errs *ValidationErrors, field string, d time.Duration) {
	if d <= 0 {
		errs.Add(field, "must be a positive duration", d.String())
	}
}

func validateOneOf(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}
