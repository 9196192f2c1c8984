package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() GatewayConfig {
	cfg := GetDefaultConfig()
	cfg.OAuth.Upstream.Issuer = "https://idp.example.com"
	cfg.OAuth.Upstream.ClientID = "mcpgate"
	return cfg
}

func fields(errs ValidationErrors) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*GatewayConfig)
		wantField string
	}{
		{"valid", func(*GatewayConfig) {}, ""},
		{"bad port", func(c *GatewayConfig) { c.Server.Port = 0 }, "server.port"},
		{"relative base path", func(c *GatewayConfig) { c.Server.BasePath = "mcp" }, "server.basePath"},
		{"relative base URL", func(c *GatewayConfig) { c.Server.BaseURL = "gateway" }, "server.baseURL"},
		{"tls half set", func(c *GatewayConfig) { c.Server.TLSCertFile = "c.pem" }, "server.tlsCertFile"},
		{"bad level", func(c *GatewayConfig) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *GatewayConfig) { c.Logging.Format = "xml" }, "logging.format"},
		{"no sessions", func(c *GatewayConfig) { c.Sessions.MaxSessions = 0 }, "sessions.maxSessions"},
		{"zero timeout", func(c *GatewayConfig) { c.Dispatcher.DefaultTimeout = 0 }, "dispatcher.defaultTimeout"},
		{"no in-flight", func(c *GatewayConfig) { c.Dispatcher.MaxInFlight = 0 }, "dispatcher.maxInFlight"},
		{"no issuer", func(c *GatewayConfig) { c.OAuth.Upstream.Issuer = "" }, "oauth.upstream.issuer"},
		{"explicit endpoints replace issuer", func(c *GatewayConfig) {
			c.OAuth.Upstream.Issuer = ""
			c.OAuth.Upstream.AuthorizationEndpoint = "https://idp/authorize"
			c.OAuth.Upstream.TokenEndpoint = "https://idp/token"
		}, ""},
		{"plain secret", func(c *GatewayConfig) { c.OAuth.Upstream.ClientSecretRef = "hunter2" }, "oauth.upstream.clientSecretRef"},
		{"unknown storage", func(c *GatewayConfig) { c.Storage.Type = "etcd" }, "storage.type"},
		{"sqlite without path", func(c *GatewayConfig) { c.Storage.Type = StorageSQLite }, "storage.sqlitePath"},
		{"valkey without address", func(c *GatewayConfig) { c.Storage.Type = StorageValkey }, "storage.valkeyAddresses"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			errs := Validate(cfg)
			if tt.wantField == "" {
				assert.False(t, errs.HasErrors(), "unexpected errors: %v", errs)
				return
			}
			assert.Contains(t, fields(errs), tt.wantField)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("a", "is bad")
	assert.Equal(t, "field 'a': is bad", errs.Error())

	errs.Add("b", "is worse")
	assert.Equal(t, "validation failed: field 'a': is bad; field 'b': is worse", errs.Error())
}

func TestResolveSecret(t *testing.T) {
	t.Setenv("MCPGATE_TEST_SECRET", "s3cret")

	v, err := ResolveSecret("env:MCPGATE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v.Value())
	assert.Equal(t, "[REDACTED]", fmt.Sprint(v))

	_, err = ResolveSecret("env:MCPGATE_TEST_MISSING")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("filekey\n"), 0o600))
	v, err = ResolveSecret("file:" + path)
	require.NoError(t, err)
	assert.Equal(t, "filekey", v.Value())

	_, err = ResolveSecret("plaintext-secret")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "plaintext-secret")
}
