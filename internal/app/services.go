package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/giantswarm/mcpgate/internal/broker"
	"github.com/giantswarm/mcpgate/internal/config"
	"github.com/giantswarm/mcpgate/internal/dispatcher"
	"github.com/giantswarm/mcpgate/internal/gateway"
	"github.com/giantswarm/mcpgate/internal/metrics"
	"github.com/giantswarm/mcpgate/internal/session"
	"github.com/giantswarm/mcpgate/internal/tokenstore"
	"github.com/giantswarm/mcpgate/internal/tools"
	"github.com/giantswarm/mcpgate/pkg/logging"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

// Services holds every initialized component of a running gateway.
//
// Initialization order follows the dependencies:
//  1. Token store and metrics (shared by everything else)
//  2. Upstream identity provider and authorization broker
//  3. Session registry
//  4. Tool catalog, executors and dispatcher
//  5. HTTP gateway
type Services struct {
	Config config.GatewayConfig

	Store      tokenstore.Store
	Metrics    *metrics.Metrics
	Broker     *broker.Broker
	Registry   *session.Registry
	Catalog    *tools.Source
	Watcher    *tools.Watcher // nil unless tools.watch is enabled
	Dispatcher *dispatcher.Dispatcher
	Gateway    *gateway.Server
}

// InitializeServices builds the services for cfg.GatewayConfig. On failure,
// anything already opened is closed again.
func InitializeServices(ctx context.Context, cfg *Config) (_ *Services, err error) {
	if cfg.GatewayConfig == nil {
		return nil, errors.New("gateway configuration is not loaded")
	}
	gc := *cfg.GatewayConfig
	publicURL := gc.Server.PublicURL()

	store, err := tokenstore.Open(gc.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	logging.Info("Bootstrap", "Using %s token store", storageType(gc.Storage))

	m := metrics.New()
	httpClient := &http.Client{Timeout: gc.OAuth.Upstream.HTTPTimeout}

	upstream, err := newUpstream(ctx, gc, httpClient, publicURL)
	if err != nil {
		return nil, err
	}

	b := broker.New(broker.Config{
		Issuer:            publicURL,
		Resource:          publicURL + gc.Server.BasePath,
		AutoRegister:      gc.OAuth.AutoRegister,
		ScopesSupported:   gc.OAuth.ScopesSupported,
		UpstreamScopes:    gc.OAuth.Upstream.Scopes,
		PendingTTL:        gc.OAuth.PendingTTL,
		CodeTTL:           gc.OAuth.CodeTTL,
		AccessTokenTTL:    gc.OAuth.AccessTokenTTL,
		RefreshTokenTTL:   gc.OAuth.RefreshTokenTTL,
		RegistrationGrace: gc.OAuth.RegistrationGrace,
	}, store, upstream, broker.WithObserver(m))

	registry := session.NewRegistry(session.Config{
		MaxSessions:  gc.Sessions.MaxSessions,
		QueueSize:    gc.Sessions.QueueSize,
		Shards:       gc.Sessions.Shards,
		IdleTimeout:  gc.Sessions.IdleTimeout,
		ReapInterval: gc.Sessions.ReapInterval,
		ClosedGrace:  gc.Sessions.ClosedGrace,
		FlushTimeout: gc.Sessions.FlushTimeout,
	}, session.WithObserver(m))
	defer func() {
		if err != nil {
			registry.Stop()
		}
	}()

	source, err := loadCatalog(gc.Tools.CatalogFile)
	if err != nil {
		return nil, err
	}
	m.CatalogVersion(source.Snapshot().Version())
	source.OnChange(func(c *tools.Catalog) { m.CatalogVersion(c.Version()) })

	executors := tools.Executors{
		tools.BackendBuiltin: tools.NewBuiltinExecutor(tokenstore.NewSnippetStore(store)),
		tools.BackendHTTP:    tools.NewHTTPExecutor(&http.Client{}, config.ResolveSecret),
		tools.BackendMCP:     tools.NewMCPExecutor(&http.Client{}, config.ResolveSecret, cfg.Version),
	}

	d := dispatcher.New(dispatcher.Config{
		DefaultTimeout: gc.Dispatcher.DefaultTimeout,
		MaxInFlight:    gc.Dispatcher.MaxInFlight,
		RequiredScope:  gc.Dispatcher.RequiredScope,
		Version:        cfg.Version,
	}, b, registry, source, executors, dispatcher.WithObserver(m))

	opts := []gateway.Option{gateway.WithObserver(m)}
	if gc.Server.MetricsEnabled {
		opts = append(opts, gateway.WithMetricsHandler(m.Handler()))
	}
	gw := gateway.New(gateway.Config{
		ListenAddress:     gc.Server.ListenAddress(),
		PublicURL:         publicURL,
		BasePath:          gc.Server.BasePath,
		KeepAliveInterval: gc.Server.KeepAliveInterval,
		ShutdownTimeout:   gc.Server.ShutdownTimeout,
		TLSCertFile:       gc.Server.TLSCertFile,
		TLSKeyFile:        gc.Server.TLSKeyFile,
	}, d, registry, broker.NewHandler(b), opts...)

	services := &Services{
		Config:     gc,
		Store:      store,
		Metrics:    m,
		Broker:     b,
		Registry:   registry,
		Catalog:    source,
		Dispatcher: d,
		Gateway:    gw,
	}
	if gc.Tools.Watch && source.Path() != "" {
		services.Watcher = tools.NewWatcher(source, gc.Tools.WatchDebounce)
	}
	return services, nil
}

func newUpstream(ctx context.Context, gc config.GatewayConfig, httpClient *http.Client, publicURL string) (*broker.OAuth2Upstream, error) {
	up := gc.OAuth.Upstream
	var secret oauth.RedactedToken
	if up.ClientSecretRef != "" {
		s, err := config.ResolveSecret(up.ClientSecretRef)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve upstream client secret: %w", err)
		}
		secret = s
	}

	upstream, err := broker.NewOAuth2Upstream(ctx, broker.UpstreamOptions{
		Issuer:                up.Issuer,
		ClientID:              up.ClientID,
		ClientSecret:          secret,
		AuthorizationEndpoint: up.AuthorizationEndpoint,
		TokenEndpoint:         up.TokenEndpoint,
		RedirectURL:           publicURL + "/oauth-callback",
		Scopes:                up.Scopes,
		HTTPClient:            httpClient,
	}, oauth.NewClient(oauth.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to configure upstream identity provider: %w", err)
	}
	logging.Info("Bootstrap", "Delegating authorization to %s", up.Issuer)
	return upstream, nil
}

// loadCatalog reads the catalog file, falling back to the builtin tools when
// the file does not exist.
func loadCatalog(path string) (*tools.Source, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logging.Info("Bootstrap", "No tool catalog at %s, serving the builtin tools", path)
		c, err := tools.NewCatalog(1, tools.DefaultCatalog())
		if err != nil {
			return nil, err
		}
		return tools.NewStaticSource(c), nil
	}
	source, err := tools.NewSource(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool catalog: %w", err)
	}
	return source, nil
}

func storageType(cfg config.StorageConfig) string {
	if cfg.Type == "" {
		return config.StorageMemory
	}
	return cfg.Type
}
