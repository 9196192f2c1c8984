package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/giantswarm/mcpgate/internal/broker"
	"github.com/giantswarm/mcpgate/internal/dispatcher"
	"github.com/giantswarm/mcpgate/internal/session"
	"github.com/giantswarm/mcpgate/pkg/logging"
)

const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second

	// DefaultReadHeaderTimeout is the timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout is the idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	maxMessageBytes = 1 << 20
)

// Dispatcher is the tool-message side of the gateway.
type Dispatcher interface {
	Authenticate(ctx context.Context, token string) (*broker.Identity, error)
	Handle(ctx context.Context, sessionID, token string, raw []byte) (*dispatcher.Rejection, error)
}

// Sessions is the registry the SSE endpoints drive.
type Sessions interface {
	Open(owner string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Touch(id string) error
	Close(id string) error
	Count() int
	Stop()
}

// OAuthRoutes serves the authorization broker endpoints.
type OAuthRoutes interface {
	HandleAuthorize(w http.ResponseWriter, r *http.Request)
	HandleCallback(w http.ResponseWriter, r *http.Request)
	HandleToken(w http.ResponseWriter, r *http.Request)
	HandleRegister(w http.ResponseWriter, r *http.Request)
	HandleRevoke(w http.ResponseWriter, r *http.Request)
	HandleMetadata(w http.ResponseWriter, r *http.Request)
	HandleProtectedResource(w http.ResponseWriter, r *http.Request)
}

// Observer receives request-level measurements. *metrics.Metrics implements it.
type Observer interface {
	RequestServed(route string, status int, duration time.Duration, streamed bool)
	MessageRejected(status int)
	SessionRejected()
}

// Config configures the HTTP front.
type Config struct {
	ListenAddress string
	// PublicURL is the externally visible base URL, without trailing slash.
	PublicURL         string
	BasePath          string
	KeepAliveInterval time.Duration
	ShutdownTimeout   time.Duration
	TLSCertFile       string
	TLSKeyFile        string
}

// Server is the gateway's HTTP front: it classifies requests and hands them
// to the session registry, the dispatcher or the authorization broker.
type Server struct {
	cfg        Config
	routes     Routes
	dispatcher Dispatcher
	sessions   Sessions
	oauth      OAuthRoutes
	metrics    http.Handler
	observer   Observer

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithObserver reports requests to o.
func WithObserver(o Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a gateway server.
func New(cfg Config, d Dispatcher, sessions Sessions, oauthRoutes OAuthRoutes, opts ...Option) *Server {
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{
		cfg:        cfg,
		routes:     Routes{BasePath: cfg.BasePath},
		dispatcher: d,
		sessions:   sessions,
		oauth:      oauthRoutes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.withRequestContext(http.HandlerFunc(s.route))
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch s.routes.Classify(r.Method, r.URL.Path) {
	case RouteSessionEstablish:
		s.handleSSE(w, r)
	case RouteSessionClose:
		s.handleClose(w, r)
	case RouteToolMessage:
		s.handleMessage(w, r)
	case RouteAuthorize:
		s.oauth.HandleAuthorize(w, r)
	case RouteCallback:
		s.oauth.HandleCallback(w, r)
	case RouteToken:
		s.oauth.HandleToken(w, r)
	case RouteRegister:
		s.oauth.HandleRegister(w, r)
	case RouteRevoke:
		s.oauth.HandleRevoke(w, r)
	case RouteDiscovery:
		s.oauth.HandleMetadata(w, r)
	case RouteProtectedResource:
		s.oauth.HandleProtectedResource(w, r)
	case RouteHealth:
		s.handleHealth(w, r)
	case RouteMetrics:
		if s.metrics == nil {
			http.NotFound(w, r)
			return
		}
		s.metrics.ServeHTTP(w, r)
	case RouteMethodNotAllowed:
		for _, m := range s.routes.Allowed(r.URL.Path) {
			w.Header().Add("Allow", m)
		}
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

// Run serves until ctx is cancelled, then closes all sessions and shuts the
// listener down within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		// No WriteTimeout: SSE streams are long-lived.
	}
	// Closing the sessions ends the SSE handlers so Shutdown can complete.
	s.httpServer.RegisterOnShutdown(s.sessions.Stop)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Gateway", "Listening on %s (public URL %s)", ln.Addr(), s.cfg.PublicURL)
		var err error
		if s.cfg.TLSCertFile != "" {
			err = s.httpServer.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway server failed: %w", err)
	case <-ctx.Done():
	}

	logging.Info("Gateway", "Shutting down, %d active sessions", s.sessions.Count())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("failed to shut down gateway server: %w", err)
	}
	return nil
}

func (s *Server) resourceMetadataURL() string {
	return s.cfg.PublicURL + "/.well-known/oauth-protected-resource"
}
