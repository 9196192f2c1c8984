package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/mcpgate/pkg/logging"
)

const (
	// DefaultHTTPTimeout bounds a single metadata request.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is how long discovered metadata is reused.
	DefaultMetadataCacheTTL = 30 * time.Minute

	maxMetadataBytes = 1 << 20
)

// WellKnownPaths are tried in order. Upstream identity providers are usually
// OIDC providers; the gateway itself only serves the RFC 8414 document.
var WellKnownPaths = []string{
	"/.well-known/openid-configuration",
	"/.well-known/oauth-authorization-server",
}

// ErrIssuerMismatch is returned when a metadata document names another issuer
// than the one it was fetched from (RFC 8414 section 3.3).
var ErrIssuerMismatch = errors.New("metadata issuer does not match")

type cachedMetadata struct {
	metadata  *Metadata
	expiresAt time.Time
}

// Client discovers authorization server metadata. Results are cached per
// issuer and concurrent lookups of the same issuer share one fetch.
type Client struct {
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cachedMetadata
	group singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for discovery.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMetadataCacheTTL sets how long metadata is cached. Zero disables caching.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.ttl = ttl
	}
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a discovery client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		ttl:        DefaultMetadataCacheTTL,
		now:        time.Now,
		cache:      make(map[string]cachedMetadata),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DiscoverMetadata returns the metadata of issuer, trying each of
// WellKnownPaths in order. A trailing slash on issuer is ignored.
//
// Callers waiting on a fetch started by another caller stop waiting when their
// own ctx is done.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")
	if md, ok := c.cached(issuer); ok {
		return md, nil
	}

	ch := c.group.DoChan(issuer, func() (interface{}, error) {
		if md, ok := c.cached(issuer); ok {
			return md, nil
		}
		md, err := c.discover(context.WithoutCancel(ctx), issuer)
		if err != nil {
			return nil, err
		}
		c.store(issuer, md)
		return md, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Metadata), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClearMetadataCache forgets every cached document.
func (c *Client) ClearMetadataCache() {
	c.mu.Lock()
	c.cache = make(map[string]cachedMetadata)
	c.mu.Unlock()
}

func (c *Client) cached(issuer string) (*Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[issuer]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.metadata, true
}

func (c *Client) store(issuer string, md *Metadata) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.cache[issuer] = cachedMetadata{metadata: md, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Client) discover(ctx context.Context, issuer string) (*Metadata, error) {
	var errs []error
	for _, path := range WellKnownPaths {
		md, err := c.fetch(ctx, issuer+path)
		if err == nil {
			err = checkIssuer(md, issuer)
		}
		if err != nil {
			logging.Debug("OAuth", "Metadata lookup %s%s failed: %v", issuer, path, err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		logging.Debug("OAuth", "Discovered %s: authorize %s, token %s", issuer, md.AuthorizationEndpoint, md.TokenEndpoint)
		return md, nil
	}
	return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, errors.Join(errs...))
}

func (c *Client) fetch(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var md Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBytes)).Decode(&md); err != nil {
		return nil, fmt.Errorf("invalid metadata document: %w", err)
	}
	if md.AuthorizationEndpoint == "" || md.TokenEndpoint == "" {
		return nil, errors.New("metadata is missing authorization or token endpoint")
	}
	return &md, nil
}

// checkIssuer accepts documents that omit the issuer.
func checkIssuer(md *Metadata, issuer string) error {
	if md.Issuer == "" || strings.TrimSuffix(md.Issuer, "/") == issuer {
		return nil
	}
	return fmt.Errorf("%w: got %s, want %s", ErrIssuerMismatch, md.Issuer, issuer)
}
