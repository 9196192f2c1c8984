package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcpgate/pkg/logging"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

// Upstream is the identity provider the broker delegates user authentication to.
type Upstream interface {
	// AuthCodeURL returns the upstream authorization URL for state, carrying
	// the S256 challenge of verifier.
	AuthCodeURL(state, verifier string, scopes []string) string
	// Exchange redeems an upstream authorization code.
	Exchange(ctx context.Context, code, verifier string) (*UpstreamToken, error)
	// Refresh obtains a fresh upstream token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*UpstreamToken, error)
}

// UpstreamToken is the upstream token set plus the identity read from its ID token.
// It is stored server side and never returned to agents.
type UpstreamToken struct {
	oauth.Token
	Claims oauth.IDTokenClaims `json:"claims"`
}

// UpstreamOptions configures an OAuth2Upstream.
type UpstreamOptions struct {
	Issuer                string
	ClientID              string
	ClientSecret          oauth.RedactedToken
	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURL           string
	Scopes                []string
	HTTPClient            *http.Client
}

// OAuth2Upstream implements Upstream over golang.org/x/oauth2.
type OAuth2Upstream struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewOAuth2Upstream builds an upstream client. Endpoints not set explicitly are
// discovered from the issuer through discovery, which deduplicates concurrent fetches.
func NewOAuth2Upstream(ctx context.Context, opts UpstreamOptions, discovery *oauth.Client) (*OAuth2Upstream, error) {
	if opts.ClientID == "" {
		return nil, errors.New("upstream client ID is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	authURL, tokenURL := opts.AuthorizationEndpoint, opts.TokenEndpoint
	if authURL == "" || tokenURL == "" {
		if opts.Issuer == "" {
			return nil, errors.New("upstream issuer is required when endpoints are not configured")
		}
		if discovery == nil {
			discovery = oauth.NewClient(oauth.WithHTTPClient(httpClient))
		}
		metadata, err := discovery.DiscoverMetadata(ctx, opts.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover upstream metadata: %w", err)
		}
		if !metadata.SupportsPKCE() {
			logging.Warn("Broker", "Upstream %s does not advertise S256 PKCE support", opts.Issuer)
		}
		if authURL == "" {
			authURL = metadata.AuthorizationEndpoint
		}
		if tokenURL == "" {
			tokenURL = metadata.TokenEndpoint
		}
	}

	logging.Info("Broker", "Upstream identity provider: authorize=%s token=%s", authURL, tokenURL)

	return &OAuth2Upstream{
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret.Value(),
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
			RedirectURL: opts.RedirectURL,
			Scopes:      opts.Scopes,
		},
		httpClient: httpClient,
	}, nil
}

// AuthCodeURL implements Upstream.
func (u *OAuth2Upstream) AuthCodeURL(state, verifier string, scopes []string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", oauth.JoinScope(scopes)))
	}
	return u.config.AuthCodeURL(state, opts...)
}

// Exchange implements Upstream.
func (u *OAuth2Upstream) Exchange(ctx context.Context, code, verifier string) (*UpstreamToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, u.httpClient)
	tok, err := u.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, upstreamError("code exchange", err)
	}
	return fromOAuth2Token(tok, "")
}

// Refresh implements Upstream.
func (u *OAuth2Upstream) Refresh(ctx context.Context, refreshToken string) (*UpstreamToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, u.httpClient)
	// An empty access token forces the token source to refresh.
	tok, err := u.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, upstreamError("token refresh", err)
	}
	return fromOAuth2Token(tok, refreshToken)
}

func upstreamError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return newError(ErrUpstream, "%s rejected: %s", op, re.ErrorCode)
	}
	return fmt.Errorf("%w: %s failed: %v", ErrUpstream, op, err)
}

func fromOAuth2Token(tok *oauth2.Token, previousRefresh string) (*UpstreamToken, error) {
	out := &UpstreamToken{
		Token: oauth.Token{
			AccessToken:  tok.AccessToken,
			TokenType:    tok.Type(),
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.Expiry,
		},
	}
	if out.RefreshToken == "" {
		out.RefreshToken = previousRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		out.IDToken = idToken
		claims, err := ParseIDTokenClaims(idToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		out.Claims = *claims
	}
	return out, nil
}

// ParseIDTokenClaims reads subject, email and name from an ID token without
// verifying its signature. Only use it on tokens received directly from the
// token endpoint over TLS.
func ParseIDTokenClaims(idToken string) (*oauth.IDTokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}

	out := &oauth.IDTokenClaims{}
	out.Subject, _ = claims.GetSubject()
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		out.Name = name
	} else if name, ok := claims["preferred_username"].(string); ok {
		out.Name = name
	}
	return out, nil
}
