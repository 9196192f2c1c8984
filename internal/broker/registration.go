package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcpgate/internal/tokenstore"
	"github.com/giantswarm/mcpgate/pkg/logging"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

// Register performs RFC 7591 dynamic client registration. Identical metadata
// registered again within the registration grace window yields the same
// client; its secret is only returned the first time.
func (b *Broker) Register(ctx context.Context, md oauth.ClientMetadata) (*ClientCredentials, error) {
	normalized, err := b.normalizeClientMetadata(md)
	if err != nil {
		return nil, b.fail("register", err)
	}
	fp, err := fingerprint(normalized)
	if err != nil {
		return nil, err
	}

	v, err, _ := b.registrations.Do(fp, func() (interface{}, error) {
		return b.register(ctx, fp, normalized)
	})
	if err != nil {
		return nil, err
	}
	creds := *v.(*ClientCredentials)
	return &creds, nil
}

func (b *Broker) register(ctx context.Context, fp string, md oauth.ClientMetadata) (*ClientCredentials, error) {
	now := b.now()

	if raw, err := b.store.Get(ctx, tokenstore.KindMetadata, fp); err == nil {
		client, cerr := b.Client(ctx, string(raw))
		if cerr == nil && now.Sub(client.CreatedAt) < b.cfg.RegistrationGrace {
			logging.DebugCtx(ctx, "Broker", "Returning existing registration for client %s", client.ID)
			return &ClientCredentials{
				ClientID:         client.ID,
				ClientIDIssuedAt: client.CreatedAt.Unix(),
				ClientMetadata:   client.Metadata(),
			}, nil
		}
	} else if !errors.Is(err, tokenstore.ErrNotFound) {
		return nil, err
	}

	client := &RegisteredClient{
		ID:                      uuid.NewString(),
		Name:                    md.ClientName,
		RedirectURIs:            md.RedirectURIs,
		GrantTypes:              md.GrantTypes,
		ResponseTypes:           md.ResponseTypes,
		TokenEndpointAuthMethod: md.TokenEndpointAuthMethod,
		Scope:                   md.Scope,
		CreatedAt:               now,
	}

	var secret string
	if client.Confidential() {
		var err error
		secret, err = oauth.RandomString(tokenBytes)
		if err != nil {
			return nil, err
		}
		client.SecretHash, err = bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
	}

	if err := b.putJSON(ctx, tokenstore.KindClient, client.ID, client, 0); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}
	if b.cfg.RegistrationGrace > 0 {
		if err := b.store.Put(ctx, tokenstore.KindMetadata, fp, []byte(client.ID), b.cfg.RegistrationGrace); err != nil {
			logging.WarnCtx(ctx, "Broker", "Failed to record registration fingerprint: %v", err)
		}
	}

	b.audit(ctx, "client_registered", "success", client.ID, "", client.TokenEndpointAuthMethod)

	return &ClientCredentials{
		ClientID:         client.ID,
		ClientSecret:     secret,
		ClientIDIssuedAt: now.Unix(),
		ClientMetadata:   client.Metadata(),
	}, nil
}

// autoRegister records a public client the first time an unknown client ID
// shows up at /authorize, pinning the redirect URI it presented.
func (b *Broker) autoRegister(ctx context.Context, clientID, redirectURI string) (*RegisteredClient, error) {
	if err := validateRedirectURI(redirectURI); err != nil {
		return nil, newError(ErrInvalidRedirectURI, "%v", err)
	}
	client := &RegisteredClient{
		ID:                      clientID,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: AuthMethodNone,
		AutoRegistered:          true,
		CreatedAt:               b.now(),
	}
	if err := b.putJSON(ctx, tokenstore.KindClient, client.ID, client, 0); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}
	b.audit(ctx, "client_registered", "success", client.ID, "", "auto-registered on first authorize")
	return client, nil
}

func (b *Broker) normalizeClientMetadata(md oauth.ClientMetadata) (oauth.ClientMetadata, error) {
	if len(md.RedirectURIs) == 0 {
		return md, newError(ErrInvalidClientMetadata, "redirect_uris is required")
	}
	for _, u := range md.RedirectURIs {
		if err := validateRedirectURI(u); err != nil {
			return md, newError(ErrInvalidClientMetadata, "%v", err)
		}
	}
	md.RedirectURIs = sortedUnique(md.RedirectURIs)

	switch md.TokenEndpointAuthMethod {
	case "":
		md.TokenEndpointAuthMethod = AuthMethodClientSecretBasic
	case AuthMethodNone, AuthMethodClientSecretBasic, AuthMethodClientSecretPost:
	default:
		return md, newError(ErrInvalidClientMetadata, "unsupported token_endpoint_auth_method %q", md.TokenEndpointAuthMethod)
	}

	if len(md.GrantTypes) == 0 {
		md.GrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	for _, gt := range md.GrantTypes {
		if gt != GrantTypeAuthorizationCode && gt != GrantTypeRefreshToken {
			return md, newError(ErrInvalidClientMetadata, "unsupported grant type %q", gt)
		}
	}
	md.GrantTypes = sortedUnique(md.GrantTypes)

	if len(md.ResponseTypes) == 0 {
		md.ResponseTypes = []string{"code"}
	}
	for _, rt := range md.ResponseTypes {
		if rt != "code" {
			return md, newError(ErrInvalidClientMetadata, "unsupported response type %q", rt)
		}
	}
	md.ResponseTypes = sortedUnique(md.ResponseTypes)

	if md.Scope != "" && len(b.cfg.ScopesSupported) > 0 {
		for _, s := range oauth.ParseScope(md.Scope) {
			if !slices.Contains(b.cfg.ScopesSupported, s) {
				return md, newError(ErrInvalidClientMetadata, "scope %q is not supported", s)
			}
		}
	}
	md.Scope = oauth.JoinScope(oauth.ParseScope(md.Scope))
	md.ClientName = strings.TrimSpace(md.ClientName)
	return md, nil
}

// validateRedirectURI accepts https URLs, http loopback URLs and private-use
// schemes for native clients (RFC 8252). Fragments are never allowed.
func validateRedirectURI(raw string) error {
	if raw == "" {
		return errors.New("redirect_uri is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("redirect_uri %q is not an absolute URI", raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect_uri %q must not contain a fragment", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if isLoopback(u) {
			return nil
		}
		return fmt.Errorf("redirect_uri %q must use https unless it targets a loopback address", raw)
	case "javascript", "data", "file", "vbscript":
		return fmt.Errorf("redirect_uri scheme %q is not allowed", u.Scheme)
	default:
		return nil
	}
}

func isLoopback(u *url.URL) bool {
	if !strings.EqualFold(u.Scheme, "http") {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func fingerprint(md oauth.ClientMetadata) (string, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
