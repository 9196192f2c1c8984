package broker

import (
	"net/url"
	"slices"
	"time"

	"github.com/giantswarm/mcpgate/pkg/oauth"
)

// Grant types accepted at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Client authentication methods accepted at the token endpoint.
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
)

// AuthorizeRequest is the agent's /authorize request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
	State               string
}

// PendingAuthorization is returned from Authorize. The agent's user agent is
// redirected to UpstreamURL; the broker resumes at the callback.
type PendingAuthorization struct {
	UpstreamURL string
	ExpiresAt   time.Time
}

// ExchangeRequest is an authorization_code token request.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// RefreshRequest is a refresh_token token request.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// IssuedToken is the token endpoint response body.
type IssuedToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Identity is the caller resolved from a valid delegated token.
type Identity struct {
	ClientID  string
	Subject   string
	Email     string
	Scopes    []string
	ExpiresAt time.Time
}

// Owner is the identity string sessions are bound to.
func (i *Identity) Owner() string {
	if i.Subject != "" {
		return i.Subject
	}
	return "client:" + i.ClientID
}

// HasScope reports whether the identity was granted scope.
func (i *Identity) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// RegisteredClient is a client known to the broker. Secrets are only kept
// as bcrypt hashes.
type RegisteredClient struct {
	ID                      string    `json:"client_id"`
	SecretHash              []byte    `json:"secret_hash,omitempty"`
	Name                    string    `json:"client_name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	Scope                   string    `json:"scope,omitempty"`
	AutoRegistered          bool      `json:"auto_registered,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// Confidential reports whether the client must authenticate at the token endpoint.
func (c *RegisteredClient) Confidential() bool {
	return c.TokenEndpointAuthMethod != AuthMethodNone
}

// AllowsRedirect reports whether uri is in the client's allowlist. Comparison
// is exact except for loopback redirects, where the port may vary (RFC 8252 7.3).
func (c *RegisteredClient) AllowsRedirect(uri string) bool {
	if slices.Contains(c.RedirectURIs, uri) {
		return true
	}
	got, err := url.Parse(uri)
	if err != nil || !isLoopback(got) {
		return false
	}
	for _, registered := range c.RedirectURIs {
		want, err := url.Parse(registered)
		if err != nil || !isLoopback(want) {
			continue
		}
		if want.Scheme == got.Scheme && want.Hostname() == got.Hostname() &&
			want.Path == got.Path && want.RawQuery == got.RawQuery {
			return true
		}
	}
	return false
}

// Metadata renders the client as an RFC 7591 metadata document.
func (c *RegisteredClient) Metadata() oauth.ClientMetadata {
	return oauth.ClientMetadata{
		ClientName:              c.Name,
		RedirectURIs:            slices.Clone(c.RedirectURIs),
		GrantTypes:              slices.Clone(c.GrantTypes),
		ResponseTypes:           slices.Clone(c.ResponseTypes),
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		Scope:                   c.Scope,
	}
}

// ClientCredentials is the registration endpoint response body.
type ClientCredentials struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`
	oauth.ClientMetadata
}

// pendingAuthorization is stored between /authorize and the upstream callback,
// keyed by the upstream state.
type pendingAuthorization struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Scopes              []string  `json:"scopes"`
	ClientState         string    `json:"client_state,omitempty"`
	UpstreamVerifier    string    `json:"upstream_verifier"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// grant is a single-use authorization grant keyed by the digest of its code.
type grant struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Scopes              []string  `json:"scopes"`
	Subject             string    `json:"subject,omitempty"`
	Email               string    `json:"email,omitempty"`
	UpstreamRef         string    `json:"upstream_ref"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// accessRecord is a delegated token, keyed by the digest of the bearer value.
type accessRecord struct {
	Digest        string    `json:"digest"`
	ClientID      string    `json:"client_id"`
	Subject       string    `json:"subject,omitempty"`
	Email         string    `json:"email,omitempty"`
	Scopes        []string  `json:"scopes"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	RefreshDigest string    `json:"refresh_digest,omitempty"`
	UpstreamRef   string    `json:"upstream_ref,omitempty"`
}

// refreshRecord is a refresh handle, keyed by its digest.
type refreshRecord struct {
	ClientID     string    `json:"client_id"`
	Subject      string    `json:"subject,omitempty"`
	Email        string    `json:"email,omitempty"`
	Scopes       []string  `json:"scopes"`
	AccessDigest string    `json:"access_digest"`
	UpstreamRef  string    `json:"upstream_ref,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}
