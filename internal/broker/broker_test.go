package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcpgate/internal/testing/mock"
	"github.com/giantswarm/mcpgate/internal/tokenstore"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

const (
	testRedirect = "http://127.0.0.1:33418/callback"
	testClientID = "agent-cli"
)

type fixture struct {
	broker *Broker
	idp    *mock.IdP
	clock  *mock.Clock
	store  *tokenstore.MemoryStore
}

func testConfig() Config {
	return Config{
		Issuer:            "https://gw.example.com",
		Resource:          "https://gw.example.com/mcp",
		AutoRegister:      true,
		ScopesSupported:   []string{"openid", "profile", "email", "tools:call"},
		UpstreamScopes:    []string{"openid", "profile", "email"},
		PendingTTL:        10 * time.Minute,
		CodeTTL:           time.Minute,
		AccessTokenTTL:    time.Hour,
		RefreshTokenTTL:   24 * time.Hour,
		RegistrationGrace: 5 * time.Minute,
	}
}

func newFixture(t *testing.T, idpCfg mock.IdPConfig, mutate func(*Config)) *fixture {
	t.Helper()

	clock := mock.NewClock(time.Now())
	if idpCfg.Clock == nil {
		idpCfg.Clock = clock.Now
	}
	idp := mock.NewIdP(idpCfg)
	t.Cleanup(idp.Close)

	upstream, err := NewOAuth2Upstream(context.Background(), UpstreamOptions{
		Issuer:       idp.Issuer(),
		ClientID:     idp.ClientID(),
		ClientSecret: oauth.NewRedactedToken(idpCfg.ClientSecret),
		RedirectURL:  "https://gw.example.com/oauth-callback",
		Scopes:       []string{"openid", "profile", "email"},
	}, nil)
	require.NoError(t, err)

	store := tokenstore.NewMemoryStore(tokenstore.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	return &fixture{
		broker: New(cfg, store, upstream, WithClock(clock.Now)),
		idp:    idp,
		clock:  clock,
		store:  store,
	}
}

// authorize drives /authorize, the upstream approval and the callback, and
// returns the code handed to the agent with the verifier that redeems it.
func (f *fixture) authorize(t *testing.T, clientID, redirectURI string) (code, verifier string) {
	t.Helper()
	ctx := context.Background()

	verifier, challenge, err := oauth.GeneratePKCERaw()
	require.NoError(t, err)

	pending, err := f.broker.Authorize(ctx, AuthorizeRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		ResponseType:        "code",
		CodeChallenge:       challenge,
		CodeChallengeMethod: oauth.PKCEMethodS256,
		State:               "agent-state",
	})
	require.NoError(t, err)

	callback, err := f.idp.Approve(pending.UpstreamURL)
	require.NoError(t, err)
	q := callback.Query()

	location, err := f.broker.Callback(ctx, q.Get("state"), q.Get("code"), q.Get("error"))
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(location, redirectURI+"?"), location)
	u, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, "agent-state", u.Query().Get("state"))
	code = u.Query().Get("code")
	require.NotEmpty(t, code)
	return code, verifier
}

func (f *fixture) token(t *testing.T) *IssuedToken {
	t.Helper()
	code, verifier := f.authorize(t, testClientID, testRedirect)
	tok, err := f.broker.Exchange(context.Background(), ExchangeRequest{
		Code:         code,
		CodeVerifier: verifier,
		ClientID:     testClientID,
		RedirectURI:  testRedirect,
	})
	require.NoError(t, err)
	return tok
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{Subject: "alice", Email: "alice@example.com"}, nil)

	tok := f.token(t)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, int64(3600), tok.ExpiresIn)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.Equal(t, "email openid profile tools:call", tok.Scope)
	assert.Equal(t, 1, f.idp.Exchanges())

	id, err := f.broker.Validate(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, testClientID, id.ClientID)
	assert.True(t, id.HasScope("tools:call"))
	assert.Equal(t, "alice", id.Owner())
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	code, verifier := f.authorize(t, testClientID, testRedirect)

	req := ExchangeRequest{Code: code, CodeVerifier: verifier, ClientID: testClientID, RedirectURI: testRedirect}
	_, err := f.broker.Exchange(ctx, req)
	require.NoError(t, err)

	_, err = f.broker.Exchange(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangePKCEMismatchBurnsGrant(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	code, verifier := f.authorize(t, testClientID, testRedirect)

	wrong, _, err := oauth.GeneratePKCERaw()
	require.NoError(t, err)

	_, err = f.broker.Exchange(ctx, ExchangeRequest{Code: code, CodeVerifier: wrong, ClientID: testClientID, RedirectURI: testRedirect})
	require.ErrorIs(t, err, ErrPKCEMismatch)
	codeStr, status := OAuthErrorCode(err)
	assert.Equal(t, "invalid_grant", codeStr)
	assert.Equal(t, 400, status)

	_, err = f.broker.Exchange(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier, ClientID: testClientID, RedirectURI: testRedirect})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ExchangeRequest, *fixture)
		wantErr error
	}{
		{
			name:    "expired code",
			mutate:  func(_ *ExchangeRequest, f *fixture) { f.clock.Advance(2 * time.Minute) },
			wantErr: ErrInvalidGrant,
		},
		{
			name:    "other client",
			mutate:  func(r *ExchangeRequest, _ *fixture) { r.ClientID = "someone-else" },
			wantErr: ErrInvalidGrant,
		},
		{
			name:    "different redirect",
			mutate:  func(r *ExchangeRequest, _ *fixture) { r.RedirectURI = "http://127.0.0.1:1/other" },
			wantErr: ErrInvalidGrant,
		},
		{
			name:    "missing verifier",
			mutate:  func(r *ExchangeRequest, _ *fixture) { r.CodeVerifier = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown code",
			mutate:  func(r *ExchangeRequest, _ *fixture) { r.Code = "not-a-code" },
			wantErr: ErrInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, mock.IdPConfig{}, nil)
			code, verifier := f.authorize(t, testClientID, testRedirect)
			req := ExchangeRequest{Code: code, CodeVerifier: verifier, ClientID: testClientID, RedirectURI: testRedirect}
			tt.mutate(&req, f)

			tok, err := f.broker.Exchange(context.Background(), req)
			assert.Nil(t, tok)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthorizeValidation(t *testing.T) {
	_, challenge, err := oauth.GeneratePKCERaw()
	require.NoError(t, err)

	valid := AuthorizeRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirect,
		ResponseType:        "code",
		CodeChallenge:       challenge,
		CodeChallengeMethod: oauth.PKCEMethodS256,
		State:               "s1",
	}

	tests := []struct {
		name       string
		mutate     func(*AuthorizeRequest)
		wantErr    error
		redirected bool
	}{
		{"plain challenge", func(r *AuthorizeRequest) { r.CodeChallengeMethod = "plain" }, ErrUnsupportedChallengeMethod, true},
		{"missing challenge", func(r *AuthorizeRequest) { r.CodeChallenge = "" }, ErrInvalidRequest, true},
		{"token response type", func(r *AuthorizeRequest) { r.ResponseType = "token" }, ErrUnsupportedResponseType, true},
		{"unknown scope", func(r *AuthorizeRequest) { r.Scopes = []string{"admin"} }, ErrInvalidScope, true},
		{"missing client", func(r *AuthorizeRequest) { r.ClientID = "" }, ErrInvalidRequest, false},
		{"non-loopback http redirect", func(r *AuthorizeRequest) { r.RedirectURI = "http://evil.example.com/cb" }, ErrInvalidRedirectURI, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, mock.IdPConfig{}, nil)
			req := valid
			tt.mutate(&req)

			_, err := f.broker.Authorize(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)

			var re *RedirectError
			assert.Equal(t, tt.redirected, errors.As(err, &re))
			if tt.redirected {
				u, perr := url.Parse(re.Location())
				require.NoError(t, perr)
				assert.NotEmpty(t, u.Query().Get("error"))
				assert.Equal(t, "s1", u.Query().Get("state"))
			}
		})
	}
}

func TestAuthorizeRegisteredClientRedirectAllowlist(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()

	creds, err := f.broker.Register(ctx, oauth.ClientMetadata{
		RedirectURIs:            []string{"https://app.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodNone,
	})
	require.NoError(t, err)

	_, challenge, err := oauth.GeneratePKCERaw()
	require.NoError(t, err)
	_, err = f.broker.Authorize(ctx, AuthorizeRequest{
		ClientID:            creds.ClientID,
		RedirectURI:         "https://attacker.example.com/cb",
		ResponseType:        "code",
		CodeChallenge:       challenge,
		CodeChallengeMethod: oauth.PKCEMethodS256,
	})
	assert.ErrorIs(t, err, ErrInvalidRedirectURI)

	// A single registered redirect is used when none is given.
	pending, err := f.broker.Authorize(ctx, AuthorizeRequest{
		ClientID:            creds.ClientID,
		ResponseType:        "code",
		CodeChallenge:       challenge,
		CodeChallengeMethod: oauth.PKCEMethodS256,
	})
	require.NoError(t, err)
	assert.Contains(t, pending.UpstreamURL, f.idp.Issuer())
}

func TestAuthorizeAutoRegistersPresentedClientID(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	_, challenge, err := oauth.GeneratePKCERaw()
	require.NoError(t, err)

	req := AuthorizeRequest{
		ClientID:            "fresh-agent",
		RedirectURI:         testRedirect,
		ResponseType:        "code",
		CodeChallenge:       challenge,
		CodeChallengeMethod: oauth.PKCEMethodS256,
	}
	_, err = f.broker.Authorize(ctx, req)
	require.NoError(t, err)

	// The agent keeps the ID it presented; its first redirect URI is pinned.
	client, err := f.broker.Client(ctx, "fresh-agent")
	require.NoError(t, err)
	assert.Equal(t, "fresh-agent", client.ID)
	assert.True(t, client.AutoRegistered)
	assert.Equal(t, []string{testRedirect}, client.RedirectURIs)
	assert.Equal(t, AuthMethodNone, client.TokenEndpointAuthMethod)

	req.RedirectURI = "http://127.0.0.1:9999/elsewhere"
	_, err = f.broker.Authorize(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRedirectURI)
}

func TestAuthorizeWithoutAutoRegister(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, func(c *Config) { c.AutoRegister = false })
	_, challenge, err := oauth.GeneratePKCERaw()
	require.NoError(t, err)

	_, err = f.broker.Authorize(context.Background(), AuthorizeRequest{
		ClientID:            "stranger",
		RedirectURI:         testRedirect,
		ResponseType:        "code",
		CodeChallenge:       challenge,
		CodeChallengeMethod: oauth.PKCEMethodS256,
	})
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestCallbackFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown state", func(t *testing.T) {
		f := newFixture(t, mock.IdPConfig{}, nil)
		location, err := f.broker.Callback(ctx, "bogus", "code", "")
		assert.Empty(t, location)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("upstream denied", func(t *testing.T) {
		f := newFixture(t, mock.IdPConfig{}, nil)
		f.idp.DenyNext("access_denied")

		_, challenge, err := oauth.GeneratePKCERaw()
		require.NoError(t, err)
		pending, err := f.broker.Authorize(ctx, AuthorizeRequest{
			ClientID: testClientID, RedirectURI: testRedirect, ResponseType: "code",
			CodeChallenge: challenge, CodeChallengeMethod: oauth.PKCEMethodS256, State: "xyz",
		})
		require.NoError(t, err)
		cb, err := f.idp.Approve(pending.UpstreamURL)
		require.NoError(t, err)

		location, err := f.broker.Callback(ctx, cb.Query().Get("state"), cb.Query().Get("code"), cb.Query().Get("error"))
		assert.ErrorIs(t, err, ErrUpstream)
		u, perr := url.Parse(location)
		require.NoError(t, perr)
		assert.Equal(t, "access_denied", u.Query().Get("error"))
		assert.Equal(t, "xyz", u.Query().Get("state"))
		assert.Empty(t, u.Query().Get("code"))

		// The pending state was consumed.
		_, err = f.broker.Callback(ctx, cb.Query().Get("state"), "code", "")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("upstream token error", func(t *testing.T) {
		f := newFixture(t, mock.IdPConfig{}, nil)
		_, challenge, err := oauth.GeneratePKCERaw()
		require.NoError(t, err)
		pending, err := f.broker.Authorize(ctx, AuthorizeRequest{
			ClientID: testClientID, RedirectURI: testRedirect, ResponseType: "code",
			CodeChallenge: challenge, CodeChallengeMethod: oauth.PKCEMethodS256,
		})
		require.NoError(t, err)
		cb, err := f.idp.Approve(pending.UpstreamURL)
		require.NoError(t, err)

		f.idp.FailTokenRequests("server_error")
		location, err := f.broker.Callback(ctx, cb.Query().Get("state"), cb.Query().Get("code"), "")
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Contains(t, location, "error=temporarily_unavailable")
	})

	t.Run("expired pending authorization", func(t *testing.T) {
		f := newFixture(t, mock.IdPConfig{}, nil)
		_, challenge, err := oauth.GeneratePKCERaw()
		require.NoError(t, err)
		pending, err := f.broker.Authorize(ctx, AuthorizeRequest{
			ClientID: testClientID, RedirectURI: testRedirect, ResponseType: "code",
			CodeChallenge: challenge, CodeChallengeMethod: oauth.PKCEMethodS256,
		})
		require.NoError(t, err)
		cb, err := f.idp.Approve(pending.UpstreamURL)
		require.NoError(t, err)

		f.clock.Advance(11 * time.Minute)
		location, err := f.broker.Callback(ctx, cb.Query().Get("state"), cb.Query().Get("code"), "")
		assert.Empty(t, location)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestValidateExpiredAndUnknown(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	tok := f.token(t)

	_, err := f.broker.Validate(ctx, "never-issued")
	require.ErrorIs(t, err, ErrTokenUnknown)
	assert.True(t, IsUnauthorized(err))

	f.clock.Advance(time.Hour)
	_, err = f.broker.Validate(ctx, tok.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsUnauthorized(err))

	expiredCode, expiredStatus := OAuthErrorCode(ErrTokenExpired)
	unknownCode, unknownStatus := OAuthErrorCode(ErrTokenUnknown)
	assert.Equal(t, expiredCode, unknownCode)
	assert.Equal(t, expiredStatus, unknownStatus)
}

func TestValidateUsesInProcessDeadline(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	tok := f.token(t)
	key := digest(tok.AccessToken)

	// The stored wall time no longer decides for a token this broker issued,
	// even when it says the token is still good.
	var rec accessRecord
	require.NoError(t, f.broker.getJSON(ctx, tokenstore.KindAccess, key, &rec))
	rec.ExpiresAt = rec.ExpiresAt.Add(24 * time.Hour)
	require.NoError(t, f.broker.putJSON(ctx, tokenstore.KindAccess, key, rec, 48*time.Hour))
	assert.Equal(t, 1, f.broker.expiries.len())

	f.clock.Advance(59 * time.Minute)
	_, err := f.broker.Validate(ctx, tok.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.broker.Validate(ctx, tok.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, 0, f.broker.expiries.len())
}

func TestValidateFallsBackToStoredExpiry(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	tok := f.token(t)

	// A second broker on the same store never issued the token.
	other := New(testConfig(), f.store, nil, WithClock(f.clock.Now))
	id, err := other.Validate(ctx, tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testClientID, id.ClientID)
	assert.Equal(t, 0, other.expiries.len())

	f.clock.Advance(time.Hour)
	_, err = other.Validate(ctx, tok.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRevokeAndRefreshForgetDeadlines(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()

	first := f.token(t)
	rotated, err := f.broker.Refresh(ctx, RefreshRequest{RefreshToken: first.RefreshToken, ClientID: testClientID})
	require.NoError(t, err)
	_, ok := f.broker.expiries.get(digest(first.AccessToken))
	assert.False(t, ok)
	assert.Equal(t, 1, f.broker.expiries.len())

	require.NoError(t, f.broker.Revoke(ctx, rotated.AccessToken))
	assert.Equal(t, 0, f.broker.expiries.len())
}

func TestRefreshRotatesHandle(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	first := f.token(t)

	second, err := f.broker.Refresh(ctx, RefreshRequest{RefreshToken: first.RefreshToken, ClientID: testClientID})
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.Scope, second.Scope)

	_, err = f.broker.Validate(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrTokenUnknown)
	_, err = f.broker.Validate(ctx, second.AccessToken)
	assert.NoError(t, err)

	_, err = f.broker.Refresh(ctx, RefreshRequest{RefreshToken: first.RefreshToken, ClientID: testClientID})
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.Zero(t, f.idp.Refreshes())
}

func TestRefreshRenewsExpiredUpstreamToken(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	tok := f.token(t)

	f.clock.Advance(2 * time.Hour)
	_, err := f.broker.Refresh(ctx, RefreshRequest{RefreshToken: tok.RefreshToken, ClientID: testClientID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.idp.Refreshes())
}

func TestRefreshFailsWhenUpstreamRefuses(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()
	tok := f.token(t)

	f.clock.Advance(2 * time.Hour)
	f.idp.FailTokenRequests("invalid_grant")
	_, err := f.broker.Refresh(ctx, RefreshRequest{RefreshToken: tok.RefreshToken, ClientID: testClientID})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefreshClientMismatch(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	tok := f.token(t)

	_, err := f.broker.Refresh(context.Background(), RefreshRequest{RefreshToken: tok.RefreshToken, ClientID: "other"})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("access token", func(t *testing.T) {
		f := newFixture(t, mock.IdPConfig{}, nil)
		tok := f.token(t)

		require.NoError(t, f.broker.Revoke(ctx, tok.AccessToken))
		_, err := f.broker.Validate(ctx, tok.AccessToken)
		assert.ErrorIs(t, err, ErrTokenUnknown)
		_, err = f.broker.Refresh(ctx, RefreshRequest{RefreshToken: tok.RefreshToken, ClientID: testClientID})
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("refresh token", func(t *testing.T) {
		f := newFixture(t, mock.IdPConfig{}, nil)
		tok := f.token(t)

		require.NoError(t, f.broker.Revoke(ctx, tok.RefreshToken))
		_, err := f.broker.Validate(ctx, tok.AccessToken)
		assert.ErrorIs(t, err, ErrTokenUnknown)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t, mock.IdPConfig{}, nil)
		assert.NoError(t, f.broker.Revoke(ctx, "whatever"))
	})
}

func TestScopesBoundToUpstreamGrant(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{GrantedScope: "openid email"}, nil)
	tok := f.token(t)
	assert.Equal(t, "email openid tools:call", tok.Scope)
}

func TestIdentityWithoutIDToken(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{OmitIDToken: true}, nil)
	tok := f.token(t)

	id, err := f.broker.Validate(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, id.Subject)
	assert.Equal(t, "client:"+testClientID, id.Owner())
}

func TestConfidentialClientAuthentication(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)
	ctx := context.Background()

	creds, err := f.broker.Register(ctx, oauth.ClientMetadata{
		ClientName:   "backend agent",
		RedirectURIs: []string{"https://agent.example.com/cb"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, creds.ClientSecret)
	assert.Equal(t, AuthMethodClientSecretBasic, creds.TokenEndpointAuthMethod)

	code, verifier := f.authorize(t, creds.ClientID, "https://agent.example.com/cb")
	_, err = f.broker.Exchange(ctx, ExchangeRequest{
		Code: code, CodeVerifier: verifier, ClientID: creds.ClientID,
		ClientSecret: "wrong", RedirectURI: "https://agent.example.com/cb",
	})
	assert.ErrorIs(t, err, ErrInvalidClient)

	code, verifier = f.authorize(t, creds.ClientID, "https://agent.example.com/cb")
	tok, err := f.broker.Exchange(ctx, ExchangeRequest{
		Code: code, CodeVerifier: verifier, ClientID: creds.ClientID,
		ClientSecret: creds.ClientSecret, RedirectURI: "https://agent.example.com/cb",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
}

func TestMetadataDocuments(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{}, nil)

	md := f.broker.Metadata()
	assert.Equal(t, "https://gw.example.com", md.Issuer)
	assert.Equal(t, "https://gw.example.com/authorize", md.AuthorizationEndpoint)
	assert.Equal(t, "https://gw.example.com/token", md.TokenEndpoint)
	assert.Equal(t, "https://gw.example.com/register", md.RegistrationEndpoint)
	assert.Equal(t, "https://gw.example.com/revoke", md.RevocationEndpoint)
	assert.Equal(t, []string{"S256"}, md.CodeChallengeMethodsSupported)

	prm := f.broker.ProtectedResourceMetadata()
	assert.Equal(t, "https://gw.example.com/mcp", prm.Resource)
	assert.Equal(t, []string{"https://gw.example.com"}, prm.AuthorizationServers)
}

func TestBindScopes(t *testing.T) {
	asked := []string{"openid", "profile", "email"}
	tests := []struct {
		name      string
		requested []string
		granted   []string
		want      []string
	}{
		{"nothing echoed", []string{"openid", "tools:call"}, nil, []string{"openid", "tools:call"}},
		{"partial grant", []string{"email", "profile", "tools:call"}, []string{"email"}, []string{"email", "tools:call"}},
		{"full grant", []string{"openid"}, []string{"openid", "profile"}, []string{"openid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bindScopes(tt.requested, asked, tt.granted))
		})
	}
}

func TestAllowsRedirect(t *testing.T) {
	c := &RegisteredClient{RedirectURIs: []string{"http://127.0.0.1:8080/cb", "https://app.example.com/cb"}}

	assert.True(t, c.AllowsRedirect("https://app.example.com/cb"))
	assert.True(t, c.AllowsRedirect("http://127.0.0.1:51234/cb"), "loopback port may vary")
	assert.False(t, c.AllowsRedirect("http://127.0.0.1:51234/other"))
	assert.False(t, c.AllowsRedirect("https://app.example.com/cb2"))
	assert.False(t, c.AllowsRedirect(""))
}

func TestParseIDTokenClaims(t *testing.T) {
	// {"alg":"none","typ":"JWT"} . {"sub":"u1","email":"u1@example.com","preferred_username":"u-one"}
	token := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
		"eyJzdWIiOiJ1MSIsImVtYWlsIjoidTFAZXhhbXBsZS5jb20iLCJwcmVmZXJyZWRfdXNlcm5hbWUiOiJ1LW9uZSJ9."

	claims, err := ParseIDTokenClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.Equal(t, "u-one", claims.Name)

	_, err = ParseIDTokenClaims("not-a-jwt")
	assert.Error(t, err)
}

func TestConfidentialUpstreamClient(t *testing.T) {
	f := newFixture(t, mock.IdPConfig{ClientSecret: "upstream-secret"}, nil)
	tok := f.token(t)
	assert.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, 1, f.idp.Exchanges())

	opts := UpstreamOptions{ClientID: "gw", ClientSecret: oauth.NewRedactedToken("upstream-secret")}
	assert.NotContains(t, fmt.Sprintf("%+v", opts), "upstream-secret")
}

func TestNewOAuth2UpstreamRequiresEndpoints(t *testing.T) {
	_, err := NewOAuth2Upstream(context.Background(), UpstreamOptions{ClientID: "x"}, nil)
	assert.Error(t, err)

	_, err = NewOAuth2Upstream(context.Background(), UpstreamOptions{
		ClientID:              "x",
		AuthorizationEndpoint: "https://idp.example.com/authorize",
		TokenEndpoint:         "https://idp.example.com/token",
	}, nil)
	assert.NoError(t, err)
}
