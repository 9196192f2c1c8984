package broker

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/mcpgate/internal/tokenstore"
	"github.com/giantswarm/mcpgate/pkg/logging"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

const (
	// tokenBytes is the entropy of issued codes, access tokens and refresh handles.
	tokenBytes = 32

	maxClientIDLength = 255
)

// Config holds the broker's policy.
type Config struct {
	// Issuer is the gateway's public base URL; endpoint URLs are derived from it.
	Issuer string
	// Resource is the protected MCP resource URL advertised in RFC 9728 metadata.
	Resource string

	AutoRegister    bool
	ScopesSupported []string
	// UpstreamScopes are requested from the upstream identity provider.
	UpstreamScopes []string

	PendingTTL        time.Duration
	CodeTTL           time.Duration
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RegistrationGrace time.Duration
	// ExpiredRetention keeps expired access tokens around so Validate can
	// tell expired from unknown. Defaults to AccessTokenTTL.
	ExpiredRetention time.Duration
}

// Observer receives broker outcomes for metrics.
type Observer interface {
	TokenIssued(grantType string)
	AuthFailure(operation, reason string)
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the clock used for every expiry decision.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(b *Broker) {
		b.observer = o
	}
}

// Broker is the authorization broker between agents and the upstream
// identity provider. Agents only ever hold broker-issued opaque tokens.
type Broker struct {
	cfg      Config
	store    tokenstore.Store
	upstream Upstream
	now      func() time.Time
	observer Observer

	registrations singleflight.Group
	dummyDigest   string
	expiries      *deadlines
}

// New creates a Broker.
func New(cfg Config, store tokenstore.Store, upstream Upstream, opts ...Option) *Broker {
	if cfg.ExpiredRetention <= 0 {
		cfg.ExpiredRetention = cfg.AccessTokenTTL
	}
	b := &Broker{
		cfg:         cfg,
		store:       store,
		upstream:    upstream,
		now:         time.Now,
		dummyDigest: digest("mcpgate-dummy-token"),
		expiries:    newDeadlines(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Authorize starts the three-party flow. It resolves (or auto-registers) the
// client, checks the redirect URI against the client's allowlist and records
// a pending authorization under a fresh upstream state.
func (b *Broker) Authorize(ctx context.Context, req AuthorizeRequest) (*PendingAuthorization, error) {
	if req.ClientID == "" || len(req.ClientID) > maxClientIDLength {
		return nil, b.fail("authorize", newError(ErrInvalidRequest, "client_id is required"))
	}

	client, err := b.Client(ctx, req.ClientID)
	switch {
	case errors.Is(err, ErrInvalidClient):
		if !b.cfg.AutoRegister {
			return nil, b.fail("authorize", err)
		}
		client, err = b.autoRegister(ctx, req.ClientID, req.RedirectURI)
		if err != nil {
			return nil, b.fail("authorize", err)
		}
	case err != nil:
		return nil, err
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" && len(client.RedirectURIs) == 1 {
		redirectURI = client.RedirectURIs[0]
	}
	if !client.AllowsRedirect(redirectURI) {
		return nil, b.fail("authorize", newError(ErrInvalidRedirectURI, "redirect_uri is not registered for this client"))
	}

	// From here on errors are reported to the client's redirect URI.
	redirectable := func(err error) error {
		return b.fail("authorize", &RedirectError{RedirectURI: redirectURI, State: req.State, Err: err})
	}
	if req.ResponseType != "code" {
		return nil, redirectable(newError(ErrUnsupportedResponseType, "response_type must be code"))
	}
	if req.CodeChallengeMethod != oauth.PKCEMethodS256 {
		return nil, redirectable(newError(ErrUnsupportedChallengeMethod, "code_challenge_method must be S256"))
	}
	if len(req.CodeChallenge) != 43 {
		return nil, redirectable(newError(ErrInvalidRequest, "code_challenge must be a base64url SHA-256 digest"))
	}
	scopes, err := b.resolveScopes(req.Scopes)
	if err != nil {
		return nil, redirectable(err)
	}

	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}
	verifier, _, err := oauth.GeneratePKCERaw()
	if err != nil {
		return nil, err
	}

	expiresAt := b.now().Add(b.cfg.PendingTTL)
	pending := pendingAuthorization{
		ClientID:            client.ID,
		RedirectURI:         redirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scopes:              scopes,
		ClientState:         req.State,
		UpstreamVerifier:    verifier,
		ExpiresAt:           expiresAt,
	}
	if err := b.putJSON(ctx, tokenstore.KindPending, state, pending, b.cfg.PendingTTL); err != nil {
		return nil, fmt.Errorf("failed to store pending authorization: %w", err)
	}

	logging.DebugCtx(ctx, "Broker", "Pending authorization for client %s expires at %s", client.ID, expiresAt.Format(time.RFC3339))

	return &PendingAuthorization{
		UpstreamURL: b.upstream.AuthCodeURL(state, verifier, b.cfg.UpstreamScopes),
		ExpiresAt:   expiresAt,
	}, nil
}

// Callback resumes a pending authorization when the upstream identity
// provider redirects back. The pending state is consumed whatever the outcome.
// A non-empty redirect URL is returned whenever the agent can be told about
// the outcome, including failures; err is then non-nil for logging.
func (b *Broker) Callback(ctx context.Context, state, code, upstreamErr string) (string, error) {
	if state == "" {
		return "", b.fail("callback", newError(ErrInvalidState, "state is required"))
	}
	var pending pendingAuthorization
	if err := b.takeJSON(ctx, tokenstore.KindPending, state, &pending); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return "", b.fail("callback", newError(ErrInvalidState, "authorization session expired"))
		}
		return "", err
	}
	if !b.now().Before(pending.ExpiresAt) {
		return "", b.fail("callback", newError(ErrInvalidState, "authorization session expired"))
	}

	if upstreamErr != "" {
		err := newError(ErrUpstream, "upstream returned %s", upstreamErr)
		return errorRedirect(pending.RedirectURI, "access_denied", "upstream authorization failed", pending.ClientState), b.fail("callback", err)
	}
	if code == "" {
		err := newError(ErrInvalidRequest, "upstream callback without code")
		return errorRedirect(pending.RedirectURI, "invalid_request", "missing upstream code", pending.ClientState), b.fail("callback", err)
	}

	upstreamToken, err := b.upstream.Exchange(ctx, code, pending.UpstreamVerifier)
	if err != nil {
		return errorRedirect(pending.RedirectURI, "temporarily_unavailable", "upstream token exchange failed", pending.ClientState), b.fail("callback", err)
	}

	upstreamRef, err := oauth.RandomString(tokenBytes)
	if err != nil {
		return "", err
	}
	if err := b.putJSON(ctx, tokenstore.KindUpstream, upstreamRef, upstreamToken, b.cfg.RefreshTokenTTL); err != nil {
		return "", fmt.Errorf("failed to store upstream token: %w", err)
	}

	authCode, err := oauth.RandomString(tokenBytes)
	if err != nil {
		return "", err
	}
	g := grant{
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		Scopes:              bindScopes(pending.Scopes, b.cfg.UpstreamScopes, upstreamToken.Scopes()),
		Subject:             upstreamToken.Claims.Subject,
		Email:               upstreamToken.Claims.Email,
		UpstreamRef:         upstreamRef,
		ExpiresAt:           b.now().Add(b.cfg.CodeTTL),
	}
	if err := b.putJSON(ctx, tokenstore.KindGrant, digest(authCode), g, b.cfg.CodeTTL); err != nil {
		return "", fmt.Errorf("failed to store authorization grant: %w", err)
	}

	logging.AuditCtx(ctx, logging.AuditEvent{
		Action:   "authorization_granted",
		Outcome:  "success",
		ClientID: g.ClientID,
		Subject:  g.Subject,
	})

	return withQuery(pending.RedirectURI, url.Values{"code": {authCode}, "state": {pending.ClientState}}), nil
}

// Exchange redeems an authorization code. The grant is taken atomically
// before any check, so a failed exchange burns it.
func (b *Broker) Exchange(ctx context.Context, req ExchangeRequest) (*IssuedToken, error) {
	if req.Code == "" || req.CodeVerifier == "" || req.ClientID == "" {
		return nil, b.fail("token", newError(ErrInvalidRequest, "code, code_verifier and client_id are required"))
	}

	var g grant
	if err := b.takeJSON(ctx, tokenstore.KindGrant, digest(req.Code), &g); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			b.audit(ctx, "code_exchange", "failure", req.ClientID, "", "unknown or reused code")
			return nil, b.fail("token", newError(ErrInvalidGrant, "authorization code is invalid or already used"))
		}
		return nil, err
	}

	switch {
	case !b.now().Before(g.ExpiresAt):
		return nil, b.fail("token", newError(ErrInvalidGrant, "authorization code expired"))
	case g.ClientID != req.ClientID:
		b.audit(ctx, "code_exchange", "failure", req.ClientID, g.Subject, "client mismatch")
		return nil, b.fail("token", newError(ErrInvalidGrant, "authorization code was issued to another client"))
	case g.RedirectURI != req.RedirectURI:
		return nil, b.fail("token", newError(ErrInvalidGrant, "redirect_uri does not match the authorization request"))
	}

	if _, err := b.authenticateClient(ctx, g.ClientID, req.ClientSecret); err != nil {
		return nil, b.fail("token", err)
	}

	if !oauth.VerifyPKCE(g.CodeChallenge, g.CodeChallengeMethod, req.CodeVerifier) {
		b.audit(ctx, "code_exchange", "failure", g.ClientID, g.Subject, "PKCE verification failed")
		return nil, b.fail("token", newError(ErrPKCEMismatch, "code_verifier does not match code_challenge"))
	}

	return b.issue(ctx, GrantTypeAuthorizationCode, g.ClientID, g.Subject, g.Email, g.Scopes, g.UpstreamRef)
}

// Refresh rotates a refresh handle. Handles are single use: the presented
// handle and its access token are invalidated before a new pair is issued.
func (b *Broker) Refresh(ctx context.Context, req RefreshRequest) (*IssuedToken, error) {
	if req.RefreshToken == "" || req.ClientID == "" {
		return nil, b.fail("token", newError(ErrInvalidRequest, "refresh_token and client_id are required"))
	}

	var rec refreshRecord
	if err := b.takeJSON(ctx, tokenstore.KindRefresh, digest(req.RefreshToken), &rec); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			b.audit(ctx, "token_refresh", "failure", req.ClientID, "", "unknown or reused refresh token")
			return nil, b.fail("token", newError(ErrInvalidGrant, "refresh token is invalid or already used"))
		}
		return nil, err
	}
	if rec.AccessDigest != "" {
		b.expiries.forget(rec.AccessDigest)
		if err := b.store.Delete(ctx, tokenstore.KindAccess, rec.AccessDigest); err != nil {
			logging.WarnCtx(ctx, "Broker", "Failed to delete rotated access token: %v", err)
		}
	}

	switch {
	case !b.now().Before(rec.ExpiresAt):
		return nil, b.fail("token", newError(ErrInvalidGrant, "refresh token expired"))
	case rec.ClientID != req.ClientID:
		b.audit(ctx, "token_refresh", "failure", req.ClientID, rec.Subject, "client mismatch")
		return nil, b.fail("token", newError(ErrInvalidGrant, "refresh token was issued to another client"))
	}
	if _, err := b.authenticateClient(ctx, rec.ClientID, req.ClientSecret); err != nil {
		return nil, b.fail("token", err)
	}
	if err := b.renewUpstream(ctx, rec.UpstreamRef); err != nil {
		return nil, b.fail("token", err)
	}

	return b.issue(ctx, GrantTypeRefreshToken, rec.ClientID, rec.Subject, rec.Email, rec.Scopes, rec.UpstreamRef)
}

// Validate resolves a bearer token. Known and unknown tokens take the same
// path: a digest lookup followed by a constant-time compare, against a dummy
// digest when nothing was found.
//
// Tokens issued by this process expire by the deadline kept in memory, which
// wall clock steps do not move. Other tokens expire by the stored wall time.
func (b *Broker) Validate(ctx context.Context, token string) (*Identity, error) {
	key := digest(token)
	raw, err := b.store.Get(ctx, tokenstore.KindAccess, key)
	if err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}

	rec := accessRecord{Digest: b.dummyDigest}
	found := err == nil
	if found {
		if jerr := json.Unmarshal(raw, &rec); jerr != nil {
			found = false
			rec.Digest = b.dummyDigest
		}
	}
	match := subtle.ConstantTimeCompare([]byte(rec.Digest), []byte(key)) == 1
	if !found || !match {
		return nil, b.fail("validate", ErrTokenUnknown)
	}
	expiresAt := rec.ExpiresAt
	if deadline, ok := b.expiries.get(key); ok {
		expiresAt = deadline
	}
	if !b.now().Before(expiresAt) {
		b.expiries.forget(key)
		return nil, b.fail("validate", ErrTokenExpired)
	}

	return &Identity{
		ClientID:  rec.ClientID,
		Subject:   rec.Subject,
		Email:     rec.Email,
		Scopes:    slices.Clone(rec.Scopes),
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Revoke invalidates an access token or refresh handle together with its
// counterpart. Unknown tokens are not an error (RFC 7009 2.2).
func (b *Broker) Revoke(ctx context.Context, token string) error {
	key := digest(token)

	var access accessRecord
	err := b.takeJSON(ctx, tokenstore.KindAccess, key, &access)
	switch {
	case err == nil:
		b.expiries.forget(key)
		if access.RefreshDigest != "" {
			if err := b.store.Delete(ctx, tokenstore.KindRefresh, access.RefreshDigest); err != nil {
				return err
			}
		}
		b.audit(ctx, "token_revoked", "success", access.ClientID, access.Subject, "access token")
		return nil
	case !errors.Is(err, tokenstore.ErrNotFound):
		return err
	}

	var refresh refreshRecord
	err = b.takeJSON(ctx, tokenstore.KindRefresh, key, &refresh)
	switch {
	case err == nil:
		if refresh.AccessDigest != "" {
			b.expiries.forget(refresh.AccessDigest)
			if err := b.store.Delete(ctx, tokenstore.KindAccess, refresh.AccessDigest); err != nil {
				return err
			}
		}
		b.audit(ctx, "token_revoked", "success", refresh.ClientID, refresh.Subject, "refresh token")
		return nil
	case errors.Is(err, tokenstore.ErrNotFound):
		return nil
	default:
		return err
	}
}

// Client returns a registered client, or ErrInvalidClient.
func (b *Broker) Client(ctx context.Context, clientID string) (*RegisteredClient, error) {
	var client RegisteredClient
	if err := b.getJSON(ctx, tokenstore.KindClient, clientID, &client); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, newError(ErrInvalidClient, "unknown client")
		}
		return nil, err
	}
	return &client, nil
}

// Metadata returns the RFC 8414 discovery document.
func (b *Broker) Metadata() oauth.Metadata {
	return oauth.Metadata{
		Issuer:                            b.cfg.Issuer,
		AuthorizationEndpoint:             b.cfg.Issuer + "/authorize",
		TokenEndpoint:                     b.cfg.Issuer + "/token",
		RegistrationEndpoint:              b.cfg.Issuer + "/register",
		RevocationEndpoint:                b.cfg.Issuer + "/revoke",
		ScopesSupported:                   slices.Clone(b.cfg.ScopesSupported),
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{AuthMethodNone, AuthMethodClientSecretBasic, AuthMethodClientSecretPost},
		CodeChallengeMethodsSupported:     []string{oauth.PKCEMethodS256},
	}
}

// ProtectedResourceMetadata returns the RFC 9728 document for the MCP endpoints.
func (b *Broker) ProtectedResourceMetadata() oauth.ProtectedResourceMetadata {
	return oauth.ProtectedResourceMetadata{
		Resource:               b.cfg.Resource,
		AuthorizationServers:   []string{b.cfg.Issuer},
		ScopesSupported:        slices.Clone(b.cfg.ScopesSupported),
		BearerMethodsSupported: []string{"header"},
	}
}

func (b *Broker) issue(ctx context.Context, grantType, clientID, subject, email string, scopes []string, upstreamRef string) (*IssuedToken, error) {
	accessToken, err := oauth.RandomString(tokenBytes)
	if err != nil {
		return nil, err
	}
	refreshToken, err := oauth.RandomString(tokenBytes)
	if err != nil {
		return nil, err
	}

	now := b.now()
	accessDigest, refreshDigest := digest(accessToken), digest(refreshToken)
	access := accessRecord{
		Digest:        accessDigest,
		ClientID:      clientID,
		Subject:       subject,
		Email:         email,
		Scopes:        scopes,
		IssuedAt:      now,
		ExpiresAt:     now.Add(b.cfg.AccessTokenTTL),
		RefreshDigest: refreshDigest,
		UpstreamRef:   upstreamRef,
	}
	refresh := refreshRecord{
		ClientID:     clientID,
		Subject:      subject,
		Email:        email,
		Scopes:       scopes,
		AccessDigest: accessDigest,
		UpstreamRef:  upstreamRef,
		ExpiresAt:    now.Add(b.cfg.RefreshTokenTTL),
	}

	if err := b.putJSON(ctx, tokenstore.KindAccess, accessDigest, access, b.cfg.AccessTokenTTL+b.cfg.ExpiredRetention); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}
	if err := b.putJSON(ctx, tokenstore.KindRefresh, refreshDigest, refresh, b.cfg.RefreshTokenTTL); err != nil {
		if derr := b.store.Delete(ctx, tokenstore.KindAccess, accessDigest); derr != nil {
			logging.ErrorCtx(ctx, "Broker", derr, "Failed to roll back access token")
		}
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	b.expiries.set(accessDigest, access.ExpiresAt, now)

	b.audit(ctx, "token_issued", "success", clientID, subject, grantType)
	if b.observer != nil {
		b.observer.TokenIssued(grantType)
	}

	return &IssuedToken{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(b.cfg.AccessTokenTTL / time.Second),
		RefreshToken: refreshToken,
		Scope:        oauth.JoinScope(scopes),
	}, nil
}

// renewUpstream refreshes the stored upstream token when it is about to
// expire. A missing upstream token ends the delegation.
func (b *Broker) renewUpstream(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	var tok UpstreamToken
	if err := b.getJSON(ctx, tokenstore.KindUpstream, ref, &tok); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return newError(ErrInvalidGrant, "upstream session ended")
		}
		return err
	}
	if tok.IsExpiredWithMargin(b.now(), oauth.DefaultExpiryMargin) {
		if tok.RefreshToken == "" {
			return newError(ErrInvalidGrant, "upstream session expired")
		}
		fresh, err := b.upstream.Refresh(ctx, tok.RefreshToken)
		if err != nil {
			logging.ErrorCtx(ctx, "Broker", err, "Upstream refresh failed")
			return newError(ErrInvalidGrant, "upstream session could not be renewed")
		}
		if fresh.Claims.Subject == "" {
			fresh.Claims = tok.Claims
		}
		tok = *fresh
	}
	return b.putJSON(ctx, tokenstore.KindUpstream, ref, tok, b.cfg.RefreshTokenTTL)
}

func (b *Broker) authenticateClient(ctx context.Context, clientID, secret string) (*RegisteredClient, error) {
	client, err := b.Client(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.Confidential() {
		return client, nil
	}
	if secret == "" || bcrypt.CompareHashAndPassword(client.SecretHash, []byte(secret)) != nil {
		b.audit(ctx, "client_authentication", "failure", clientID, "", "bad client secret")
		return nil, newError(ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}

func (b *Broker) resolveScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(b.cfg.ScopesSupported), nil
	}
	if len(b.cfg.ScopesSupported) == 0 {
		return oauth.ParseScope(oauth.JoinScope(requested)), nil
	}
	for _, s := range requested {
		if !slices.Contains(b.cfg.ScopesSupported, s) {
			return nil, newError(ErrInvalidScope, "scope %q is not supported", s)
		}
	}
	return oauth.ParseScope(oauth.JoinScope(requested)), nil
}

// bindScopes drops requested scopes that were asked of the upstream provider
// but not granted by it. Gateway-only scopes pass through.
func bindScopes(requested, askedUpstream, grantedUpstream []string) []string {
	if len(grantedUpstream) == 0 {
		return requested
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if slices.Contains(askedUpstream, s) && !slices.Contains(grantedUpstream, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (b *Broker) fail(operation string, err error) error {
	if b.observer != nil {
		code, _ := OAuthErrorCode(err)
		b.observer.AuthFailure(operation, code)
	}
	return err
}

func (b *Broker) audit(ctx context.Context, action, outcome, clientID, subject, reason string) {
	logging.AuditCtx(ctx, logging.AuditEvent{
		Action:   action,
		Outcome:  outcome,
		ClientID: clientID,
		Subject:  subject,
		Reason:   reason,
	})
}

func (b *Broker) putJSON(ctx context.Context, kind tokenstore.Kind, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.store.Put(ctx, kind, key, data, ttl)
}

func (b *Broker) getJSON(ctx context.Context, kind tokenstore.Kind, key string, v interface{}) error {
	data, err := b.store.Get(ctx, kind, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (b *Broker) takeJSON(ctx context.Context, kind tokenstore.Kind, key string, v interface{}) error {
	data, err := b.store.Take(ctx, kind, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// digest is the storage key for secrets the broker hands out; the bearer
// values themselves are never stored.
func digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func withQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range params {
		if len(vs) == 0 || vs[0] == "" {
			continue
		}
		q.Set(k, vs[0])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func errorRedirect(redirectURI, code, desc, state string) string {
	return withQuery(redirectURI, url.Values{
		"error":             {code},
		"error_description": {desc},
		"state":             {state},
	})
}

// RedirectError is an authorization error that may be reported to the
// client's (already validated) redirect URI.
type RedirectError struct {
	RedirectURI string
	State       string
	Err         error
}

func (e *RedirectError) Error() string {
	return e.Err.Error()
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

// Location returns the redirect URI carrying the RFC 6749 error parameters.
func (e *RedirectError) Location() string {
	code, _ := OAuthErrorCode(e.Err)
	if code == "unsupported_response_type" || code == "invalid_scope" {
		return errorRedirect(e.RedirectURI, code, description(e.Err), e.State)
	}
	return errorRedirect(e.RedirectURI, "invalid_request", description(e.Err), e.State)
}
