package mock

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/mcpgate/pkg/oauth"
)

// IdPConfig configures the mock upstream identity provider.
type IdPConfig struct {
	ClientID     string
	ClientSecret string

	// Identity placed in issued ID tokens.
	Subject string
	Email   string
	Name    string

	// GrantedScope is echoed in token responses. Empty echoes the requested scope.
	GrantedScope  string
	TokenLifetime time.Duration
	OmitIDToken   bool

	// Clock drives token expiry; defaults to the real time.
	Clock func() time.Time
}

type idpCode struct {
	clientID      string
	redirectURI   string
	scope         string
	codeChallenge string
	method        string
}

// IdP is an in-process OAuth 2.0 / OIDC provider for tests. It serves
// discovery, /authorize and /token on an httptest server and issues unsigned
// ID tokens (alg "none").
type IdP struct {
	cfg    IdPConfig
	server *httptest.Server

	mu            sync.Mutex
	codes         map[string]idpCode
	refreshTokens map[string]string // refresh token -> scope
	denyWith      string
	tokenError    string
	exchanges     int
	refreshes     int
}

// NewIdP starts a mock identity provider. Call Close when done.
func NewIdP(cfg IdPConfig) *IdP {
	if cfg.ClientID == "" {
		cfg.ClientID = "gateway"
	}
	if cfg.Subject == "" {
		cfg.Subject = "user-123"
	}
	if cfg.Email == "" {
		cfg.Email = "user@example.com"
	}
	if cfg.TokenLifetime == 0 {
		cfg.TokenLifetime = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	idp := &IdP{
		cfg:           cfg,
		codes:         make(map[string]idpCode),
		refreshTokens: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleMetadata)
	mux.HandleFunc("/authorize", idp.handleAuthorize)
	mux.HandleFunc("/token", idp.handleToken)
	idp.server = httptest.NewServer(mux)
	return idp
}

// Issuer returns the provider's issuer URL.
func (p *IdP) Issuer() string {
	return p.server.URL
}

// ClientID returns the client ID the gateway must use.
func (p *IdP) ClientID() string {
	return p.cfg.ClientID
}

// Close shuts the provider down.
func (p *IdP) Close() {
	p.server.Close()
}

// DenyNext makes the next authorization redirect back with error code.
func (p *IdP) DenyNext(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyWith = code
}

// FailTokenRequests makes the token endpoint answer with the given OAuth error
// code. An empty code restores normal behavior.
func (p *IdP) FailTokenRequests(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = code
}

// Exchanges returns the number of successful code exchanges.
func (p *IdP) Exchanges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchanges
}

// Refreshes returns the number of successful refresh grants.
func (p *IdP) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Approve plays the user's browser: it follows an upstream authorization URL
// and returns the callback URL the provider redirects to.
func (p *IdP) Approve(authorizeURL string) (*url.URL, error) {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authorizeURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("authorize returned status %d", resp.StatusCode)
	}
	return url.Parse(resp.Header.Get("Location"))
}

func (p *IdP) handleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, oauth.Metadata{
		Issuer:                        p.server.URL,
		AuthorizationEndpoint:         p.server.URL + "/authorize",
		TokenEndpoint:                 p.server.URL + "/token",
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		ScopesSupported:               []string{"openid", "profile", "email"},
		CodeChallengeMethodsSupported: []string{oauth.PKCEMethodS256},
	})
}

func (p *IdP) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != p.cfg.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if q.Get("response_type") != "code" || q.Get("code_challenge") == "" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	params := target.Query()
	params.Set("state", q.Get("state"))

	p.mu.Lock()
	deny := p.denyWith
	p.denyWith = ""
	if deny == "" {
		code := randomToken()
		p.codes[code] = idpCode{
			clientID:      q.Get("client_id"),
			redirectURI:   redirectURI,
			scope:         q.Get("scope"),
			codeChallenge: q.Get("code_challenge"),
			method:        q.Get("code_challenge_method"),
		}
		params.Set("code", code)
	} else {
		params.Set("error", deny)
	}
	p.mu.Unlock()

	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *IdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request")
		return
	}
	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if clientID != p.cfg.ClientID || (p.cfg.ClientSecret != "" && secret != p.cfg.ClientSecret) {
		tokenError(w, "invalid_client")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tokenError != "" {
		tokenError(w, p.tokenError)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		entry, ok := p.codes[code]
		delete(p.codes, code)
		if !ok || entry.redirectURI != r.PostForm.Get("redirect_uri") {
			tokenError(w, "invalid_grant")
			return
		}
		if err := verifyChallenge(entry.codeChallenge, entry.method, r.PostForm.Get("code_verifier")); err != nil {
			tokenError(w, "invalid_grant")
			return
		}
		p.exchanges++
		p.writeTokens(w, entry.scope)
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		scope, ok := p.refreshTokens[rt]
		delete(p.refreshTokens, rt)
		if !ok {
			tokenError(w, "invalid_grant")
			return
		}
		p.refreshes++
		p.writeTokens(w, scope)
	default:
		tokenError(w, "unsupported_grant_type")
	}
}

// writeTokens must be called with p.mu held.
func (p *IdP) writeTokens(w http.ResponseWriter, requestedScope string) {
	scope := p.cfg.GrantedScope
	if scope == "" {
		scope = requestedScope
	}
	refresh := randomToken()
	p.refreshTokens[refresh] = scope

	body := map[string]interface{}{
		"access_token":  randomToken(),
		"token_type":    "Bearer",
		"expires_in":    int(p.cfg.TokenLifetime.Seconds()),
		"refresh_token": refresh,
		"scope":         scope,
	}
	if !p.cfg.OmitIDToken {
		body["id_token"] = p.idToken()
	}
	writeJSON(w, http.StatusOK, body)
}

// idToken issues an unsigned ID token. Never accept alg "none" outside tests.
func (p *IdP) idToken() string {
	now := p.cfg.Clock()
	claims := jwt.MapClaims{
		"iss":   p.server.URL,
		"sub":   p.cfg.Subject,
		"aud":   p.cfg.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(p.cfg.TokenLifetime).Unix(),
		"email": p.cfg.Email,
	}
	if p.cfg.Name != "" {
		claims["name"] = p.cfg.Name
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic(fmt.Errorf("failed to build ID token: %w", err))
	}
	return signed
}

func verifyChallenge(challenge, method, verifier string) error {
	if method != oauth.PKCEMethodS256 {
		return errors.New("unsupported challenge method")
	}
	sum := sha256.Sum256([]byte(verifier))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
		return errors.New("verifier mismatch")
	}
	return nil
}

func tokenError(w http.ResponseWriter, code string) {
	status := http.StatusBadRequest
	if code == "invalid_client" {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{"error": code, "error_description": strings.ReplaceAll(code, "_", " ")})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomToken() string {
	s, err := oauth.RandomString(32)
	if err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return s
}
