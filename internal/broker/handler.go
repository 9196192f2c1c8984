package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/giantswarm/mcpgate/pkg/logging"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

const maxRequestBytes = 64 << 10

// Handler exposes the broker over HTTP.
type Handler struct {
	broker *Broker
}

// NewHandler creates a new OAuth HTTP handler.
func NewHandler(b *Broker) *Handler {
	return &Handler{broker: b}
}

// HandleAuthorize handles GET /authorize. Errors are redirected back to the
// client only once its redirect URI has been validated; otherwise an error
// page is shown.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Scopes:              oauth.ParseScope(q.Get("scope")),
		State:               q.Get("state"),
	}

	pending, err := h.broker.Authorize(r.Context(), req)
	if err != nil {
		var re *RedirectError
		if errors.As(err, &re) {
			logging.WarnCtx(r.Context(), "Broker", "Authorization request rejected for client %s: %v", req.ClientID, err)
			http.Redirect(w, r, re.Location(), http.StatusFound)
			return
		}
		code, _ := OAuthErrorCode(err)
		if code == "server_error" {
			logging.ErrorCtx(r.Context(), "Broker", err, "Authorization request failed")
		} else {
			logging.WarnCtx(r.Context(), "Broker", "Authorization request rejected: %v", err)
		}
		renderErrorPage(w, description(err))
		return
	}

	http.Redirect(w, r, pending.UpstreamURL, http.StatusFound)
}

// HandleCallback handles the upstream identity provider's redirect.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	upstreamErr := q.Get("error")
	if upstreamErr != "" {
		logging.WarnCtx(r.Context(), "Broker", "Upstream callback received error: %s - %s", upstreamErr, q.Get("error_description"))
	}

	location, err := h.broker.Callback(r.Context(), q.Get("state"), q.Get("code"), upstreamErr)
	if err != nil {
		if location == "" {
			logging.WarnCtx(r.Context(), "Broker", "Upstream callback rejected: %v", err)
			renderErrorPage(w, description(err))
			return
		}
		logging.ErrorCtx(r.Context(), "Broker", err, "Upstream authorization did not complete")
	}

	setSecurityHeaders(w)
	http.Redirect(w, r, location, http.StatusFound)
}

// HandleToken handles POST /token for the authorization_code and
// refresh_token grants.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeOAuthError(w, newError(ErrInvalidRequest, "token endpoint requires POST"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, newError(ErrInvalidRequest, "malformed form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)

	var (
		tok *IssuedToken
		err error
	)
	switch grantType := r.PostForm.Get("grant_type"); grantType {
	case GrantTypeAuthorizationCode:
		tok, err = h.broker.Exchange(r.Context(), ExchangeRequest{
			Code:         r.PostForm.Get("code"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  r.PostForm.Get("redirect_uri"),
		})
	case GrantTypeRefreshToken:
		tok, err = h.broker.Refresh(r.Context(), RefreshRequest{
			RefreshToken: r.PostForm.Get("refresh_token"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
		})
	case "":
		err = newError(ErrInvalidRequest, "grant_type is required")
	default:
		err = newError(ErrUnsupportedGrantType, "grant_type %q is not supported", grantType)
	}
	if err != nil {
		logOAuthError(r, "Token request", err)
		writeOAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tok)
}

// HandleRegister handles POST /register (RFC 7591).
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeOAuthError(w, newError(ErrInvalidRequest, "registration endpoint requires POST"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var md oauth.ClientMetadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		writeOAuthError(w, newError(ErrInvalidClientMetadata, "request body must be a JSON client metadata document"))
		return
	}

	creds, err := h.broker.Register(r.Context(), md)
	if err != nil {
		logOAuthError(r, "Client registration", err)
		writeOAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, creds)
}

// HandleRevoke handles POST /revoke (RFC 7009).
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeOAuthError(w, newError(ErrInvalidRequest, "revocation endpoint requires POST"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, newError(ErrInvalidRequest, "malformed form body"))
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		writeOAuthError(w, newError(ErrInvalidRequest, "token is required"))
		return
	}

	if err := h.broker.Revoke(r.Context(), token); err != nil {
		logging.ErrorCtx(r.Context(), "Broker", err, "Token revocation failed")
		writeOAuthError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// HandleMetadata serves the RFC 8414 discovery document.
func (h *Handler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Metadata())
}

// HandleProtectedResource serves the RFC 9728 protected resource metadata.
func (h *Handler) HandleProtectedResource(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.ProtectedResourceMetadata())
}

// clientCredentials reads client_secret_basic credentials, falling back to
// the form body (client_secret_post, or client_id alone for public clients).
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

func logOAuthError(r *http.Request, what string, err error) {
	code, status := OAuthErrorCode(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorCtx(r.Context(), "Broker", err, "%s failed", what)
		return
	}
	logging.InfoCtx(r.Context(), "Broker", "%s rejected (%s): %v", what, code, err)
}

func writeOAuthError(w http.ResponseWriter, err error) {
	code, status := OAuthErrorCode(err)
	if status == http.StatusUnauthorized && code == "invalid_client" {
		w.Header().Set("WWW-Authenticate", `Basic realm="mcpgate"`)
	}
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Broker", "Failed to write response: %v", err)
	}
}

// setSecurityHeaders sets recommended security headers for browser-facing responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

// renderErrorPage renders an HTML page for authorization failures that
// cannot be reported to the client's redirect URI.
func renderErrorPage(w http.ResponseWriter, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	safeMessage := html.EscapeString(strings.TrimSpace(message))

	page := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Failed - mcpgate</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #f4f5f7;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #1f2933;
        }
        .panel {
            max-width: 480px;
            margin: 1rem;
            padding: 2.5rem;
            background: #fff;
            border-radius: 12px;
            border-top: 4px solid #d64545;
            box-shadow: 0 4px 16px rgba(0, 0, 0, 0.08);
        }
        h1 { font-size: 1.5rem; margin-bottom: 1rem; }
        .message { color: #d64545; font-weight: 500; }
        p { line-height: 1.6; margin-top: 0.75rem; color: #52606d; }
    </style>
</head>
<body>
    <div class="panel">
        <h1>Authorization Failed</h1>
        <p class="message">%s</p>
        <p>Return to your agent and start the sign-in again.</p>
    </div>
</body>
</html>`, safeMessage)

	_, _ = w.Write([]byte(page))
}
