package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/giantswarm/mcpgate/internal/broker"
	"github.com/giantswarm/mcpgate/internal/dispatcher"
	"github.com/giantswarm/mcpgate/pkg/logging"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

// handleMessage accepts one JSON-RPC message for a session. Accepted messages
// get 202 and are answered on the stream.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("sessionId")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "message too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read message")
		return
	}

	token := bearerToken(r)
	rej, err := s.dispatcher.Handle(ctx, sessionID, token, body)
	if err != nil {
		logging.ErrorCtx(ctx, "Gateway", err, "Failed to handle message for session %s", logging.TruncateSessionID(sessionID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rej != nil {
		s.writeRejection(w, token, rej)
		return
	}

	_ = s.sessions.Touch(sessionID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
}

func (s *Server) writeRejection(w http.ResponseWriter, token string, rej *dispatcher.Rejection) {
	if s.observer != nil {
		s.observer.MessageRejected(rej.Status)
	}
	switch rej.Status {
	case http.StatusUnauthorized:
		s.setChallenge(w, token != "")
	case http.StatusForbidden:
		if data, ok := rej.Response.Error.Data.(map[string]string); ok {
			w.Header().Set("WWW-Authenticate", oauth.BuildWWWAuthenticate(oauth.AuthChallenge{
				ResourceMetadataURL: s.resourceMetadataURL(),
				Scope:               data["scope"],
				Error:               "insufficient_scope",
			}))
		}
	}
	if rej.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(rej.RetryAfter.Seconds()+0.5)))
	}
	writeJSON(w, rej.Status, rej.Response)
}

// authenticate resolves the bearer token, writing a 401 challenge on failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*broker.Identity, bool) {
	token := bearerToken(r)
	identity, err := s.dispatcher.Authenticate(r.Context(), token)
	if err == nil {
		return identity, true
	}
	if errors.Is(err, dispatcher.ErrUnauthorized) {
		logging.AuditCtx(r.Context(), logging.AuditEvent{
			Action:  "authenticate",
			Outcome: "failure",
			Target:  r.URL.Path,
			Reason:  "missing or invalid bearer token",
		})
		s.setChallenge(w, token != "")
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_token",
			"error_description": "a valid bearer token is required",
		})
		return nil, false
	}
	logging.ErrorCtx(r.Context(), "Gateway", err, "Token validation failed")
	writeError(w, http.StatusInternalServerError, "internal error")
	return nil, false
}

func (s *Server) setChallenge(w http.ResponseWriter, tokenPresented bool) {
	challenge := oauth.AuthChallenge{ResourceMetadataURL: s.resourceMetadataURL()}
	if tokenPresented {
		challenge.Error = "invalid_token"
	}
	w.Header().Set("WWW-Authenticate", oauth.BuildWWWAuthenticate(challenge))
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
