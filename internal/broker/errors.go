package broker

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidRequest is returned for malformed or incomplete requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidClient is returned when the client is unknown or fails authentication.
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidRedirectURI is returned when the redirect URI is not in the client's allowlist.
	// The broker never redirects to such a URI.
	ErrInvalidRedirectURI = errors.New("redirect URI not registered for client")

	// ErrUnsupportedChallengeMethod is returned for any PKCE method other than S256.
	ErrUnsupportedChallengeMethod = errors.New("code challenge method must be S256")

	// ErrUnsupportedResponseType is returned for response types other than "code".
	ErrUnsupportedResponseType = errors.New("unsupported response type")

	// ErrUnsupportedGrantType is returned for grant types other than authorization_code and refresh_token.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")

	// ErrInvalidScope is returned when a requested scope is not offered.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidGrant is returned when a code or refresh handle is absent,
	// expired, already used or bound to another client.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrPKCEMismatch is returned when the verifier does not hash to the stored challenge.
	ErrPKCEMismatch = errors.New("PKCE verification failed")

	// ErrInvalidState is returned when the upstream callback carries an unknown or expired state.
	ErrInvalidState = errors.New("invalid or expired state")

	// ErrTokenExpired is returned by Validate for a known token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenUnknown is returned by Validate for tokens the broker never issued or has revoked.
	ErrTokenUnknown = errors.New("token unknown")

	// ErrUpstream is returned when the upstream identity provider fails or denies access.
	ErrUpstream = errors.New("upstream identity provider error")

	// ErrInvalidClientMetadata is returned when a registration request is rejected.
	ErrInvalidClientMetadata = errors.New("invalid client metadata")
)

// Error pairs a broker sentinel with a description that is safe to return to
// the caller. It never carries token or secret material.
type Error struct {
	Kind        error
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Description)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

// IsUnauthorized reports whether err means the bearer token cannot be used.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenUnknown)
}

// OAuthErrorCode maps err to the RFC 6749 / RFC 7591 error code and HTTP status.
func OAuthErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, ErrInvalidClient):
		return "invalid_client", http.StatusUnauthorized
	case errors.Is(err, ErrInvalidGrant), errors.Is(err, ErrPKCEMismatch):
		return "invalid_grant", http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedGrantType):
		return "unsupported_grant_type", http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedResponseType):
		return "unsupported_response_type", http.StatusBadRequest
	case errors.Is(err, ErrInvalidScope):
		return "invalid_scope", http.StatusBadRequest
	case errors.Is(err, ErrInvalidClientMetadata):
		return "invalid_client_metadata", http.StatusBadRequest
	case errors.Is(err, ErrInvalidRedirectURI):
		return "invalid_redirect_uri", http.StatusBadRequest
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnsupportedChallengeMethod), errors.Is(err, ErrInvalidState):
		return "invalid_request", http.StatusBadRequest
	case IsUnauthorized(err):
		return "invalid_token", http.StatusUnauthorized
	case errors.Is(err, ErrUpstream):
		return "temporarily_unavailable", http.StatusBadGateway
	default:
		return "server_error", http.StatusInternalServerError
	}
}

// description returns the caller-safe description of err.
func description(err error) string {
	var be *Error
	if errors.As(err, &be) {
		if be.Description != "" {
			return be.Description
		}
		return be.Kind.Error()
	}
	code, _ := OAuthErrorCode(err)
	if code == "server_error" {
		return "internal error"
	}
	return err.Error()
}
