package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes encodes to 43 base64url characters, the RFC 7636 minimum.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for state parameters and opaque codes.
	stateBytes = 32

	// PKCEMethodS256 is the only code challenge method accepted by the broker.
	PKCEMethodS256 = "S256"

	minVerifierLength = 43
	maxVerifierLength = 128
)

// GeneratePKCE generates a new PKCE code verifier and challenge.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, challenge, err := GeneratePKCERaw()
	if err != nil {
		return nil, err
	}

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	}, nil
}

// GeneratePKCERaw generates a PKCE code verifier and its S256 challenge.
func GeneratePKCERaw() (verifier, challenge string, err error) {
	verifier, err = RandomString(pkceVerifierBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}
	return verifier, S256Challenge(verifier), nil
}

// S256Challenge returns BASE64URL(SHA256(verifier)) without padding.
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// VerifyPKCE reports whether verifier matches the stored challenge.
// Only S256 is accepted; the comparison is constant time.
func VerifyPKCE(challenge, method, verifier string) bool {
	if method != PKCEMethodS256 || challenge == "" || !ValidVerifier(verifier) {
		return false
	}
	computed := S256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidVerifier checks the RFC 7636 verifier grammar: 43-128 characters of
// [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~".
func ValidVerifier(verifier string) bool {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}
	for i := 0; i < len(verifier); i++ {
		c := verifier[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

// GenerateState generates a random state parameter for OAuth.
func GenerateState() (string, error) {
	s, err := RandomString(stateBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return s, nil
}

// RandomString returns n bytes from crypto/rand, base64url-encoded without padding.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
