package oauth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(pkce.CodeVerifier), 43)
	assert.Equal(t, "S256", pkce.CodeChallengeMethod)
	assert.Equal(t, S256Challenge(pkce.CodeVerifier), pkce.CodeChallenge)

	// Must agree with golang.org/x/oauth2, which the upstream client uses.
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(pkce.CodeVerifier), pkce.CodeChallenge)
}

func TestGeneratePKCE_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		verifier, _, err := GeneratePKCERaw()
		require.NoError(t, err)
		if seen[verifier] {
			t.Fatalf("duplicate verifier generated: %s", verifier)
		}
		seen[verifier] = true
	}
}

func TestS256Challenge_RFC7636Vector(t *testing.T) {
	// Appendix B of RFC 7636.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", S256Challenge(verifier))
}

func TestVerifyPKCE(t *testing.T) {
	verifier, challenge, err := GeneratePKCERaw()
	require.NoError(t, err)
	other, _, err := GeneratePKCERaw()
	require.NoError(t, err)

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		want      bool
	}{
		{"matching verifier", challenge, "S256", verifier, true},
		{"different verifier", challenge, "S256", other, false},
		{"plain method rejected", verifier, "plain", verifier, false},
		{"empty challenge", "", "S256", verifier, false},
		{"short verifier", S256Challenge("abc"), "S256", "abc", false},
		{"illegal characters", S256Challenge(strings.Repeat("!", 50)), "S256", strings.Repeat("!", 50), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPKCE(tt.challenge, tt.method, tt.verifier))
		})
	}
}

func TestValidVerifier(t *testing.T) {
	assert.True(t, ValidVerifier(strings.Repeat("a", 43)))
	assert.True(t, ValidVerifier(strings.Repeat("Z", 128)))
	assert.True(t, ValidVerifier(strings.Repeat("-._~", 11)))
	assert.False(t, ValidVerifier(strings.Repeat("a", 42)))
	assert.False(t, ValidVerifier(strings.Repeat("a", 129)))
	assert.False(t, ValidVerifier(strings.Repeat("a", 42)+"="))
}

func TestGenerateState(t *testing.T) {
	state, err := GenerateState()
	require.NoError(t, err)
	assert.Len(t, state, 43)

	state2, err := GenerateState()
	require.NoError(t, err)
	assert.NotEqual(t, state, state2)
}
