package oauth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name      string
		challenge AuthChallenge
		expected  string
	}{
		{
			name:      "bare scheme",
			challenge: AuthChallenge{},
			expected:  "Bearer",
		},
		{
			name: "resource metadata and error",
			challenge: AuthChallenge{
				Realm:               "mcpgate",
				ResourceMetadataURL: "https://gw.example.com/.well-known/oauth-protected-resource",
				Error:               "invalid_token",
			},
			expected: `Bearer realm="mcpgate", resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource", error="invalid_token"`,
		},
		{
			name:      "quotes are neutralised",
			challenge: AuthChallenge{ErrorDescription: `bad "token"`},
			expected:  `Bearer error_description="bad 'token'"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildWWWAuthenticate(tt.challenge))
		})
	}
}

func TestParseWWWAuthenticate_RoundTrip(t *testing.T) {
	in := AuthChallenge{
		Scheme:              "Bearer",
		Realm:               "mcpgate",
		ResourceMetadataURL: "https://gw.example.com/.well-known/oauth-protected-resource",
		Scope:               "tools:call tools:list",
		Error:               "insufficient_scope",
	}

	out, err := ParseWWWAuthenticate(BuildWWWAuthenticate(in))
	require.NoError(t, err)
	assert.Equal(t, in, *out)
	assert.True(t, out.IsOAuthChallenge())
}

func TestParseWWWAuthenticate_Errors(t *testing.T) {
	_, err := ParseWWWAuthenticate("   ")
	assert.Error(t, err)

	c, err := ParseWWWAuthenticate("Basic")
	require.NoError(t, err)
	assert.False(t, c.IsOAuthChallenge())
}

func TestParseWWWAuthenticateFromResponse(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}}
	resp.Header.Set("WWW-Authenticate", `Bearer realm="mcpgate"`)

	c := ParseWWWAuthenticateFromResponse(resp)
	require.NotNil(t, c)
	assert.Equal(t, "mcpgate", c.Realm)

	resp.StatusCode = http.StatusOK
	assert.Nil(t, ParseWWWAuthenticateFromResponse(resp))
	assert.Nil(t, ParseWWWAuthenticateFromResponse(nil))
}
