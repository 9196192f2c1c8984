package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var authParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// BuildWWWAuthenticate renders the Bearer challenge returned with 401 responses
// from protected MCP endpoints. Empty fields are omitted.
//
//	Bearer realm="mcpgate", resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource", error="invalid_token"
func BuildWWWAuthenticate(c AuthChallenge) string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}

	var params []string
	add := func(key, value string) {
		if value == "" {
			return
		}
		// Quotes would break the quoted-string grammar.
		params = append(params, fmt.Sprintf(`%s="%s"`, key, strings.ReplaceAll(value, `"`, "'")))
	}
	add("realm", c.Realm)
	add("resource_metadata", c.ResourceMetadataURL)
	add("scope", c.Scope)
	add("error", c.Error)
	add("error_description", c.ErrorDescription)

	if len(params) == 0 {
		return scheme
	}
	return scheme + " " + strings.Join(params, ", ")
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &AuthChallenge{
		Scheme: parts[0],
	}

	if len(parts) > 1 {
		params := parseAuthParams(parts[1])
		challenge.Realm = params["realm"]
		challenge.ResourceMetadataURL = params["resource_metadata"]
		challenge.Scope = params["scope"]
		challenge.Error = params["error"]
		challenge.ErrorDescription = params["error_description"]
	}

	return challenge, nil
}

// parseAuthParams parses the parameter portion of a WWW-Authenticate header.
// Parameters are in the format: key1="value1", key2="value2"
func parseAuthParams(paramStr string) map[string]string {
	params := make(map[string]string)
	for _, match := range authParamRegex.FindAllStringSubmatch(paramStr, -1) {
		if len(match) == 3 {
			params[strings.ToLower(match[1])] = match[2]
		}
	}
	return params
}

// ParseWWWAuthenticateFromResponse extracts the auth challenge from a 401 response.
// Returns nil if no WWW-Authenticate header is present or if parsing fails.
func ParseWWWAuthenticateFromResponse(resp *http.Response) *AuthChallenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}

	challenge, err := ParseWWWAuthenticate(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		return nil
	}
	return challenge
}
