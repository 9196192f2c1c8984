// Package oauth holds the OAuth 2.1 building blocks shared by the mcpgate
// authorization broker and its command line helpers.
//
// # Core Components
//
//   - Token: token representation with expiry checking
//   - Metadata: authorization server metadata (RFC 8414)
//   - ProtectedResourceMetadata: resource metadata (RFC 9728)
//   - AuthChallenge: WWW-Authenticate header building and parsing
//   - PKCE: Proof Key for Code Exchange generation and verification (RFC 7636)
//   - Client: upstream metadata discovery with caching
//
// # Usage
//
//	verifier, challenge, err := oauth.GeneratePKCERaw()
//	ok := oauth.VerifyPKCE(challenge, oauth.PKCEMethodS256, verifier)
//
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient))
//	metadata, err := client.DiscoverMetadata(ctx, issuer)
package oauth
