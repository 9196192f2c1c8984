// Package mock provides test doubles for mcpgate components.
//
// IdP is an in-process upstream identity provider serving OIDC discovery,
// /authorize and /token. Its Approve method plays the user's browser so that
// broker tests can drive the full three-party flow without a real provider:
//
//	idp := mock.NewIdP(mock.IdPConfig{})
//	defer idp.Close()
//	callback, err := idp.Approve(pending.UpstreamURL)
//
// Clock is a manually advanced clock for expiry tests.
package mock
