// Package broker implements the gateway's OAuth 2.1 authorization broker.
//
// The broker sits between agents and a single upstream identity provider.
// Agents talk OAuth 2.1 with PKCE to the broker; the broker runs its own PKCE
// round-trip against the upstream provider, keeps the upstream tokens server
// side and hands agents opaque delegated tokens instead.
//
// Flow:
//
//	agent --/authorize--> broker --302--> upstream /authorize
//	upstream --/oauth-callback--> broker --302 code--> agent redirect_uri
//	agent --/token (code, verifier)--> broker: delegated access + refresh token
//
// Everything the broker remembers (pending authorizations, grants, tokens,
// clients) lives in a tokenstore.Store. Bearer values are stored only as
// SHA-256 digests and grants are consumed with an atomic Take, so a replayed
// or mismatched exchange always fails closed.
package broker
