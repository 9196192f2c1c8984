// Package config loads the mcpgate configuration.
//
// Configuration is read from a single directory, ~/.config/mcpgate by default
// or the directory given with --config-path. The directory contains:
//   - config.yaml (gateway configuration, layered over GetDefaultConfig)
//   - tools.yaml (tool catalog, see package tools)
//
// Durations are Go duration strings ("30s", "5m"). Secrets are never written
// into config.yaml directly; fields ending in Ref hold "env:NAME" or
// "file:/path" references resolved with ResolveSecret at the point of use.
//
// Example config.yaml:
//
//	server:
//	  port: 8090
//	  baseURL: https://gateway.example.com
//	oauth:
//	  upstream:
//	    issuer: https://login.example.com/tenant/v2.0
//	    clientID: mcpgate
//	    clientSecretRef: env:MCPGATE_UPSTREAM_SECRET
//	storage:
//	  type: sqlite
//	  sqlitePath: tokens.db
package config
