// Package metrics exposes the gateway's Prometheus collectors.
//
// Metrics implements the observer interfaces of the session registry, the
// authorization broker and the dispatcher, so each component reports through
// a narrow interface and never imports Prometheus itself. Collectors are
// registered on a private registry served by Handler.
package metrics
