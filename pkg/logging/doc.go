// Package logging provides the structured logging facade used across mcpgate.
//
// It is a thin layer over Go's log/slog: every entry carries a subsystem
// attribute and, when logged with one of the *Ctx variants, the correlation ID
// assigned by the gateway front to the originating HTTP request.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, logging.FormatJSON, os.Stderr)
//
//	logging.Info("Gateway", "Listening on %s", addr)
//	logging.Debug("Sessions", "Opened session %s", logging.TruncateSessionID(id))
//	logging.Error("Dispatcher", err, "Tool %s failed", name)
//	logging.InfoCtx(r.Context(), "Gateway", "%s %s", r.Method, r.URL.Path)
//
// # Subsystems
//
//   - Bootstrap: application initialization and shutdown
//   - Config: configuration loading and validation
//   - Gateway: HTTP front, access log
//   - Sessions: session registry and idle reaper
//   - Dispatcher: tool-call routing and delivery
//   - Broker: OAuth authorization flow
//   - Tools: catalog loading, reload and executors
//
// # Audit Logging
//
// Security-sensitive operations are logged through Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:   "token_exchange",
//	    Outcome:  "failure",
//	    ClientID: clientID,
//	    Reason:   "pkce_mismatch",
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix so log
// pipelines can route them separately. Secrets (bearer tokens, function keys,
// client secrets) are never passed to the logger; session IDs are truncated
// with TruncateSessionID.
package logging
