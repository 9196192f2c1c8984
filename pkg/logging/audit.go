package logging

import (
	"context"
	"log/slog"
)

// AuditEvent describes a security-relevant action (token issuance, grant replay, revocation).
type AuditEvent struct {
	Action    string
	Outcome   string
	ClientID  string
	Subject   string
	SessionID string
	Target    string
	Reason    string
}

// Audit logs an audit event at INFO level with an [AUDIT] prefix.
func Audit(ev AuditEvent) {
	AuditCtx(context.Background(), ev)
}

// AuditCtx logs an audit event carrying the correlation ID found in ctx.
func AuditCtx(ctx context.Context, ev AuditEvent) {
	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", ev.Action),
		slog.String("outcome", ev.Outcome),
	}
	if ev.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", ev.ClientID))
	}
	if ev.Subject != "" {
		attrs = append(attrs, slog.String("subject", ev.Subject))
	}
	if ev.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", TruncateSessionID(ev.SessionID)))
	}
	if ev.Target != "" {
		attrs = append(attrs, slog.String("target", ev.Target))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	Logger().LogAttrs(ctx, slog.LevelInfo, "[AUDIT] "+ev.Action, attrs...)
}
