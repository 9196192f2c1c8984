package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/giantswarm/mcpgate/internal/session"
	"github.com/giantswarm/mcpgate/pkg/logging"
)

// EventEndpoint is the first event on every stream; its data is the URL the
// agent posts messages to.
const EventEndpoint = "endpoint"

// handleSSE opens a session and streams its messages until the session is
// closed or the client goes away.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)

	sess, err := s.sessions.Open(identity.Owner())
	if err != nil {
		var exhausted *session.RegistryExhaustedError
		if errors.As(err, &exhausted) {
			if s.observer != nil {
				s.observer.SessionRejected()
			}
			logging.WarnCtx(ctx, "Gateway", "Refusing stream for %s: %v", identity.Owner(), err)
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, "session limit reached")
			return
		}
		logging.ErrorCtx(ctx, "Gateway", err, "Failed to open session")
		writeError(w, http.StatusInternalServerError, "failed to open session")
		return
	}
	sessionLog := logging.TruncateSessionID(sess.ID)
	logging.InfoCtx(ctx, "Gateway", "Session %s opened for %s", sessionLog, identity.Owner())

	detach := sess.Attach()
	defer detach()
	// A consumer that is gone cannot drain, so detach before closing.
	abort := func() {
		detach()
		s.closeSession(ctx, sess.ID)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	endpoint := s.cfg.BasePath + "/message?sessionId=" + url.QueryEscape(sess.ID)
	if err := writeEvent(w, EventEndpoint, []byte(endpoint)); err != nil || rc.Flush() != nil {
		abort()
		return
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.KeepAliveInterval)
		msg, err := sess.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			if err := writeEvent(w, msg.Event, msg.Data); err != nil {
				logging.DebugCtx(ctx, "Gateway", "Write to session %s failed: %v", sessionLog, err)
				abort()
				return
			}
		case errors.Is(err, io.EOF):
			logging.DebugCtx(ctx, "Gateway", "Session %s closed, ending stream", sessionLog)
			return
		case ctx.Err() != nil:
			// Client went away.
			abort()
			return
		case errors.Is(err, context.DeadlineExceeded):
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				abort()
				return
			}
		default:
			logging.ErrorCtx(ctx, "Gateway", err, "Session %s stream failed", sessionLog)
			abort()
			return
		}
		if err := rc.Flush(); err != nil {
			abort()
			return
		}
	}
}

// handleClose closes a session on behalf of its owner.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("sessionId")
	sess, err := s.sessions.Get(id)
	if err != nil || sess.Owner != identity.Owner() {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.closeSession(r.Context(), id)
	logging.AuditCtx(r.Context(), logging.AuditEvent{
		Action:    "session_close",
		Outcome:   "success",
		ClientID:  identity.ClientID,
		Subject:   identity.Subject,
		SessionID: logging.TruncateSessionID(id),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) closeSession(ctx context.Context, id string) {
	if err := s.sessions.Close(id); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		logging.WarnCtx(ctx, "Gateway", "Failed to close session %s: %v", logging.TruncateSessionID(id), err)
	}
}

// writeEvent frames one SSE event. Multi-line data becomes multiple data lines.
func writeEvent(w io.Writer, event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		fmt.Fprintf(&buf, "event: %s\n", event)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
