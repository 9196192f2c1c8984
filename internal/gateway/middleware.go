package gateway

import (
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/mcpgate/pkg/logging"
)

// CorrelationIDHeader carries the request's correlation ID in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// statusRecorder captures the status code while keeping the underlying writer
// reachable for flushing.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// correlationID returns the inbound ID if it is well formed, otherwise a new UUID.
func correlationID(r *http.Request) string {
	if id := r.Header.Get(CorrelationIDHeader); correlationIDPattern.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

// withRequestContext assigns the correlation ID, access-logs the request and
// reports it to the observer.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := correlationID(r)
		w.Header().Set(CorrelationIDHeader, id)
		r = r.WithContext(logging.WithCorrelationID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		kind := s.routes.Classify(r.Method, r.URL.Path)
		duration := time.Since(start)
		if s.observer != nil {
			s.observer.RequestServed(kind.String(), rec.status, duration, kind.Streaming())
		}

		// Query strings are left out: they carry authorization codes and state.
		if rec.status >= http.StatusInternalServerError {
			logging.WarnCtx(r.Context(), "Gateway", "%s %s -> %d (%s, %s)", r.Method, r.URL.Path, rec.status, kind, duration)
		} else {
			logging.DebugCtx(r.Context(), "Gateway", "%s %s -> %d (%s, %s, %d bytes)", r.Method, r.URL.Path, rec.status, kind, duration, rec.bytes)
		}
	})
}
