package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/mcpgate/internal/session"
)

const namespace = "mcpgate"

// Metrics holds every collector the gateway exports.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsOpened   prometheus.Counter
	sessionsClosed   *prometheus.CounterVec
	sessionLifetime  prometheus.Histogram
	sessionsRejected prometheus.Counter

	tokensIssued *prometheus.CounterVec
	authFailures *prometheus.CounterVec

	toolCallsInFlight prometheus.Gauge
	toolCalls         *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec

	messagesRejected *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec

	catalogVersion prometheus.Gauge
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "active",
			Help: "Number of open SSE sessions.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "opened_total",
			Help: "Sessions opened.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "closed_total",
			Help: "Sessions closed, by reason.",
		}, []string{"reason"}),
		sessionLifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "lifetime_seconds",
			Help:    "Time from open to close.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		sessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "rejected_total",
			Help: "Session opens refused because the registry was full.",
		}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "oauth", Name: "tokens_issued_total",
			Help: "Access tokens issued, by grant type.",
		}, []string{"grant_type"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "oauth", Name: "failures_total",
			Help: "Authorization failures, by operation and OAuth error code.",
		}, []string{"operation", "reason"}),
		toolCallsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tools", Name: "calls_in_flight",
			Help: "Tool calls currently executing or waiting for a slot.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tools", Name: "calls_total",
			Help: "Completed tool calls, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tools", Name: "call_duration_seconds",
			Help:    "Tool call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		messagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "rejected_total",
			Help: "Messages refused synchronously, by HTTP status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests, by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency, excluding SSE streams.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		catalogVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tools", Name: "catalog_version",
			Help: "Version of the active tool catalog.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsActive, m.sessionsOpened, m.sessionsClosed, m.sessionLifetime, m.sessionsRejected,
		m.tokensIssued, m.authFailures,
		m.toolCallsInFlight, m.toolCalls, m.toolCallDuration,
		m.messagesRejected, m.httpRequests, m.httpDuration,
		m.catalogVersion,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SessionOpened implements session.Observer.
func (m *Metrics) SessionOpened() {
	m.sessionsOpened.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed implements session.Observer.
func (m *Metrics) SessionClosed(reason session.CloseReason, lifetime time.Duration) {
	m.sessionsActive.Dec()
	m.sessionsClosed.WithLabelValues(string(reason)).Inc()
	m.sessionLifetime.Observe(lifetime.Seconds())
}

// SessionRejected counts an open refused by the registry limit.
func (m *Metrics) SessionRejected() {
	m.sessionsRejected.Inc()
}

// TokenIssued implements broker.Observer.
func (m *Metrics) TokenIssued(grantType string) {
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

// AuthFailure implements broker.Observer.
func (m *Metrics) AuthFailure(operation, reason string) {
	m.authFailures.WithLabelValues(operation, reason).Inc()
}

// ToolCallStarted implements dispatcher.Observer.
func (m *Metrics) ToolCallStarted() {
	m.toolCallsInFlight.Inc()
}

// ToolCallFinished implements dispatcher.Observer.
func (m *Metrics) ToolCallFinished(tool, outcome string, duration time.Duration) {
	m.toolCallsInFlight.Dec()
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// MessageRejected counts a synchronous refusal on the message endpoint.
func (m *Metrics) MessageRejected(status int) {
	m.messagesRejected.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RequestServed records one finished HTTP request. Streams are counted but
// their duration is not observed.
func (m *Metrics) RequestServed(route string, status int, duration time.Duration, streamed bool) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	if !streamed {
		m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// CatalogVersion records the active catalog version.
func (m *Metrics) CatalogVersion(version uint64) {
	m.catalogVersion.Set(float64(version))
}
