// Package observability exposes the Prometheus surface: HTTP request
// metrics plus counters for every enforcement decision category. None
// of these sit on the decision path; they only observe it.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and the core counters.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	permissionChecks *prometheus.CounterVec
	approvalOutcomes *prometheus.CounterVec
	rateLimited      prometheus.Counter
	sandboxTimeouts  prometheus.Counter
}

// NewMetrics initializes the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolgate_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	permissionChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_permission_checks_total",
		Help: "RBAC permission checks by outcome.",
	}, []string{"outcome"})
	approvalOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_approval_outcomes_total",
		Help: "Approval workflow terminal outcomes by status.",
	}, []string{"status"})
	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_rate_limited_total",
		Help: "Invocations refused by the rate or concurrency limiter.",
	})
	sandboxTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_sandbox_timeouts_total",
		Help: "Sandbox executions killed at their deadline.",
	})
	registry.MustRegister(requests, duration, permissionChecks, approvalOutcomes, rateLimited, sandboxTimeouts)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		permissionChecks: permissionChecks,
		approvalOutcomes: approvalOutcomes,
		rateLimited:      rateLimited,
		sandboxTimeouts:  sandboxTimeouts,
	}
}

// AuditQueueSource reports the async audit queue's live state.
// *audit.Logger satisfies it.
type AuditQueueSource interface {
	QueueDepth() int
	Dropped() int64
	Written() int64
}

// ObserveAuditQueue registers gauges backed by the audit logger's own
// counters so scrape time reads the live values.
func (m *Metrics) ObserveAuditQueue(src AuditQueueSource) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "toolgate_audit_queue_depth",
			Help: "Entries currently waiting in the audit queue.",
		}, func() float64 { return float64(src.QueueDepth()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "toolgate_audit_dropped_total",
			Help: "Audit entries dropped because the queue was full.",
		}, func() float64 { return float64(src.Dropped()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "toolgate_audit_written_total",
			Help: "Audit entries persisted by the background writer.",
		}, func() float64 { return float64(src.Written()) }),
	)
}

// PermissionCheck counts one RBAC verdict.
func (m *Metrics) PermissionCheck(allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.permissionChecks.WithLabelValues(outcome).Inc()
}

// RateLimited counts one throttled invocation.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// ApprovalOutcome counts one terminal approval status.
func (m *Metrics) ApprovalOutcome(status string) {
	m.approvalOutcomes.WithLabelValues(status).Inc()
}

// SandboxTimeout counts one deadline kill.
func (m *Metrics) SandboxTimeout() {
	m.sandboxTimeouts.Inc()
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for extra metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
