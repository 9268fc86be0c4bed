// ABOUTME: Prometheus collectors for wallet linking, audit writes and HTTP traffic
// ABOUTME: Each Metrics owns its registry so tests can create isolated instances

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corp"

// Metrics defines our Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	linkAttempts      *prometheus.CounterVec
	removals          *prometheus.CounterVec
	auditEvents       *prometheus.CounterVec
	challengesIssued  prometheus.Counter
	challengesLimited prometheus.Counter
	notifications     *prometheus.CounterVec
	requestCount      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	verifyDuration    prometheus.Histogram
}

// New creates a Metrics with its own registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		linkAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_attempts_total",
			Help:      "Wallet link attempts by outcome.",
		}, []string{"outcome"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_removals_total",
			Help:      "Wallet removals by outcome.",
		}, []string{"outcome"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events written by action and success.",
		}, []string{"action", "success"}),
		challengesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_issued_total",
			Help:      "Signing challenges issued.",
		}),
		challengesLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_rate_limited_total",
			Help:      "Challenge requests rejected by the per-wallet rate limit.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_notifications_total",
			Help:      "Resync notifications by result (sent, failed, suppressed).",
		}, []string{"result"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		verifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signature_verify_duration_seconds",
			Help:      "Time spent verifying wallet signatures.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.linkAttempts,
		m.removals,
		m.auditEvents,
		m.challengesIssued,
		m.challengesLimited,
		m.notifications,
		m.requestCount,
		m.requestDuration,
		m.verifyDuration,
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// All recorders below accept a nil receiver so callers can run without metrics.

func (m *Metrics) LinkAttempt(outcome string) {
	if m == nil {
		return
	}
	m.linkAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Removal(outcome string) {
	if m == nil {
		return
	}
	m.removals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuditEvent(action string, success bool) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) ChallengeIssued() {
	if m == nil {
		return
	}
	m.challengesIssued.Inc()
}

func (m *Metrics) ChallengeRateLimited() {
	if m == nil {
		return
	}
	m.challengesLimited.Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveVerify(d time.Duration) {
	if m == nil {
		return
	}
	m.verifyDuration.Observe(d.Seconds())
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
