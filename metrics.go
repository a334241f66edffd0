package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsForwarded  prometheus.Counter
	ruleRejections     *prometheus.CounterVec
	bypassUsed         prometheus.Counter
	activeConns        prometheus.Gauge
	connectionsTotal   prometheus.Counter
	backendErrors      prometheus.Counter
	bytesTransferred   *prometheus.CounterVec
	captureRecords     *prometheus.CounterVec
	captureErrors      prometheus.Counter
	captureTruncations prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		requestsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_forwarded_total",
			Help:      "Total number of requests forwarded to the backend.",
		}),

		ruleRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "rule_rejections_total",
			Help:      "Total number of requests rejected, by rule.",
		}, []string{"rule"}),

		bypassUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "bypass_used_total",
			Help:      "Number of requests that skipped rules via the bypass key.",
		}),

		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "active_connections",
			Help:      "Number of active proxied connections.",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "connections_total",
			Help:      "Total number of accepted connections.",
		}),

		backendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "backend_errors_total",
			Help:      "Number of backend connection errors.",
		}),

		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "bytes_transferred_total",
			Help:      "Bytes relayed through the gateway, by direction.",
		}, []string{"direction"}),

		captureRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "capture_records_total",
			Help:      "Capture records emitted to targets, by kind.",
		}, []string{"kind"}),

		captureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "capture_errors_total",
			Help:      "Number of capture delivery failures.",
		}),

		captureTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "capture_truncations_total",
			Help:      "Number of captured bodies cut at the size cap.",
		}),

		registry: reg,
	}

	reg.MustRegister(
		m.requestsForwarded,
		m.ruleRejections,
		m.bypassUsed,
		m.activeConns,
		m.connectionsTotal,
		m.backendErrors,
		m.bytesTransferred,
		m.captureRecords,
		m.captureErrors,
		m.captureTruncations,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordForwarded records a request relayed to the backend.
func (m *Metrics) RecordForwarded() {
	m.requestsForwarded.Inc()
}

// RecordRejection records a request rejected by a rule.
func (m *Metrics) RecordRejection(rule string) {
	m.ruleRejections.WithLabelValues(rule).Inc()
}

// RecordBypass records a request that skipped rules via the bypass key.
func (m *Metrics) RecordBypass() {
	m.bypassUsed.Inc()
}

// IncActiveConns increments the active connection gauge.
func (m *Metrics) IncActiveConns() {
	m.activeConns.Inc()
	m.connectionsTotal.Inc()
}

// DecActiveConns decrements the active connection gauge.
func (m *Metrics) DecActiveConns() {
	m.activeConns.Dec()
}

// RecordBackendError records a backend connection failure.
func (m *Metrics) RecordBackendError() {
	m.backendErrors.Inc()
}

// RecordBytes records relayed bytes. direction is "in" (client to backend)
// or "out" (backend to client).
func (m *Metrics) RecordBytes(direction string, n int) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

// RecordCaptureRecord records one emitted capture record.
func (m *Metrics) RecordCaptureRecord(kind RecordKind) {
	m.captureRecords.WithLabelValues(string(kind)).Inc()
}

// RecordCaptureError records a capture delivery failure.
func (m *Metrics) RecordCaptureError() {
	m.captureErrors.Inc()
}

// RecordCaptureTruncation records a captured body cut at the size cap.
func (m *Metrics) RecordCaptureTruncation() {
	m.captureTruncations.Inc()
}
