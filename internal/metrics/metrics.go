// Package metrics exposes Prometheus collectors for session provider operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for OperationsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeLocked   = "locked"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for the service.
//
// All recording methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Provider metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Lock metrics
	LockContentionTotal prometheus.Counter
	LockAgeSeconds      prometheus.Histogram

	// Envelope metrics
	EnvelopeBytes *prometheus.HistogramVec

	// Expiry metrics
	PurgedTotal prometheus.Counter
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_operations_total",
				Help: "Total number of session provider operations",
			},
			[]string{"op", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_operation_duration_seconds",
				Help:    "Duration of session provider operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		LockContentionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_lock_contention_total",
			Help: "Total number of exclusive reads that found the session locked",
		}),
		LockAgeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "session_lock_age_seconds",
			Help:    "Age of the held lock observed by contended exclusive reads",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),

		EnvelopeBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_envelope_bytes",
				Help:    "Size of attribute envelopes written, by mode",
				Buckets: prometheus.ExponentialBuckets(16, 4, 8),
			},
			[]string{"mode"},
		),

		PurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_purged_total",
			Help: "Total number of expired sessions purged",
		}),
	}

	m.registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.LockContentionTotal,
		m.LockAgeSeconds,
		m.EnvelopeBytes,
		m.PurgedTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation counts one operation and records its duration.
func (m *Metrics) ObserveOperation(op, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveContention records an exclusive read that found a held lock.
func (m *Metrics) ObserveContention(age time.Duration) {
	if m == nil {
		return
	}
	m.LockContentionTotal.Inc()
	if age < 0 {
		age = 0
	}
	m.LockAgeSeconds.Observe(age.Seconds())
}

// ObserveEnvelope records the size of a written envelope.
func (m *Metrics) ObserveEnvelope(mode string, size int) {
	if m == nil {
		return
	}
	m.EnvelopeBytes.WithLabelValues(mode).Observe(float64(size))
}

// AddPurged adds n purged sessions.
func (m *Metrics) AddPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PurgedTotal.Add(float64(n))
}
