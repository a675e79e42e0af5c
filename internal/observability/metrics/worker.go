package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics instruments the cache-invalidation worker.
type WorkerMetrics struct {
	registry *prometheus.Registry

	invalidateTotal    *prometheus.CounterVec
	invalidateDuration *prometheus.HistogramVec
	invalidateInFlight prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	invalidateTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragengine",
			Subsystem: "worker",
			Name:      "invalidation_total",
			Help:      "Total document invalidations by action and status.",
		},
		[]string{"service", "action", "status"},
	)
	invalidateDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragengine",
			Subsystem: "worker",
			Name:      "invalidation_duration_seconds",
			Help:      "Cache invalidation duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	invalidateInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragengine",
			Subsystem: "worker",
			Name:      "invalidation_in_flight",
			Help:      "Number of in-flight invalidation handlers.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(invalidateTotal, invalidateDuration, invalidateInFlight)

	return &WorkerMetrics{
		registry:           registry,
		invalidateTotal:    invalidateTotal,
		invalidateDuration: invalidateDuration,
		invalidateInFlight: invalidateInFlight,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartInvalidation() {
	if m == nil {
		return
	}
	m.invalidateInFlight.Inc()
}

func (m *WorkerMetrics) FinishInvalidation(service, action string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.invalidateInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.invalidateTotal.WithLabelValues(service, action, status).Inc()
	m.invalidateDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}
