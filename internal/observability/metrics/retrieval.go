package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RetrievalMetrics instruments the retrieval API process.
type RetrievalMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrieveTotal    *prometheus.CounterVec
	retrieveDuration *prometheus.HistogramVec
	resultCount      *prometheus.HistogramVec
	degradedTotal    *prometheus.CounterVec

	cache *CacheMetrics
}

func NewRetrievalMetrics(service string) *RetrievalMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragengine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragengine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragengine",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrieveTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragengine",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval requests by mode and outcome.",
		},
		[]string{"service", "mode", "status"},
	)
	retrieveDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragengine",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "End-to-end retrieval duration in seconds by mode.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
	resultCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragengine",
			Subsystem: "retrieval",
			Name:      "result_count",
			Help:      "Number of ranked results returned per request.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50, 100},
		},
		[]string{"service", "mode"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragengine",
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Requests that completed with a degraded stage.",
		},
		[]string{"service", "stage"},
	)

	cache := newCacheMetrics()
	registry.MustRegister(
		requestTotal, requestDuration, requestInFlight,
		retrieveTotal, retrieveDuration, resultCount, degradedTotal,
		cache.lookupTotal,
	)

	return &RetrievalMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		retrieveTotal:    retrieveTotal,
		retrieveDuration: retrieveDuration,
		resultCount:      resultCount,
		degradedTotal:    degradedTotal,
		cache:            cache,
	}
}

func (m *RetrievalMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *RetrievalMetrics) Cache() *CacheMetrics {
	if m == nil {
		return nil
	}
	return m.cache
}

func (m *RetrievalMetrics) StartRequest() {
	if m == nil {
		return
	}
	m.requestInFlight.Inc()
}

func (m *RetrievalMetrics) FinishRequest(service, method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestInFlight.Dec()
	m.requestTotal.WithLabelValues(service, method, path, status).Inc()
	m.requestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

func (m *RetrievalMetrics) ObserveRetrieval(service, mode, status string, results int, duration time.Duration) {
	if m == nil {
		return
	}
	m.retrieveTotal.WithLabelValues(service, mode, status).Inc()
	if status == "success" {
		m.retrieveDuration.WithLabelValues(service, mode).Observe(duration.Seconds())
		m.resultCount.WithLabelValues(service, mode).Observe(float64(results))
	}
}

func (m *RetrievalMetrics) ObserveDegradation(service, stage string) {
	if m == nil {
		return
	}
	m.degradedTotal.WithLabelValues(service, stage).Inc()
}

// CacheMetrics counts cache lookups by namespace. A nil receiver is a no-op
// so infrastructure can run unmetered in tests.
type CacheMetrics struct {
	lookupTotal *prometheus.CounterVec
}

func newCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		lookupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ragengine",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache lookups by namespace and outcome.",
			},
			[]string{"namespace", "outcome"},
		),
	}
}

func (m *CacheMetrics) ObserveLookup(namespace string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.lookupTotal.WithLabelValues(namespace, outcome).Inc()
}
