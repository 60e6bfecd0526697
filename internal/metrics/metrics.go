// Package metrics exposes Prometheus metrics for handshakes, backchannel
// calls and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Labels.
const (
	LabelProvider = "provider"
	LabelOutcome  = "outcome"
	LabelCall     = "call"
	LabelResult   = "result"
	LabelMethod   = "method"
	LabelPath     = "path"
	LabelStatus   = "status"
)

// OutcomeSuccess labels completed handshakes and successful calls. Failures
// are labelled with their error kind.
const OutcomeSuccess = "success"

// Metrics holds the registry and every collector.
type Metrics struct {
	registry *prometheus.Registry

	handshakeAttempts *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec

	backchannelRequests *prometheus.CounterVec
	backchannelDuration *prometheus.HistogramVec
	backchannelRetries  *prometheus.CounterVec

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
}

// New creates a Metrics with its own registry, including the Go runtime and
// process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "oauth_signin"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}
	factory := promauto.With(registry)

	m.handshakeAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_attempts_total",
			Help:      "Callback handling attempts by outcome.",
		},
		[]string{LabelProvider, LabelOutcome},
	)

	m.handshakeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from callback receipt to outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelProvider, LabelOutcome},
	)

	m.backchannelRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backchannel_requests_total",
			Help:      "Server-to-server calls to the provider by result.",
		},
		[]string{LabelProvider, LabelCall, LabelResult},
	)

	m.backchannelDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backchannel_request_duration_seconds",
			Help:      "Latency of server-to-server calls to the provider.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelProvider, LabelCall},
	)

	m.backchannelRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backchannel_retries_total",
			Help:      "Retries of server-to-server calls after a network failure.",
		},
		[]string{LabelProvider, LabelCall},
	)

	m.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	m.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)

	m.httpRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed.",
		},
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

// RecordAttempt records the outcome of one callback.
func (m *Metrics) RecordAttempt(provider, outcome string, duration time.Duration) {
	m.handshakeAttempts.WithLabelValues(provider, outcome).Inc()
	m.handshakeDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// RecordBackchannel records one backchannel call.
func (m *Metrics) RecordBackchannel(provider, call, result string, duration time.Duration) {
	m.backchannelRequests.WithLabelValues(provider, call, result).Inc()
	m.backchannelDuration.WithLabelValues(provider, call).Observe(duration.Seconds())
}

// RecordRetry records a retried backchannel call.
func (m *Metrics) RecordRetry(provider, call string) {
	m.backchannelRetries.WithLabelValues(provider, call).Inc()
}

// HTTPMiddleware records request count, latency and in-flight requests.
// Paths are the registered route patterns, so label cardinality stays bounded.
func (m *Metrics) HTTPMiddleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
