// Package metrics exposes Prometheus instrumentation for the API and the
// deployment engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpBuckets   = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	deployBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600}
)

// Metrics holds every collector on a private registry, so several instances
// can coexist in one process. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	deployResults    *prometheus.CounterVec
	deployDuration   *prometheus.HistogramVec
	teardownFailures *prometheus.CounterVec
	environments     *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reflow",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reflow",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   httpBuckets,
		}, []string{"method", "route", "status"}),
		deployResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reflow",
			Subsystem: "engine",
			Name:      "deploy_results_total",
			Help:      "Number of deploy and approve outcomes",
		}, []string{"type", "environment", "outcome"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reflow",
			Subsystem: "engine",
			Name:      "deploy_duration_seconds",
			Help:      "Wall-clock duration of deploy and approve attempts",
			Buckets:   deployBuckets,
		}, []string{"type", "environment", "outcome"}),
		teardownFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reflow",
			Subsystem: "engine",
			Name:      "teardown_failures_total",
			Help:      "Old containers that could not be removed after a swap",
		}, []string{"environment"}),
		environments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reflow",
			Subsystem: "engine",
			Name:      "environments",
			Help:      "Environments by observed container status",
		}, []string{"environment", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestTotal,
		m.requestDuration,
		m.deployResults,
		m.deployDuration,
		m.teardownFailures,
		m.environments,
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordDeploy counts one finished attempt.
func (m *Metrics) RecordDeploy(eventType, env, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"type": eventType, "environment": env, "outcome": outcome}
	m.deployResults.With(labels).Inc()
	m.deployDuration.With(labels).Observe(elapsed.Seconds())
}

// RecordTeardownFailure counts an old container left behind after a swap.
func (m *Metrics) RecordTeardownFailure(env string) {
	if m == nil {
		return
	}
	m.teardownFailures.With(prometheus.Labels{"environment": env}).Inc()
}

// SetEnvironments replaces the environment status gauge with counts keyed by
// environment then status.
func (m *Metrics) SetEnvironments(counts map[string]map[string]int) {
	if m == nil {
		return
	}
	m.environments.Reset()
	for env, byStatus := range counts {
		for status, n := range byStatus {
			m.environments.With(prometheus.Labels{"environment": env, "status": status}).Set(float64(n))
		}
	}
}

// Instrument is chi middleware recording request counts and latency by
// route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		m.requestTotal.With(labels).Inc()
		m.requestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}

// Flush lets streaming handlers keep working behind the recorder.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
