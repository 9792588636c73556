// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Repository outcomes reported by the worker pool.
const (
	OutcomeEmitted  = "emitted"
	OutcomeExcluded = "excluded"
	OutcomeDropped  = "dropped"
	OutcomeFailed   = "failed"
)

var (
	crawlerRepositoriesTotal      *prometheus.CounterVec
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerIndicatorsTotal        *prometheus.CounterVec
	crawlerSinkErrorsTotal        *prometheus.CounterVec
	remoteRequestsTotal           *prometheus.CounterVec
	remoteRequestDurationSeconds  *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerRepositoriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_repositories_total",
				Help: "Repositories processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Crawl runs, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently enriching a repository.",
			},
		)

		crawlerIndicatorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_indicators_total",
				Help: "Indicator values extracted, labeled by parser method.",
			},
			[]string{"method"},
		)

		crawlerSinkErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sink_errors_total",
				Help: "Output sink failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		remoteRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_remote_requests_total",
				Help: "Requests sent to the repository host, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)

		remoteRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_remote_request_duration_seconds",
				Help:    "Latency of repository host requests.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRepository increments the repository counter for an outcome.
func ObserveRepository(outcome string) {
	Init()
	crawlerRepositoriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun increments the run counter for a final status.
func ObserveRun(status string) {
	Init()
	crawlerRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveIndicator counts one extracted indicator value.
func ObserveIndicator(method string) {
	Init()
	crawlerIndicatorsTotal.WithLabelValues(method).Inc()
}

// ObserveSinkError counts a failed Output or Finalize call.
func ObserveSinkError(sink string) {
	Init()
	crawlerSinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveRemoteRequest records one host request. code 0 means a transport error.
func ObserveRemoteRequest(host string, code int, duration time.Duration) {
	Init()
	remoteRequestsTotal.WithLabelValues(host, strconv.Itoa(code)).Inc()
	remoteRequestDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
