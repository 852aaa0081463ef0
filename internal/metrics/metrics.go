// Package metrics exposes Prometheus collectors for the ingestion pipeline.
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

var (
	crawlPostingsTotal         *prometheus.CounterVec
	extractPostingsTotal       *prometheus.CounterVec
	discoveryResultsTotal      *prometheus.CounterVec
	discoveredJobsTotal        *prometheus.CounterVec
	breakerTripsTotal          *prometheus.CounterVec
	runTransitionsTotal        *prometheus.CounterVec
	finalizeAttemptsTotal      *prometheus.CounterVec
	queueDeliveriesTotal       *prometheus.CounterVec
	activeWorkers              *prometheus.GaugeVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// multiple times. Observe helpers are no-ops until Init runs.
func Init() {
	once.Do(func() {
		crawlPostingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_crawl_postings_total",
				Help: "Crawl instructions processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		extractPostingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_extract_postings_total",
				Help: "Extract instructions processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		discoveryResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_discovery_results_total",
				Help: "Per-source discovery attempts, labeled by result.",
			},
			[]string{"source", "result"},
		)

		discoveredJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_discovered_jobs_total",
				Help: "Postings that survived title filtering, labeled by source.",
			},
			[]string{"source"},
		)

		breakerTripsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_breaker_short_circuits_total",
				Help: "Crawl instructions short-circuited by an open breaker.",
			},
			[]string{"source"},
		)

		runTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_run_transitions_total",
				Help: "Run status transitions, labeled by target status.",
			},
			[]string{"status"},
		)

		finalizeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_finalize_attempts_total",
				Help: "Run finalization attempts, labeled by result.",
			},
			[]string{"result"},
		)

		queueDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_queue_deliveries_total",
				Help: "Queue deliveries handled, labeled by pool and result.",
			},
			[]string{"pool", "result"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Workers currently processing a delivery.",
			},
			[]string{"pool"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-source limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
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
	return promhttp.Handler()
}

// ObserveCrawl counts one crawl outcome.
func ObserveCrawl(source, outcome string) {
	if crawlPostingsTotal == nil {
		return
	}
	crawlPostingsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveExtract counts one extract outcome.
func ObserveExtract(source, outcome string) {
	if extractPostingsTotal == nil {
		return
	}
	extractPostingsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveDiscovery records one source's discovery result.
func ObserveDiscovery(source string, jobs int, err error) {
	if discoveryResultsTotal == nil {
		return
	}
	if err != nil {
		discoveryResultsTotal.WithLabelValues(source, "error").Inc()
		return
	}
	discoveryResultsTotal.WithLabelValues(source, "ok").Inc()
	discoveredJobsTotal.WithLabelValues(source).Add(float64(jobs))
}

// ObserveBreakerShortCircuit counts a fetch skipped by an open breaker.
func ObserveBreakerShortCircuit(source string) {
	if breakerTripsTotal == nil {
		return
	}
	breakerTripsTotal.WithLabelValues(source).Inc()
}

// ObserveRunTransition counts a run entering status.
func ObserveRunTransition(status string) {
	if runTransitionsTotal == nil {
		return
	}
	runTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveFinalize counts a finalization attempt.
func ObserveFinalize(result string) {
	if finalizeAttemptsTotal == nil {
		return
	}
	finalizeAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveDelivery counts one handled queue delivery.
func ObserveDelivery(pool, result string) {
	if queueDeliveriesTotal == nil {
		return
	}
	queueDeliveriesTotal.WithLabelValues(pool, result).Inc()
}

// IncActiveWorkers increments the active workers gauge for pool.
func IncActiveWorkers(pool string) {
	if activeWorkers == nil {
		return
	}
	activeWorkers.WithLabelValues(pool).Inc()
}

// DecActiveWorkers decrements the active workers gauge for pool.
func DecActiveWorkers(pool string) {
	if activeWorkers == nil {
		return
	}
	activeWorkers.WithLabelValues(pool).Dec()
}

// ObserveRateLimitDelay records the duration of a limiter wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
