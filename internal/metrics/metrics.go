// Package metrics exposes Prometheus collectors for the maintainer
// service.
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
	jobsTotal                  *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	eventsDroppedTotal         prometheus.Counter
	cacheRebuildsTotal         prometheus.Counter
	cacheStaleServesTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeBatchWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintainer_jobs_total",
				Help: "Total number of batch jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintainer_items_total",
				Help: "Total number of processed items, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		eventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maintainer_events_dropped_total",
				Help: "Total progress events dropped for slow or dead observers.",
			},
		)

		cacheRebuildsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maintainer_cache_rebuilds_total",
				Help: "Total enriched-inventory rebuilds performed.",
			},
		)

		cacheStaleServesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maintainer_cache_stale_serves_total",
				Help: "Total requests answered from a stale cache entry.",
			},
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

		activeBatchWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "maintainer_active_batch_workers",
				Help: "Number of workers currently executing a batch job.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveItem increments the item counter for the given outcome.
func ObserveItem(outcome string) {
	if itemsTotal == nil {
		return
	}
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEventsDropped adds to the dropped-event counter.
func ObserveEventsDropped(n int64) {
	if eventsDroppedTotal == nil || n <= 0 {
		return
	}
	eventsDroppedTotal.Add(float64(n))
}

// ObserveCacheRebuild increments the rebuild counter.
func ObserveCacheRebuild() {
	if cacheRebuildsTotal == nil {
		return
	}
	cacheRebuildsTotal.Inc()
}

// ObserveCacheStaleServe increments the stale-serve counter.
func ObserveCacheStaleServe() {
	if cacheStaleServesTotal == nil {
		return
	}
	cacheStaleServesTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active batch workers gauge.
func IncActiveWorkers() {
	if activeBatchWorkers == nil {
		return
	}
	activeBatchWorkers.Inc()
}

// DecActiveWorkers decrements the active batch workers gauge.
func DecActiveWorkers() {
	if activeBatchWorkers == nil {
		return
	}
	activeBatchWorkers.Dec()
}
