// Package metrics exposes Prometheus collectors for the courier service:
// batch-level counters and the HTTP metrics for the admin API. Per-publication
// pipeline metrics are exported by the progress sinks instead.
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
	courierBatchesTotal        *prometheus.CounterVec
	courierBatchRunning        prometheus.Gauge
	courierBatchDuration       prometheus.Histogram
	courierRegistryPurgedTotal prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		courierBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_batches_total",
				Help: "Total number of batch runs, labeled by status.",
			},
			[]string{"status"},
		)

		courierBatchRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "courier_batch_running",
				Help: "Whether a batch is currently running (0 or 1).",
			},
		)

		courierBatchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "courier_batch_duration_seconds",
				Help:    "Wall time per batch run.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		courierRegistryPurgedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_registry_purged_total",
				Help: "Registry records removed by retention cleanup.",
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
// A no-op until Init has run.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// BatchStarted marks a batch as running. A no-op until Init has run.
func BatchStarted() {
	if courierBatchRunning == nil {
		return
	}
	courierBatchRunning.Set(1)
}

// BatchFinished records the batch outcome and clears the running gauge.
// A no-op until Init has run.
func BatchFinished(status string, duration time.Duration) {
	if courierBatchRunning == nil {
		return
	}
	courierBatchRunning.Set(0)
	courierBatchesTotal.WithLabelValues(status).Inc()
	courierBatchDuration.Observe(duration.Seconds())
}

// AddRegistryPurged counts records removed by retention cleanup.
// A no-op until Init has run.
func AddRegistryPurged(n int64) {
	if n > 0 && courierRegistryPurgedTotal != nil {
		courierRegistryPurgedTotal.Add(float64(n))
	}
}
