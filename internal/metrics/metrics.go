// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsTotal           *prometheus.CounterVec
	fetchAttemptsTotal   *prometheus.CounterVec
	artifactBytesTotal   prometheus.Counter
	activeWorkers        prometheus.Gauge
	backoffSleepsSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Document work items processed, labeled by outcome (discovered, skipped, succeeded, failed).",
			},
			[]string{"outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Fetch attempts, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		artifactBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_artifact_bytes_total",
				Help: "Total bytes of validated artifacts written.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Workers currently executing a fetch.",
			},
		)

		backoffSleepsSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_backoff_sleep_seconds",
				Help:    "Histogram of backoff sleeps between retry rounds.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem counts one terminal item outcome.
func ObserveItem(outcome string) {
	if itemsTotal == nil {
		return
	}
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttempt counts one strategy attempt.
func ObserveAttempt(strategy, result string) {
	if fetchAttemptsTotal == nil {
		return
	}
	fetchAttemptsTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveArtifact adds the size of a validated artifact.
func ObserveArtifact(size int) {
	if artifactBytesTotal == nil {
		return
	}
	artifactBytesTotal.Add(float64(size))
}

// WorkerActive adjusts the active worker gauge.
func WorkerActive(delta float64) {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Add(delta)
}

// ObserveBackoff records a backoff sleep duration in seconds.
func ObserveBackoff(seconds float64) {
	if backoffSleepsSeconds == nil {
		return
	}
	backoffSleepsSeconds.Observe(seconds)
}
