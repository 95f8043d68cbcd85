// Package metrics exposes Prometheus collectors for the collector service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal          prometheus.Counter
	cycleDurationSeconds prometheus.Histogram
	channelsTotal        *prometheus.CounterVec
	messagesStoredTotal  prometheus.Counter
	fetchFailuresTotal   *prometheus.CounterVec
	floodWaitSeconds     prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_cycles_total",
			Help: "Total number of collection cycles executed.",
		})

		cycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_cycle_duration_seconds",
			Help:    "Histogram of collection cycle durations.",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
		})

		channelsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_channels_total",
				Help: "Total channels processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		messagesStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_messages_stored_total",
			Help: "Total newly inserted messages.",
		})

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_failures_total",
				Help: "Total per-channel failures, labeled by error kind.",
			},
			[]string{"kind"},
		)

		floodWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_flood_wait_seconds",
			Help:    "Histogram of server-mandated flood waits.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		})
	})
}

// ObserveCycle records one completed cycle and its duration.
func ObserveCycle(d time.Duration) {
	if cyclesTotal == nil {
		return
	}
	cyclesTotal.Inc()
	cycleDurationSeconds.Observe(d.Seconds())
}

// IncChannelOutcome counts one channel's per-cycle outcome.
func IncChannelOutcome(outcome string) {
	if channelsTotal == nil {
		return
	}
	channelsTotal.WithLabelValues(outcome).Inc()
}

// AddMessagesStored counts newly inserted rows.
func AddMessagesStored(n int64) {
	if messagesStoredTotal == nil || n <= 0 {
		return
	}
	messagesStoredTotal.Add(float64(n))
}

// IncFailure counts a per-channel failure by kind.
func IncFailure(kind string) {
	if fetchFailuresTotal == nil {
		return
	}
	fetchFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveFloodWait records a server-mandated wait.
func ObserveFloodWait(d time.Duration) {
	if floodWaitSeconds == nil {
		return
	}
	floodWaitSeconds.Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
