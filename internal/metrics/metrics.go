// Package metrics exposes Prometheus collectors for the scheduler's round
// loop and the per-host politeness rate limiter. Fetch/render/job-level
// counters are covered separately by internal/progress's sinks; this
// package covers the concerns that live below the per-URL state machines.
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
	roundsTotal           *prometheus.CounterVec
	roundDurationSeconds  prometheus.Histogram
	poolActiveWorkers     *prometheus.GaugeVec
	frontierQueueDepth    *prometheus.GaugeVec
	rateLimitDelaySeconds *prometheus.HistogramVec
	adminRequestsTotal    *prometheus.CounterVec
	adminRequestDuration  *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors against the default Prometheus registry.
// It is safe to call multiple times.
func Init() {
	once.Do(func() {
		roundsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duskcrawl_scheduler_rounds_total",
				Help: "Total scheduler rounds completed, labeled by pool.",
			},
			[]string{"pool"},
		)
		roundDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "duskcrawl_scheduler_round_duration_seconds",
				Help:    "Wall time per scheduler round across both pools.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)
		poolActiveWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "duskcrawl_pool_active_workers",
				Help: "Workers currently processing a popped URL, labeled by pool.",
			},
			[]string{"pool"},
		)
		frontierQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "duskcrawl_frontier_queue_depth",
				Help: "Approximate frontier queue depth observed at round start, labeled by queue.",
			},
			[]string{"queue"},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duskcrawl_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-host rate limiter token.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
		adminRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duskcrawl_admin_requests_total",
				Help: "Admin HTTP surface requests, labeled by route and status code.",
			},
			[]string{"route", "code"},
		)
		adminRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duskcrawl_admin_request_duration_seconds",
				Help:    "Admin HTTP surface request latency, labeled by route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"route"},
		)
	})
}

// ObserveAdminRequest records one admin-surface HTTP request.
func ObserveAdminRequest(route string, code int, dur time.Duration) {
	if adminRequestsTotal == nil {
		return
	}
	adminRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	adminRequestDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// Handler returns the Prometheus scrape handler for the admin surface.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRound records one completed scheduler round for pool.
func ObserveRound(pool string, dur time.Duration) {
	if roundsTotal == nil {
		return
	}
	roundsTotal.WithLabelValues(pool).Inc()
	roundDurationSeconds.Observe(dur.Seconds())
}

// SetActiveWorkers reports the current in-flight worker count for pool.
func SetActiveWorkers(pool string, n int) {
	if poolActiveWorkers == nil {
		return
	}
	poolActiveWorkers.WithLabelValues(pool).Set(float64(n))
}

// SetQueueDepth reports the frontier's observed depth for queue.
func SetQueueDepth(queue string, depth int) {
	if frontierQueueDepth == nil {
		return
	}
	frontierQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveRateLimitDelay records the duration of a rate-limit wait for host.
func ObserveRateLimitDelay(host string, dur time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(dur.Seconds())
}
