// Package observability declares the process-wide Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	EphemerisFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmonia_ephemeris_failures_total",
		Help: "Total number of ephemeris evaluations that failed and fell back to the last known value.",
	})

	ClusterDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harmonia_cluster_seconds",
		Help:    "Time spent detecting clusters for one request.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	SearchChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmonia_search_chunks_total",
		Help: "Total number of search chunks processed by the finder pool.",
	}, []string{"kind", "result"})

	SearchChunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harmonia_search_chunk_seconds",
		Help:    "Time spent processing one search chunk.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	PoolPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harmonia_pool_pending",
		Help: "Current number of submitted finder tasks that have not finished.",
	})

	EventsStored = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harmonia_events_stored",
		Help: "Current number of events held per event kind.",
	}, []string{"kind"})

	StoreNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmonia_store_notifications_total",
		Help: "Total number of event store change notifications.",
	}, []string{"phase"})

	WatcherEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmonia_watcher_events_total",
		Help: "Total number of chart and aspect set changes seen by the watcher.",
	}, []string{"kind"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmonia_http_requests_total",
		Help: "Total number of HTTP requests by route and status class.",
	}, []string{"route", "status"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmonia_rate_limited_total",
		Help: "Total number of search requests rejected by the rate limiter.",
	})
)
