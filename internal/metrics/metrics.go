package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run identification for dashboards.
	RunInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "covariates_run_info",
			Help: "Pipeline run information",
		},
		[]string{"run_id", "version"},
	)

	// Backend fetch outcomes: ok, absent, rate_limited.
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covariates_fetches_total",
			Help: "Total backend fetches by outcome",
		},
		[]string{"backend", "status"},
	)

	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covariates_cache_hits_total",
			Help: "Total cells served from the response cache",
		},
		[]string{"backend"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covariates_batches_total",
			Help: "Total batches persisted",
		},
		[]string{"backend"},
	)

	BatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "covariates_batch_duration_seconds",
			Help:    "Duration of one batch including persist and flush",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5min
		},
		[]string{"backend"},
	)

	CellsRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "covariates_cells_remaining",
			Help: "Unique cells still without a cached value",
		},
		[]string{"backend"},
	)
)
