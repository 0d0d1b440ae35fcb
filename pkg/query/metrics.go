package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store hits by layer ("memory", "redis").
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagequery_cache_hits_total",
			Help: "Total number of query store hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks store misses by layer.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagequery_cache_misses_total",
			Help: "Total number of query store misses",
		},
		[]string{"layer"},
	)

	// StoreErrors tracks store operation errors.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagequery_store_errors_total",
			Help: "Total number of query store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)

	// Fetches tracks completed fetches by result ("success", "error").
	Fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagequery_fetches_total",
			Help: "Total number of completed query fetches",
		},
		[]string{"result"},
	)

	// Retries tracks retry attempts.
	Retries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagequery_retries_total",
			Help: "Total number of query fetch retry attempts",
		},
	)

	// RetryBackoff observes the backoff before each retry.
	RetryBackoff = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagequery_retry_backoff_seconds",
			Help:    "Backoff duration before query fetch retries",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// RetryExhausted tracks fetches that failed after all retries.
	RetryExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagequery_retry_exhausted_total",
			Help: "Total number of query fetches that exhausted their retries",
		},
	)

	// StatesEvicted tracks query states dropped after their cache time.
	StatesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagequery_states_evicted_total",
			Help: "Total number of unobserved query states dropped after their cache time",
		},
	)

	// InFlight tracks fetches currently running.
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagequery_fetches_in_flight",
			Help: "Number of query fetches currently running",
		},
	)
)
