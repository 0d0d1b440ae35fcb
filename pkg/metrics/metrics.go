// Package metrics exposes the Prometheus registry used by pagequery.
// Collectors are defined in their own packages (request, query, ratelimit,
// transition) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by pagequery.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler that serves all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Quota Metrics (pkg/ratelimit):
//   - pagequery_quota_remaining (Gauge): Requests remaining in the upstream quota window
//   - pagequery_quota_blocks_total (Counter): Requests blocked due to critical quota
//   - pagequery_quota_throttles_total (Counter): Requests throttled due to low quota
//
// Query Metrics (pkg/query):
//   - pagequery_cache_hits_total{layer} (Counter): Store hits by layer (memory, redis)
//   - pagequery_cache_misses_total{layer} (Counter): Store misses by layer
//   - pagequery_store_errors_total{operation} (Counter): Store operation errors
//   - pagequery_fetches_total{result} (Counter): Completed fetches by result
//   - pagequery_fetches_in_flight (Gauge): Fetches currently running
//   - pagequery_retries_total (Counter): Retry attempts
//   - pagequery_retry_backoff_seconds (Histogram): Backoff before retries
//   - pagequery_retry_exhausted_total (Counter): Fetches that used up their retries
//
// Request Metrics (pkg/request):
//   - pagequery_requests_total{endpoint, status} (Counter): Requests by endpoint and status
//   - pagequery_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - pagequery_request_errors_total{class} (Counter): Errors by class
//
// Transition Metrics (pkg/transition):
//   - pagequery_transition_tasks_applied_total{priority} (Counter): Deferred writes applied
//   - pagequery_transition_tasks_coalesced_total{priority} (Counter): Deferred writes replaced
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pagequery_cache_hits_total[5m])) /
//   (sum(rate(pagequery_cache_hits_total[5m])) + sum(rate(pagequery_cache_misses_total[5m])))
//
//   # Low Quota
//   pagequery_quota_remaining < 20
//
//   # Request Error Rate
//   rate(pagequery_request_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(pagequery_request_duration_seconds_bucket[5m]))
//
//   # Navigation Writes Discarded
//   rate(pagequery_transition_tasks_coalesced_total[5m])
