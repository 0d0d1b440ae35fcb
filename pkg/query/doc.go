// Package query implements the query cache engine behind paginated requests.
//
// The engine keeps one State per Key and moves it through
// idle → loading → success | error. It provides:
//
// - Non-blocking Query that starts a background fetch when data is missing or stale
// - Blocking Fetch and Prefetch
// - One in-flight fetch per key (singleflight)
// - Retries with exponential backoff and jitter
// - Memory or Redis stores, so several processes can share results
// - Invalidation and per-key subscriptions
// - Eviction of unobserved states older than their cache time (Collect)
// - Prometheus metrics
//
// # Basic Usage
//
//	engine := query.NewEngine(query.NewRedisStore(redisClient), query.Options{
//		StaleTime: 30 * time.Second,
//	})
//
//	key := query.Key{Path: "/items?page=2"}
//	st := engine.Query(ctx, key, func(ctx context.Context) ([]byte, error) {
//		return fetchItems(ctx, 2)
//	}, query.Options{})
//
//	if st.IsSuccess() {
//		// st.Data holds the last result
//	}
//
// # Keys
//
// A key is the request path alone unless Options.Vary adds fields:
//
//	key, err := query.NewKey("/items", struct {
//		Tenant string `url:"tenant"`
//	}{Tenant: "acme"})
//	// query:/items:tenant=acme
//
// Two queries with the same path and no Vary share one cache entry even if
// their other options differ.
//
// # Metrics
//
//   - pagequery_cache_hits_total{layer} - Store hits
//   - pagequery_cache_misses_total{layer} - Store misses
//   - pagequery_store_errors_total{operation} - Store operation errors
//   - pagequery_fetches_total{result} - Completed fetches
//   - pagequery_retries_total - Retry attempts
//   - pagequery_retry_backoff_seconds - Backoff before retries
//   - pagequery_retry_exhausted_total - Fetches that used up their retries
//   - pagequery_states_evicted_total - States dropped by eviction
//   - pagequery_fetches_in_flight - Running fetches
package query
