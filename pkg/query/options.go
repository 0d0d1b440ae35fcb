package query

import (
	"time"
)

const (
	// DefaultCacheTime is how long a result stays in the store.
	DefaultCacheTime = 5 * time.Minute

	// DefaultRetry is the number of retries after the first attempt.
	DefaultRetry = 3

	// DefaultRetryDelay is the backoff before the first retry.
	DefaultRetryDelay = 1 * time.Second

	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay = 30 * time.Second
)

// Options configures how a query is fetched and cached.
// Zero values mean "use the engine default".
type Options struct {
	// Enabled gates fetching. nil means enabled.
	Enabled *bool

	// StaleTime is how long a successful result counts as fresh.
	// Zero marks results stale immediately.
	StaleTime time.Duration

	// CacheTime is how long a result is kept in the store.
	CacheTime time.Duration

	// Retry is the number of retries after a failed first attempt.
	Retry *int

	// RetryDelay is the base of the exponential backoff.
	RetryDelay time.Duration

	// ShouldRetry filters which errors are retried. nil retries every error.
	ShouldRetry func(error) bool

	// Vary adds identity to the query key beyond the request path.
	// It may be a url.Values or a struct with `url` tags.
	Vary any
}

// Bool returns a pointer to b, for Options.Enabled.
func Bool(b bool) *bool {
	return &b
}

// Int returns a pointer to i, for Options.Retry.
func Int(i int) *int {
	return &i
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Enabled:    Bool(true),
		CacheTime:  DefaultCacheTime,
		Retry:      Int(DefaultRetry),
		RetryDelay: DefaultRetryDelay,
	}
}

// Merge overlays the fields set in override on top of o.
func (o Options) Merge(override Options) Options {
	merged := o
	if override.Enabled != nil {
		merged.Enabled = override.Enabled
	}
	if override.StaleTime != 0 {
		merged.StaleTime = override.StaleTime
	}
	if override.CacheTime != 0 {
		merged.CacheTime = override.CacheTime
	}
	if override.Retry != nil {
		merged.Retry = override.Retry
	}
	if override.RetryDelay != 0 {
		merged.RetryDelay = override.RetryDelay
	}
	if override.ShouldRetry != nil {
		merged.ShouldRetry = override.ShouldRetry
	}
	if override.Vary != nil {
		merged.Vary = override.Vary
	}
	return merged
}

// IsEnabled reports whether fetching is allowed.
func (o Options) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

func (o Options) retries() int {
	if o.Retry == nil {
		return DefaultRetry
	}
	if *o.Retry < 0 {
		return 0
	}
	return *o.Retry
}

func (o Options) cacheTime() time.Duration {
	if o.CacheTime <= 0 {
		return DefaultCacheTime
	}
	return o.CacheTime
}
