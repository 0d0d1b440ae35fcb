// Package ratelimit tracks the request quota an upstream API advertises in
// its X-RateLimit-Remaining and X-RateLimit-Reset headers and gates requests
// before the quota is exhausted.
package ratelimit

import (
	"time"
)

// Response headers the tracker reads.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Redis keys for quota state storage.
const (
	RedisKeyRemaining      = "pagequery:quota:remaining"
	RedisKeyResetTimestamp = "pagequery:quota:reset_timestamp"
	RedisKeyLastUpdate     = "pagequery:quota:last_update"
)

// Thresholds for gating decisions.
const (
	// ThresholdCritical blocks all requests when the remaining quota falls below this value.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests when the remaining quota falls below this value.
	ThresholdWarning = 20

	// ThresholdHealthy marks normal operation.
	ThresholdHealthy = 50
)

// QuotaState is the last known upstream quota. It is shared across processes via Redis.
type QuotaState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests must be blocked.
func (s *QuotaState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *QuotaState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0 if it already has.
func (s *QuotaState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *QuotaState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
