package query

import (
	"time"
)

// Entry is a cached query result.
type Entry struct {
	// Data is the encoded result produced by the query's producer.
	Data []byte `json:"data"`

	// UpdatedAt is when the producer returned Data.
	UpdatedAt time.Time `json:"updated_at"`

	// Expires is when the entry is evicted from the store.
	Expires time.Time `json:"expires"`
}

// NewEntry creates an entry updated now that lives for cacheTime.
func NewEntry(data []byte, cacheTime time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Data:      data,
		UpdatedAt: now,
		Expires:   now.Add(cacheTime),
	}
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// IsStale reports whether the entry is older than staleTime.
// A zero staleTime makes every entry stale.
func (e *Entry) IsStale(staleTime time.Duration) bool {
	return isStale(e.UpdatedAt, staleTime)
}

func isStale(updatedAt time.Time, staleTime time.Duration) bool {
	if staleTime <= 0 {
		return true
	}
	return time.Since(updatedAt) >= staleTime
}
