package query

import (
	"time"
)

// Status is the lifecycle position of a query.
type Status string

const (
	// StatusIdle means no fetch has been attempted (or the query is disabled).
	StatusIdle Status = "idle"

	// StatusLoading means a fetch is running and no data exists yet.
	StatusLoading Status = "loading"

	// StatusSuccess means the last fetch resolved.
	StatusSuccess Status = "success"

	// StatusError means the last fetch failed after all retries.
	StatusError Status = "error"
)

// State is a snapshot of one query.
type State struct {
	Key    Key
	Status Status

	// Data is the last successful result. It survives later failures.
	Data []byte

	// Err is the rejection of the last failed fetch.
	Err error

	UpdatedAt      time.Time
	ErrorUpdatedAt time.Time

	// FetchCount counts successful fetches.
	FetchCount int

	// FailureCount counts consecutive failed fetches.
	FailureCount int

	// IsFetching is true while a fetch runs, including background refetches.
	IsFetching bool

	// IsInvalidated is true after Invalidate until the next successful fetch.
	IsInvalidated bool
}

// IsLoading reports whether the first fetch is still running.
func (s State) IsLoading() bool {
	return s.Status == StatusLoading
}

// IsError reports whether the last fetch failed.
func (s State) IsError() bool {
	return s.Status == StatusError
}

// IsSuccess reports whether the last fetch resolved.
func (s State) IsSuccess() bool {
	return s.Status == StatusSuccess
}

// isFresh reports whether s can be served without refetching.
func (s State) isFresh(staleTime time.Duration) bool {
	if s.Status != StatusSuccess || s.IsInvalidated {
		return false
	}
	return !isStale(s.UpdatedAt, staleTime)
}
