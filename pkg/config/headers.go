package config

import (
	"net/http"
	"sync"
)

// HeaderStore holds the headers attached to every outgoing request.
type HeaderStore struct {
	mu      sync.RWMutex
	headers http.Header
}

// NewHeaderStore creates a store seeded with a copy of initial.
func NewHeaderStore(initial http.Header) *HeaderStore {
	if initial == nil {
		initial = http.Header{}
	}
	return &HeaderStore{headers: initial.Clone()}
}

// GetHeaders returns a copy of the current headers.
func (s *HeaderStore) GetHeaders() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone()
}

// SetQueryHeaders replaces the current headers.
func (s *HeaderStore) SetQueryHeaders(h http.Header) {
	if h == nil {
		h = http.Header{}
	}
	s.mu.Lock()
	s.headers = h.Clone()
	s.mu.Unlock()
}
