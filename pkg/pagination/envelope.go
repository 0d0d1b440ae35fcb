package pagination

import (
	"github.com/goccy/go-json"
)

// Envelope is the pagination block a paginated endpoint returns next to its data.
// Pages are 1-based. NextPage or PreviousPage equal to CurrentPage means there is
// no page in that direction.
type Envelope struct {
	CurrentPage  int `json:"current_page"`
	NextPage     int `json:"next_page"`
	PreviousPage int `json:"previous_page"`
}

// HasNext reports whether a later page exists.
func (e Envelope) HasNext() bool {
	return e.NextPage > e.CurrentPage
}

// HasPrev reports whether an earlier page exists.
func (e Envelope) HasPrev() bool {
	return e.PreviousPage < e.CurrentPage
}

// FromBody extracts the envelope from a response body of the form
// {"data": ..., "pagination": {...}}. It returns nil when the body has no
// pagination field.
func FromBody(body []byte) (*Envelope, error) {
	var wrapper struct {
		Pagination *Envelope `json:"pagination"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Pagination, nil
}
