package request

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// Request describes a single call to the upstream API.
type Request struct {
	// Method defaults to GET.
	Method string

	// Path is appended to the configured base URL. It may carry a query string.
	Path string

	// BearerToken is sent as "Authorization: Bearer <token>" when non-empty.
	BearerToken string

	// Body is sent for mutations.
	Body []byte

	// Key identifies the query or mutation for middleware.
	Key string
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Success is the success variant of a request result. Status is always true.
type Success struct {
	Status     bool            `json:"status"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Header     http.Header     `json:"header,omitempty"`
}

// Decode unmarshals the response body into v.
func (s *Success) Decode(v any) error {
	if len(s.Data) == 0 {
		return nil
	}
	return json.Unmarshal(s.Data, v)
}

// messageFrom extracts a "message" field from a JSON body, falling back to the status text.
func messageFrom(body []byte, code int) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if len(body) > 0 && json.Unmarshal(body, &envelope) == nil && envelope.Message != "" {
		return envelope.Message
	}
	return http.StatusText(code)
}
