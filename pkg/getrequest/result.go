package getrequest

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/Sternrassler/pagequery/pkg/pagination"
	"github.com/Sternrassler/pagequery/pkg/query"
	"github.com/Sternrassler/pagequery/pkg/request"
)

// Result is a successful response decoded into T.
type Result[T any] struct {
	Status     bool
	StatusCode int
	Message    string

	// Data is the response body.
	Data T

	// Pagination is the body's "pagination" field, nil when absent.
	Pagination *pagination.Envelope
}

// State is the query state of the handle's current key with its decoded result.
type State[T any] struct {
	query.State

	// Result is decoded from State.Data. It is nil before the first success.
	Result *Result[T]
}

// decodeResult turns a cached request.Success back into a Result.
func decodeResult[T any](data []byte) (*Result[T], error) {
	if len(data) == 0 {
		return nil, nil
	}

	var success request.Success
	if err := json.Unmarshal(data, &success); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}

	res := &Result[T]{
		Status:     success.Status,
		StatusCode: success.StatusCode,
		Message:    success.Message,
	}
	if err := success.Decode(&res.Data); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}

	// A body that is not an object simply has no envelope.
	if env, err := pagination.FromBody(success.Data); err == nil {
		res.Pagination = env
	}
	return res, nil
}
