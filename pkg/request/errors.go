package request

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// ErrorClass classifies a failed request for observability.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and local quota blocks.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassAborted represents requests stopped by middleware.
	ErrorClassAborted ErrorClass = "aborted"

	// ErrorClassCircuitOpen represents requests rejected by the circuit breaker.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"
)

// ErrAborted is wrapped by errors produced when middleware declines a request.
var ErrAborted = errors.New("request aborted by middleware")

// Error is the failure variant of a request result. Status is always false.
type Error struct {
	Status     bool            `json:"status"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data,omitempty"`
	Class      ErrorClass      `json:"class"`
	Err        error           `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("request %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status code to an error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		// 1xx/3xx are not followed further and are treated as client errors.
		return ErrorClassClient
	}
}

// countsAsFailure reports whether a class should trip the circuit breaker.
func countsAsFailure(class ErrorClass) bool {
	return class == ErrorClassServer || class == ErrorClassNetwork
}

// IsRetryable reports whether err is worth retrying: server, network and
// rate limit failures are, client errors and aborted requests are not.
// Errors that are not an *Error are retried.
func IsRetryable(err error) bool {
	var reqErr *Error
	if !errors.As(err, &reqErr) {
		return true
	}
	switch reqErr.Class {
	case ErrorClassServer, ErrorClassNetwork, ErrorClassRateLimit:
		return true
	default:
		return false
	}
}
