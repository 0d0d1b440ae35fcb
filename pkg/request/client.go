// Package request implements the network request function: a single HTTP
// call against the configured upstream, returning either a Success or an
// *Error.
package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/pagequery/pkg/config"
	"github.com/Sternrassler/pagequery/pkg/logging"
	"github.com/Sternrassler/pagequery/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagequery_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagequery_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	requestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagequery_request_errors_total",
		Help: "Total upstream request errors by class",
	}, []string{"class"})
)

// Headers set on every request.
const (
	HeaderClientContext = "X-Client-Context"
	HeaderRequestID     = "X-Request-ID"
)

// Fetcher is the GET half of the client, as consumed by the adapter.
type Fetcher interface {
	Get(ctx context.Context, req Request) (*Success, error)
}

// Client performs requests against the configured upstream.
type Client struct {
	httpClient *http.Client
	cfg        Config
	headers    *config.HeaderStore
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	tracker    *ratelimit.Tracker
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	Bootstrap config.Bootstrap

	// Headers are attached to every request. Optional.
	Headers *config.HeaderStore

	UserAgent string

	// RateLimit is requests per second; 0 disables local pacing.
	RateLimit float64
	Burst     int

	// Redis enables the shared upstream quota tracker. Optional.
	Redis *redis.Client

	// BreakerFailures is the number of consecutive failures that opens the circuit.
	BreakerFailures uint32
	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration

	// HTTPClient overrides the underlying client (tests). Its Timeout is left untouched.
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration for baseURL with conservative defaults.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		Bootstrap:       config.DefaultBootstrap(baseURL),
		UserAgent:       userAgent,
		RateLimit:       10,
		Burst:           20,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Bootstrap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bootstrap config: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = config.NewHeaderStore(nil)
	}

	logger := logging.NewLogger("request")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		httpClient: httpClient,
		cfg:        cfg,
		headers:    cfg.Headers,
		logger:     logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.Redis != nil {
		c.tracker = ratelimit.NewTracker(cfg.Redis, logger)
	}

	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "upstream",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c, nil
}

// Headers returns the header store shared by all requests.
func (c *Client) Headers() *config.HeaderStore {
	return c.headers
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, req Request) (*Success, error) {
	req.Method = http.MethodGet
	return c.Do(ctx, req)
}

// outcome carries a completed HTTP exchange out of the circuit breaker.
type outcome struct {
	success *Success
	failure *Error
}

// Do performs a request. The returned error is always an *Error.
func (c *Client) Do(ctx context.Context, req Request) (*Success, error) {
	method := req.method()
	endpoint := endpointOf(req.Path)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.runMiddleware(ctx, method, req); err != nil {
		return nil, c.fail(endpoint, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(endpoint, &Error{Class: ErrorClassNetwork, Message: "rate limiter wait", Err: err})
		}
	}

	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Quota check failed, allowing request")
		} else if !allowed {
			return nil, c.fail(endpoint, &Error{Class: ErrorClassRateLimit, Message: "request blocked: upstream quota critical"})
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		out := c.execute(ctx, method, req)
		if out.failure != nil && countsAsFailure(out.failure.Class) {
			return out, out.failure
		}
		return out, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, c.fail(endpoint, &Error{Class: ErrorClassCircuitOpen, Message: "upstream circuit open", Err: err})
	}

	out, ok := result.(outcome)
	if !ok {
		return nil, c.fail(endpoint, &Error{Class: ErrorClassNetwork, Message: "request failed", Err: err})
	}
	if out.failure != nil {
		return nil, c.fail(endpoint, out.failure)
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(out.success.StatusCode)).Inc()
	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Int("status", out.success.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Request succeeded")

	return out.success, nil
}

// runMiddleware invokes the query or mutation middleware for the request.
func (c *Client) runMiddleware(ctx context.Context, method string, req Request) error {
	mw := c.cfg.Bootstrap.MutationMiddleware
	if method == http.MethodGet {
		mw = c.cfg.Bootstrap.QueryMiddleware
	}
	if mw == nil {
		return nil
	}

	proceed, err := mw(ctx, config.RequestConfig{
		Method:      method,
		Path:        req.Path,
		BearerToken: req.BearerToken,
		Body:        req.Body,
		Headers:     c.headers.GetHeaders(),
		Key:         req.Key,
	})
	if err != nil {
		return &Error{Class: ErrorClassAborted, Message: "middleware failed", Err: err}
	}
	if !proceed {
		return &Error{Class: ErrorClassAborted, Message: "middleware declined request", Err: ErrAborted}
	}
	return nil
}

// execute performs the HTTP exchange and reads the full body.
func (c *Client) execute(ctx context.Context, method string, req Request) outcome {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Bootstrap.Environments.Timeout())
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(req.Path), body)
	if err != nil {
		return outcome{failure: &Error{Class: ErrorClassClient, Message: "create request", Err: err}}
	}
	c.setHeaders(httpReq, req)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return outcome{failure: &Error{Class: ErrorClassNetwork, Message: "http request failed", Err: err}}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcome{failure: &Error{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}}
	}

	if c.tracker != nil {
		if err := c.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return outcome{failure: &Error{
			StatusCode: resp.StatusCode,
			Message:    messageFrom(data, resp.StatusCode),
			Data:       data,
			Class:      classifyStatus(resp.StatusCode),
		}}
	}

	return outcome{success: &Success{
		Status:     true,
		StatusCode: resp.StatusCode,
		Message:    messageFrom(data, resp.StatusCode),
		Data:       data,
		Header:     resp.Header.Clone(),
	}}
}

func (c *Client) setHeaders(httpReq *http.Request, req Request) {
	for key, values := range c.headers.GetHeaders() {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	if c.cfg.Bootstrap.Context != "" {
		httpReq.Header.Set(HeaderClientContext, string(c.cfg.Bootstrap.Context))
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}
}

// url joins the base URL and path. Absolute paths are used as-is.
func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base := strings.TrimRight(c.cfg.Bootstrap.Environments.AppBaseURL, "/")
	return base + "/" + strings.TrimLeft(path, "/")
}

// fail records metrics and logs for a failed request.
func (c *Client) fail(endpoint string, err error) error {
	var reqErr *Error
	if !errors.As(err, &reqErr) {
		reqErr = &Error{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}

	status := string(reqErr.Class)
	if reqErr.StatusCode > 0 {
		status = strconv.Itoa(reqErr.StatusCode)
	}
	requestsTotal.WithLabelValues(endpoint, status).Inc()
	requestErrorsTotal.WithLabelValues(string(reqErr.Class)).Inc()

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", reqErr.StatusCode).
		Str("error_class", string(reqErr.Class)).
		Msg("Request failed")

	return reqErr
}

// endpointOf strips the query string from a path for metric labels.
func endpointOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
