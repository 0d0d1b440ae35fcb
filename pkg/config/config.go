// Package config holds the bootstrap configuration shared by the request
// function and the paginated request adapter.
package config

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ContextType selects platform-specific request behaviour.
type ContextType string

const (
	// ContextApp is a native mobile application.
	ContextApp ContextType = "app"

	// ContextWeb is a browser application.
	ContextWeb ContextType = "web"

	// ContextElectron is a desktop shell embedding a browser runtime.
	ContextElectron ContextType = "electronjs"
)

// Valid reports whether c is one of the known contexts.
func (c ContextType) Valid() bool {
	switch c {
	case ContextApp, ContextWeb, ContextElectron:
		return true
	default:
		return false
	}
}

// DefaultTimeout is used when Environments.AppTimeout is unset.
const DefaultTimeout = 30 * time.Second

// Environments carries the upstream base URL and request timeout.
type Environments struct {
	// AppBaseURL is prefixed to every request path.
	AppBaseURL string `mapstructure:"app_base_url"`

	// AppTimeout is the per-request timeout in milliseconds.
	AppTimeout int `mapstructure:"app_timeout"`
}

// Timeout returns AppTimeout as a duration, falling back to DefaultTimeout.
func (e Environments) Timeout() time.Duration {
	if e.AppTimeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(e.AppTimeout) * time.Millisecond
}

// ModelConfig describes model-aware consumers.
type ModelConfig struct {
	// IDColumn is the primary key field name.
	IDColumn string `mapstructure:"id_column"`
}

// RequestConfig is handed to middleware before a request executes.
type RequestConfig struct {
	Method      string
	Path        string
	BearerToken string
	Body        []byte
	Headers     http.Header

	// Key is the query key for GETs or the mutation key for other methods.
	Key string
}

// Middleware runs before a request. Returning false aborts the request.
type Middleware func(ctx context.Context, req RequestConfig) (bool, error)

// Bootstrap is the configuration recognised by the surrounding application.
type Bootstrap struct {
	Environments Environments `mapstructure:"environments"`
	Context      ContextType  `mapstructure:"context"`
	ModelConfig  ModelConfig  `mapstructure:"model_config"`

	MutationMiddleware Middleware `mapstructure:"-"`
	QueryMiddleware    Middleware `mapstructure:"-"`
}

// DefaultBootstrap returns a web context configuration with the default timeout.
func DefaultBootstrap(baseURL string) Bootstrap {
	return Bootstrap{
		Environments: Environments{
			AppBaseURL: baseURL,
			AppTimeout: int(DefaultTimeout / time.Millisecond),
		},
		Context:     ContextWeb,
		ModelConfig: ModelConfig{IDColumn: "id"},
	}
}

// Validate checks the configuration for values the request function cannot use.
func (b Bootstrap) Validate() error {
	if b.Environments.AppBaseURL == "" {
		return fmt.Errorf("environments.app_base_url is required")
	}
	if b.Environments.AppTimeout < 0 {
		return fmt.Errorf("environments.app_timeout must be >= 0 (got %d)", b.Environments.AppTimeout)
	}
	if b.Context != "" && !b.Context.Valid() {
		return fmt.Errorf("unknown context %q (want app, web or electronjs)", b.Context)
	}
	return nil
}
