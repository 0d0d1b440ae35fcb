package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Bootstrap
		wantErr bool
	}{
		{
			name: "default web config",
			cfg:  DefaultBootstrap("https://api.example.com"),
		},
		{
			name: "empty context is allowed",
			cfg: Bootstrap{
				Environments: Environments{AppBaseURL: "https://api.example.com"},
			},
		},
		{
			name:    "missing base url",
			cfg:     Bootstrap{Context: ContextApp},
			wantErr: true,
		},
		{
			name: "negative timeout",
			cfg: Bootstrap{
				Environments: Environments{AppBaseURL: "http://x", AppTimeout: -1},
			},
			wantErr: true,
		},
		{
			name: "unknown context",
			cfg: Bootstrap{
				Environments: Environments{AppBaseURL: "http://x"},
				Context:      "tv",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvironments_Timeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, Environments{}.Timeout())
	assert.Equal(t, 1500*time.Millisecond, Environments{AppTimeout: 1500}.Timeout())
}

func TestContextType_Valid(t *testing.T) {
	for _, c := range []ContextType{ContextApp, ContextWeb, ContextElectron} {
		assert.True(t, c.Valid(), string(c))
	}
	assert.False(t, ContextType("desktop").Valid())
}

func TestHeaderStore(t *testing.T) {
	initial := http.Header{"X-Tenant": []string{"acme"}}
	store := NewHeaderStore(initial)

	// Mutating the seed must not leak into the store.
	initial.Set("X-Tenant", "other")
	assert.Equal(t, "acme", store.GetHeaders().Get("X-Tenant"))

	got := store.GetHeaders()
	got.Set("X-Tenant", "mutated")
	assert.Equal(t, "acme", store.GetHeaders().Get("X-Tenant"))

	store.SetQueryHeaders(http.Header{"Authorization": []string{"Bearer abc"}})
	headers := store.GetHeaders()
	assert.Equal(t, "Bearer abc", headers.Get("Authorization"))
	assert.Empty(t, headers.Get("X-Tenant"))

	store.SetQueryHeaders(nil)
	assert.Empty(t, store.GetHeaders())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagequery.yaml")
	content := `
environments:
  app_base_url: https://api.example.com
  app_timeout: 2500
context: electronjs
model_config:
  id_column: uuid
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.Environments.AppBaseURL)
	assert.Equal(t, 2500, cfg.Environments.AppTimeout)
	assert.Equal(t, ContextElectron, cfg.Context)
	assert.Equal(t, "uuid", cfg.ModelConfig.IDColumn)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagequery.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environments:\n  app_base_url: http://localhost\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ContextWeb, cfg.Context)
	assert.Equal(t, "id", cfg.ModelConfig.IDColumn)
	assert.Equal(t, DefaultTimeout, cfg.Environments.Timeout())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PAGEQUERY_ENVIRONMENTS_APP_BASE_URL", "http://from-env")
	t.Setenv("PAGEQUERY_CONTEXT", "app")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", cfg.Environments.AppBaseURL)
	assert.Equal(t, ContextApp, cfg.Context)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
