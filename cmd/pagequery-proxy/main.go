package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pagequery/pkg/config"
	"github.com/Sternrassler/pagequery/pkg/getrequest"
	"github.com/Sternrassler/pagequery/pkg/logging"
	"github.com/Sternrassler/pagequery/pkg/metrics"
	"github.com/Sternrassler/pagequery/pkg/pagination"
	"github.com/Sternrassler/pagequery/pkg/query"
	"github.com/Sternrassler/pagequery/pkg/request"
)

const (
	pagesPrefix = "/pages"
	maxPrefetch = 10

	// collectInterval is how often unobserved query states are dropped.
	collectInterval = time.Minute
)

func main() {
	// Configuration from environment
	configPath := getEnv("CONFIG_PATH", "")
	redisURL := getEnv("REDIS_URL", "")
	port := getEnv("PORT", "8080")
	userAgent := getEnv("USER_AGENT", "pagequery-proxy/0.1.0")

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty:  getEnv("LOG_PRETTY", "") == "true",
		Service: "pagequery-proxy",
	})

	bootstrap, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var redisClient *redis.Client
	var store query.Store = query.NewMemoryStore()
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: redisURL,
		})

		ctx := context.Background()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
		}
		log.Info().Str("addr", redisURL).Msg("Connected to Redis")
		store = query.NewRedisStore(redisClient)
	}

	cfg := request.DefaultConfig(bootstrap.Environments.AppBaseURL, userAgent)
	cfg.Bootstrap = bootstrap
	cfg.Redis = redisClient
	client, err := request.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create request client")
	}

	engine := query.NewEngine(store, query.Options{
		StaleTime:   30 * time.Second,
		ShouldRetry: request.IsRetryable,
	})
	engine.StartCollector(context.Background(), collectInterval)
	p := newProxy(engine, client)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc(pagesPrefix+"/", p.pagesHandler)

	addr := ":" + port
	log.Info().
		Str("addr", addr).
		Str("upstream", bootstrap.Environments.AppBaseURL).
		Str("user_agent", userAgent).
		Msg("Starting pagequery proxy")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether the shared store is reachable. Without Redis
// the proxy is always ready.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

type proxy struct {
	engine  *query.Engine
	fetcher request.Fetcher
	logger  zerolog.Logger
}

func newProxy(engine *query.Engine, fetcher request.Fetcher) *proxy {
	return &proxy{
		engine:  engine,
		fetcher: fetcher,
		logger:  logging.NewLogger("proxy"),
	}
}

// pageResponse is the body returned for /pages requests.
type pageResponse struct {
	Status     bool                 `json:"status"`
	StatusCode int                  `json:"status_code"`
	Message    string               `json:"message"`
	Page       int                  `json:"page"`
	Data       json.RawMessage      `json:"data"`
	Pagination *pagination.Envelope `json:"pagination,omitempty"`
}

// pagesHandler serves /pages/<upstream path>. The query string is passed
// upstream except "prefetch=N", which warms the next N pages.
//
// Example: /pages/items?page=2&prefetch=2 fetches /items?page=2 and caches pages 3 and 4.
func (p *proxy) pagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path, prefetch, err := upstreamPath(r.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h, err := getrequest.New[json.RawMessage](p.engine, p.fetcher, getrequest.Config{Path: path})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer h.Close()

	res, err := h.Fetch(r.Context())
	if err != nil {
		status, message := errorStatus(err)
		p.logger.Debug().Err(err).Str("path", path).Int("status", status).Msg("Page fetch failed")
		writeError(w, status, message)
		return
	}

	if prefetch > 0 && res.Pagination != nil && res.Pagination.HasNext() {
		pages := make([]int, 0, prefetch)
		for i := 0; i < prefetch; i++ {
			pages = append(pages, res.Pagination.NextPage+i)
		}
		if failed := h.Prefetch(r.Context(), pages...); len(failed) > 0 {
			p.logger.Debug().Int("failed", len(failed)).Str("path", path).Msg("Some pages not prefetched")
		}
	}

	page, ok := pagination.PageFromLink(path)
	if !ok {
		page = 1
	}

	writeJSON(w, http.StatusOK, pageResponse{
		Status:     res.Status,
		StatusCode: res.StatusCode,
		Message:    res.Message,
		Page:       page,
		Data:       res.Data,
		Pagination: res.Pagination,
	})
}

// upstreamPath strips the /pages prefix and the prefetch parameter.
func upstreamPath(u *url.URL) (string, int, error) {
	path := strings.TrimPrefix(u.Path, pagesPrefix)
	if path == "" || path == "/" {
		return "", 0, fmt.Errorf("upstream path is required")
	}

	values := u.Query()
	prefetch := 0
	if raw := values.Get("prefetch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return "", 0, fmt.Errorf("invalid prefetch %q", raw)
		}
		if n > maxPrefetch {
			n = maxPrefetch
		}
		prefetch = n
		values.Del("prefetch")
	}

	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return path, prefetch, nil
}

// errorStatus maps a fetch error to the proxy response status.
func errorStatus(err error) (int, string) {
	var reqErr *request.Error
	if !errors.As(err, &reqErr) {
		return http.StatusBadGateway, "upstream request failed"
	}

	switch {
	case reqErr.Class == request.ErrorClassCircuitOpen:
		return http.StatusServiceUnavailable, reqErr.Message
	case reqErr.Class == request.ErrorClassAborted:
		return http.StatusForbidden, reqErr.Message
	case reqErr.StatusCode >= 400 && reqErr.StatusCode < 500:
		return reqErr.StatusCode, reqErr.Message
	default:
		return http.StatusBadGateway, reqErr.Message
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"status":  false,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
