// Package getrequest provides a handle over a cached, re-fetchable,
// paginated GET request.
//
// A Handle tracks a request path, a page number and query options. Reads
// come from the query engine; writes to the path and options are deferred
// through a transition queue, so a burst of navigation calls settles on the
// last one.
package getrequest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/pagequery/pkg/logging"
	"github.com/Sternrassler/pagequery/pkg/pagination"
	"github.com/Sternrassler/pagequery/pkg/query"
	"github.com/Sternrassler/pagequery/pkg/request"
	"github.com/Sternrassler/pagequery/pkg/transition"
)

const (
	slotPath = "path"
	slotPage = "page"
)

// ErrClosed is returned by operations on a closed handle.
var ErrClosed = errors.New("handle closed")

// TokenProvider returns the bearer token for the next request.
// An empty token sends no Authorization header.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a TokenProvider that always yields token.
func StaticToken(token string) TokenProvider {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

// Config holds handle configuration.
type Config struct {
	// Path is the initial resource path. Required.
	Path string

	// Load enables fetching. It is ignored when QueryOptions.Enabled is set.
	Load bool

	// QueryOptions seeds the query engine options for this handle.
	QueryOptions query.Options

	// TokenProvider supplies the bearer token (default: empty token).
	TokenProvider TokenProvider

	// Transition configures the deferred state writes.
	Transition transition.Config

	// Prefetch configures the worker pool used by Prefetch.
	Prefetch pagination.Config
}

// Handle is a stable handle over one paginated GET request.
type Handle[T any] struct {
	engine     *query.Engine
	fetcher    request.Fetcher
	token      TokenProvider
	load       bool
	queue      *transition.Queue
	prefetcher *pagination.Prefetcher
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	path        string
	page        int
	options     query.Options
	pending     *query.Options
	key         query.Key
	enabled     bool
	unsubscribe func()
	closed      bool

	subsMu  sync.Mutex
	subs    map[uint64]func(State[T])
	nextSub uint64
}

// New creates a handle for cfg.Path and issues the first query when enabled.
func New[T any](engine *query.Engine, fetcher request.Fetcher, cfg Config) (*Handle[T], error) {
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.TokenProvider == nil {
		cfg.TokenProvider = StaticToken("")
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handle[T]{
		engine:  engine,
		fetcher: fetcher,
		token:   cfg.TokenProvider,
		load:    cfg.Load,
		queue:   transition.New(cfg.Transition),
		logger:  logging.NewLogger("getrequest"),
		ctx:     ctx,
		cancel:  cancel,
		path:    cfg.Path,
		page:    1,
		options: withLoad(cfg.QueryOptions, cfg.Load),
		subs:    make(map[uint64]func(State[T])),
	}
	h.prefetcher = pagination.NewPrefetcher(pagination.PageFetcherFunc(h.fetchPage), cfg.Prefetch)

	if err := h.apply(true); err != nil {
		cancel()
		return nil, err
	}
	h.queue.Start(ctx)

	return h, nil
}

// withLoad defaults Enabled to load.
func withLoad(opts query.Options, load bool) query.Options {
	if opts.Enabled == nil {
		opts.Enabled = query.Bool(load)
	}
	return opts
}

// Get returns the result cached for the current key, then schedules a switch
// to link (and to opts, when non-nil) at transition priority. The path and
// options change together, so only the resulting key is queried. The returned
// result belongs to the key in effect before the switch; observe State or
// Subscribe for the new page.
func (h *Handle[T]) Get(link string, opts *query.Options) *Result[T] {
	res := h.State().Result

	if opts != nil {
		o := withLoad(*opts, h.load)
		h.mu.Lock()
		h.pending = &o
		h.mu.Unlock()
	}
	_ = h.schedule(slotPath, transition.Transition, func() { h.setPath(link) })

	return res
}

// GotoPage switches the path to page n.
func (h *Handle[T]) GotoPage(n int) error {
	h.mu.RLock()
	current := h.path
	h.mu.RUnlock()

	link := pagination.BuildLink(current, n)
	if link != current {
		if err := h.schedule(slotPage, transition.Urgent, func() { h.setPage(n) }); err != nil {
			return err
		}
	}
	return h.schedule(slotPath, transition.Urgent, func() { h.setPath(link) })
}

// NextPage moves to the envelope's next page. It reports whether navigation
// was scheduled; there must be a result with next_page > current_page.
func (h *Handle[T]) NextPage() bool {
	env := h.envelope()
	if env == nil || !env.HasNext() {
		return false
	}
	return h.GotoPage(env.NextPage) == nil
}

// PrevPage moves to the envelope's previous page. It reports whether
// navigation was scheduled; there must be a result with
// previous_page < current_page.
func (h *Handle[T]) PrevPage() bool {
	env := h.envelope()
	if env == nil || !env.HasPrev() {
		return false
	}
	return h.GotoPage(env.PreviousPage) == nil
}

// UpdatePath switches to path without touching the page number.
func (h *Handle[T]) UpdatePath(path string) error {
	return h.schedule(slotPath, transition.Urgent, func() { h.setPath(path) })
}

// Page returns the page number of the last page navigation (initially 1).
func (h *Handle[T]) Page() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.page
}

// Path returns the applied request path.
func (h *Handle[T]) Path() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.path
}

// QueryKey returns the cache key of the applied path.
func (h *Handle[T]) QueryKey() query.Key {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key
}

// State returns the query state of the current key.
func (h *Handle[T]) State() State[T] {
	return h.decodeState(h.engine.Get(h.ctx, h.QueryKey()))
}

// Subscribe registers fn for state changes of the current key, including
// switches to a new key. The returned func removes the subscription.
func (h *Handle[T]) Subscribe(fn func(State[T])) func() {
	h.subsMu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = fn
	h.subsMu.Unlock()

	return func() {
		h.subsMu.Lock()
		delete(h.subs, id)
		h.subsMu.Unlock()
	}
}

// Fetch fetches the current key and waits for the result, even when the
// handle is not enabled.
func (h *Handle[T]) Fetch(ctx context.Context) (*Result[T], error) {
	h.mu.RLock()
	key, path, opts := h.key, h.path, h.options
	h.mu.RUnlock()

	st, err := h.engine.Fetch(ctx, key, h.producer(path, key), opts)
	if err != nil {
		return nil, err
	}
	return decodeResult[T](st.Data)
}

// Refetch drops the cached result of the current key and fetches it again.
func (h *Handle[T]) Refetch(ctx context.Context) (*Result[T], error) {
	if err := h.engine.Invalidate(ctx, h.QueryKey()); err != nil {
		h.logger.Debug().Err(err).Msg("Invalidate failed, refetching anyway")
	}
	return h.Fetch(ctx)
}

// Prefetch loads other pages of the current path into the cache and returns
// the error of every page that failed.
func (h *Handle[T]) Prefetch(ctx context.Context, pages ...int) map[int]error {
	return h.prefetcher.Run(ctx, h.Path(), pages)
}

// Flush applies pending path and page writes, with any staged options, now.
func (h *Handle[T]) Flush() {
	h.queue.Flush()
}

// Close stops deferred writes and detaches from the engine. Fetches already
// running complete and stay cached.
func (h *Handle[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubscribe := h.unsubscribe
	h.unsubscribe = nil
	h.mu.Unlock()

	h.queue.Stop()
	if unsubscribe != nil {
		unsubscribe()
	}
	h.cancel()
}

func (h *Handle[T]) schedule(slot string, priority transition.Priority, fn func()) error {
	if err := h.queue.Schedule(slot, priority, fn); err != nil {
		if errors.Is(err, transition.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// setPath applies path together with any options staged by Get.
func (h *Handle[T]) setPath(path string) {
	h.mu.Lock()
	h.path = path
	if h.pending != nil {
		h.options = *h.pending
		h.pending = nil
	}
	h.mu.Unlock()

	if err := h.apply(false); err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("Path not applied")
	}
}

func (h *Handle[T]) setPage(n int) {
	h.mu.Lock()
	h.page = n
	h.mu.Unlock()
}

// apply derives the key from path and options. A new key, or a switch to
// enabled, issues a query.
func (h *Handle[T]) apply(initial bool) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}

	key, err := query.NewKey(h.path, h.options.Vary)
	if err != nil {
		h.mu.Unlock()
		return err
	}

	enabled := h.options.IsEnabled()
	keyChanged := initial || !key.Equal(h.key)
	enabledNow := enabled && !h.enabled
	h.enabled = enabled

	var oldUnsubscribe func()
	if keyChanged {
		oldUnsubscribe = h.unsubscribe
		h.key = key
		h.unsubscribe = h.engine.Subscribe(key, h.forward)
	}
	path, opts := h.path, h.options
	h.mu.Unlock()

	if oldUnsubscribe != nil {
		oldUnsubscribe()
	}

	if !keyChanged && !enabledNow {
		return nil
	}

	h.logger.Debug().
		Str("key", key.String()).
		Bool("enabled", enabled).
		Msg("Query key applied")

	st := h.engine.Query(h.ctx, key, h.producer(path, key), opts)
	if keyChanged {
		h.forward(st)
	}
	return nil
}

// producer binds a fetch to path so a superseded fetch is cached under its own key.
func (h *Handle[T]) producer(path string, key query.Key) query.Producer {
	return func(ctx context.Context) ([]byte, error) {
		token, err := h.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("bearer token: %w", err)
		}

		success, err := h.fetcher.Get(ctx, request.Request{
			Path:        path,
			BearerToken: token,
			Key:         key.String(),
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(success)
	}
}

// fetchPage warms the cache for one page of link.
func (h *Handle[T]) fetchPage(ctx context.Context, link string, page int) error {
	h.mu.RLock()
	opts := h.options
	h.mu.RUnlock()

	path := pagination.BuildLink(link, page)
	key, err := query.NewKey(path, opts.Vary)
	if err != nil {
		return err
	}
	return h.engine.Prefetch(ctx, key, h.producer(path, key), opts)
}

// forward passes engine updates of the current key to subscribers.
func (h *Handle[T]) forward(st query.State) {
	if !st.Key.Equal(h.QueryKey()) {
		return
	}

	h.subsMu.Lock()
	fns := make([]func(State[T]), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subsMu.Unlock()

	if len(fns) == 0 {
		return
	}

	decoded := h.decodeState(st)
	for _, fn := range fns {
		fn(decoded)
	}
}

func (h *Handle[T]) decodeState(st query.State) State[T] {
	res, err := decodeResult[T](st.Data)
	if err != nil {
		h.logger.Debug().Err(err).Str("key", st.Key.String()).Msg("Cached result not decodable")
	}
	return State[T]{State: st, Result: res}
}

func (h *Handle[T]) envelope() *pagination.Envelope {
	res := h.State().Result
	if res == nil {
		return nil
	}
	return res.Pagination
}
