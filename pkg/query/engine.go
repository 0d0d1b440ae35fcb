package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/pagequery/pkg/logging"
)

// Producer fetches the encoded result of a query.
type Producer func(ctx context.Context) ([]byte, error)

// Engine caches query results, deduplicates concurrent fetches per key,
// retries failures and tracks the status of every key it has seen.
type Engine struct {
	store    Store
	defaults Options
	group    singleflight.Group
	logger   zerolog.Logger

	mu      sync.Mutex
	states  map[string]*record
	subs    map[string]map[uint64]func(State)
	nextSub uint64
}

// record is the engine's bookkeeping for one key.
type record struct {
	state State

	// cacheTime is how long the state outlives its last update once nothing
	// subscribes to the key.
	cacheTime time.Duration
}

// lastUpdate returns the time of the latest success or error.
func (r *record) lastUpdate() time.Time {
	if r.state.ErrorUpdatedAt.After(r.state.UpdatedAt) {
		return r.state.ErrorUpdatedAt
	}
	return r.state.UpdatedAt
}

// NewEngine creates an engine backed by store. A nil store uses a MemoryStore.
// defaults are merged over DefaultOptions and apply to every query.
func NewEngine(store Store, defaults Options) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Engine{
		store:    store,
		defaults: DefaultOptions().Merge(defaults),
		logger:   logging.NewLogger("query-engine"),
		states:   make(map[string]*record),
		subs:     make(map[string]map[uint64]func(State)),
	}
}

// Query returns the current state of key and starts a background fetch when
// the query is enabled and its cached result is missing or stale.
// It never blocks on the network.
func (e *Engine) Query(ctx context.Context, key Key, producer Producer, opts Options) State {
	o := e.defaults.Merge(opts)
	st := e.Get(ctx, key)

	if !o.IsEnabled() || st.IsFetching || st.isFresh(o.StaleTime) {
		return st
	}

	st = e.begin(key)
	go func() {
		_, _ = e.run(context.WithoutCancel(ctx), key, producer, o)
	}()
	return st
}

// Fetch fetches key and waits for the result. A fresh cached result is
// returned without calling producer. Enabled is ignored.
func (e *Engine) Fetch(ctx context.Context, key Key, producer Producer, opts Options) (State, error) {
	o := e.defaults.Merge(opts)
	st := e.Get(ctx, key)
	if st.isFresh(o.StaleTime) {
		return st, nil
	}

	e.begin(key)
	return e.run(ctx, key, producer, o)
}

// Prefetch loads key into the cache unless a fresh result exists.
func (e *Engine) Prefetch(ctx context.Context, key Key, producer Producer, opts Options) error {
	_, err := e.Fetch(ctx, key, producer, opts)
	return err
}

// Get returns the current state of key. A key with no local state is
// hydrated from the store, so results written by other processes are visible.
// An unobserved state older than its cache time is dropped first.
func (e *Engine) Get(ctx context.Context, key Key) State {
	k := key.String()

	e.mu.Lock()
	if rec, ok := e.states[k]; ok {
		if !e.collectableLocked(k, rec, time.Now()) {
			snapshot := rec.state
			e.mu.Unlock()
			return snapshot
		}
		delete(e.states, k)
		StatesEvicted.Inc()
	}
	e.mu.Unlock()

	entry, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			e.logger.Warn().Err(err).Str("key", k).Msg("Store read failed")
		}
		return State{Key: key, Status: StatusIdle}
	}

	e.logger.Debug().Str("key", k).Msg("Hydrated query from store")

	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.states[k]; ok {
		return rec.state
	}
	rec := &record{
		state: State{
			Key:       key,
			Status:    StatusSuccess,
			Data:      entry.Data,
			UpdatedAt: entry.UpdatedAt,
		},
		cacheTime: e.defaults.cacheTime(),
	}
	e.states[k] = rec
	return rec.state
}

// Collect drops every state that has no subscribers, is not fetching and was
// last updated longer ago than its cache time. It returns how many were dropped.
func (e *Engine) Collect() int {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for k, rec := range e.states {
		if e.collectableLocked(k, rec, now) {
			delete(e.states, k)
			n++
		}
	}
	if n > 0 {
		StatesEvicted.Add(float64(n))
		e.logger.Debug().Int("evicted", n).Int("remaining", len(e.states)).Msg("Collected query states")
	}
	return n
}

// StartCollector runs Collect every interval until ctx is done.
func (e *Engine) StartCollector(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Collect()
			}
		}
	}()
}

// Len returns the number of keys with local state.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

func (e *Engine) collectableLocked(k string, rec *record, now time.Time) bool {
	if rec.state.IsFetching || len(e.subs[k]) > 0 {
		return false
	}
	return now.Sub(rec.lastUpdate()) >= rec.cacheTime
}

// Invalidate removes key from the store and marks it so the next Query refetches.
func (e *Engine) Invalidate(ctx context.Context, key Key) error {
	err := e.store.Delete(ctx, key)

	k := key.String()
	e.mu.Lock()
	rec, ok := e.states[k]
	var snapshot State
	if ok {
		rec.state.IsInvalidated = true
		snapshot = rec.state
	}
	e.mu.Unlock()

	if ok {
		e.notify(k, snapshot)
	}
	return err
}

// Subscribe registers fn for every state change of key.
// The returned func removes the subscription.
func (e *Engine) Subscribe(key Key, fn func(State)) func() {
	k := key.String()

	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	if e.subs[k] == nil {
		e.subs[k] = make(map[uint64]func(State))
	}
	e.subs[k][id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs[k], id)
			if len(e.subs[k]) == 0 {
				delete(e.subs, k)
			}
			e.mu.Unlock()
		})
	}
}

// begin marks key as fetching. Existing data keeps its status.
func (e *Engine) begin(key Key) State {
	k := key.String()

	e.mu.Lock()
	st := &e.recordLocked(key).state
	st.IsFetching = true
	if st.Data == nil {
		st.Status = StatusLoading
	}
	snapshot := *st
	e.mu.Unlock()

	e.notify(k, snapshot)
	return snapshot
}

// run fetches key once per concurrent group of callers and settles the result.
func (e *Engine) run(ctx context.Context, key Key, producer Producer, o Options) (State, error) {
	k := key.String()
	logger := e.logger.With().Str("key", k).Logger()

	v, err, shared := e.group.Do(k, func() (any, error) {
		InFlight.Inc()
		defer InFlight.Dec()

		start := time.Now()
		data, err := retryWithBackoff(ctx, o, logger, producer)
		st := e.settle(ctx, key, data, err, o)

		if err != nil {
			Fetches.WithLabelValues("error").Inc()
			return st, err
		}

		Fetches.WithLabelValues("success").Inc()
		logger.Info().
			Dur("duration", time.Since(start)).
			Int("bytes", len(data)).
			Msg("Query fetched")
		return st, nil
	})

	if shared {
		logger.Debug().Msg("Joined in-flight query")
	}

	st, _ := v.(State)
	return st, err
}

// settle records the outcome of a fetch for key.
func (e *Engine) settle(ctx context.Context, key Key, data []byte, fetchErr error, o Options) State {
	k := key.String()

	if fetchErr == nil {
		if err := e.store.Set(ctx, key, NewEntry(data, o.cacheTime())); err != nil {
			e.logger.Warn().Err(err).Str("key", k).Msg("Store write failed")
		}
	}

	now := time.Now()

	e.mu.Lock()
	rec := e.recordLocked(key)
	rec.cacheTime = o.cacheTime()
	st := &rec.state
	st.IsFetching = false
	if fetchErr == nil {
		st.Status = StatusSuccess
		st.Data = data
		st.Err = nil
		st.UpdatedAt = now
		st.FetchCount++
		st.FailureCount = 0
		st.IsInvalidated = false
	} else {
		st.Status = StatusError
		st.Err = fetchErr
		st.ErrorUpdatedAt = now
		st.FailureCount++
	}
	snapshot := *st
	e.mu.Unlock()

	e.notify(k, snapshot)
	return snapshot
}

func (e *Engine) recordLocked(key Key) *record {
	k := key.String()
	rec, ok := e.states[k]
	if !ok {
		rec = &record{
			state:     State{Key: key, Status: StatusIdle},
			cacheTime: e.defaults.cacheTime(),
		}
		e.states[k] = rec
	}
	return rec
}

// notify calls the subscribers of k outside the engine lock.
func (e *Engine) notify(k string, st State) {
	e.mu.Lock()
	fns := make([]func(State), 0, len(e.subs[k]))
	for _, fn := range e.subs[k] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
