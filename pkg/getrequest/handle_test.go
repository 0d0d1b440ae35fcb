package getrequest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/pagequery/internal/testutil"
	"github.com/Sternrassler/pagequery/pkg/pagination"
	"github.com/Sternrassler/pagequery/pkg/query"
	"github.com/Sternrassler/pagequery/pkg/request"
)

type page struct {
	Data       []string             `json:"data"`
	Pagination *pagination.Envelope `json:"pagination"`
}

// fakeFetcher answers every request with the same body.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []request.Request
	body  string
	err   error
}

func (f *fakeFetcher) Get(ctx context.Context, req request.Request) (*request.Success, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &request.Success{Status: true, StatusCode: http.StatusOK, Message: "OK", Data: []byte(f.body)}, nil
}

func (f *fakeFetcher) requests() []request.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request.Request(nil), f.calls...)
}

func newEngine() *query.Engine {
	return query.NewEngine(nil, query.Options{Retry: query.Int(0), RetryDelay: time.Millisecond})
}

func newClient(t *testing.T, baseURL string) *request.Client {
	t.Helper()
	cfg := request.DefaultConfig(baseURL, "pagequery-test/1.0")
	cfg.RateLimit = 0
	c, err := request.New(cfg)
	require.NoError(t, err)
	return c
}

func newHandle(t *testing.T, fetcher request.Fetcher, cfg Config) *Handle[page] {
	t.Helper()
	h, err := New[page](newEngine(), fetcher, cfg)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func waitSuccess(t *testing.T, h *Handle[page]) State[page] {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.State().IsSuccess()
	}, 2*time.Second, 5*time.Millisecond)
	return h.State()
}

func TestNew_Validation(t *testing.T) {
	fetcher := &fakeFetcher{}

	_, err := New[page](nil, fetcher, Config{Path: "/items"})
	assert.Error(t, err)

	_, err = New[page](newEngine(), nil, Config{Path: "/items"})
	assert.Error(t, err)

	_, err = New[page](newEngine(), fetcher, Config{})
	assert.Error(t, err)
}

func TestHandle_InitialState(t *testing.T) {
	h := newHandle(t, &fakeFetcher{body: `{}`}, Config{Path: "/items"})

	assert.Equal(t, 1, h.Page())
	assert.Equal(t, "/items", h.Path())
	assert.Equal(t, query.Key{Path: "/items"}, h.QueryKey())
}

func TestHandle_DisabledDoesNotFetch(t *testing.T) {
	fetcher := &fakeFetcher{body: `{}`}
	h := newHandle(t, fetcher, Config{Path: "/items"})

	time.Sleep(30 * time.Millisecond)

	st := h.State()
	assert.Equal(t, query.StatusIdle, st.Status)
	assert.Nil(t, st.Result)
	assert.Empty(t, fetcher.requests())
}

func TestHandle_QueryOptionsOverrideLoad(t *testing.T) {
	fetcher := &fakeFetcher{body: `{"data":["a"]}`}
	h := newHandle(t, fetcher, Config{
		Path:         "/items",
		QueryOptions: query.Options{Enabled: query.Bool(true)},
	})

	st := waitSuccess(t, h)
	assert.Equal(t, []string{"a"}, st.Result.Data.Data)
}

func TestHandle_LoadFetchesFromUpstream(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPaginated("/items", 5, 2)

	h := newHandle(t, newClient(t, mock.URL()), Config{Path: "/items", Load: true})

	st := waitSuccess(t, h)
	require.NotNil(t, st.Result)
	assert.True(t, st.Result.Status)
	assert.Equal(t, http.StatusOK, st.Result.StatusCode)
	assert.Equal(t, []string{"item-1-1", "item-1-2"}, st.Result.Data.Data)
	assert.Equal(t, &pagination.Envelope{CurrentPage: 1, NextPage: 2, PreviousPage: 1}, st.Result.Pagination)
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestHandle_NextAndPrevPageFromMiddlePage(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPaginated("/items", 5, 1)

	next := newHandle(t, newClient(t, mock.URL()), Config{Path: "/items?page=2", Load: true})
	waitSuccess(t, next)
	require.True(t, next.NextPage())
	next.Flush()
	assert.Equal(t, "/items?page=3", next.Path())
	assert.Equal(t, 3, next.Page())

	prev := newHandle(t, newClient(t, mock.URL()), Config{Path: "/items?page=2", Load: true})
	waitSuccess(t, prev)
	require.True(t, prev.PrevPage())
	prev.Flush()
	assert.Equal(t, "/items?page=1", prev.Path())
	assert.Equal(t, 1, prev.Page())

	// The new key is fetched too.
	st := waitSuccess(t, next)
	assert.Equal(t, 3, st.Result.Pagination.CurrentPage)
}

func TestHandle_NextPageWithoutQueryString(t *testing.T) {
	fetcher := &fakeFetcher{body: `{"data":[],"pagination":{"current_page":2,"next_page":3,"previous_page":1}}`}
	h := newHandle(t, fetcher, Config{Path: "/items", Load: true})
	waitSuccess(t, h)

	require.True(t, h.NextPage())
	h.Flush()

	assert.Equal(t, "/items?page=3", h.Path())
}

func TestHandle_GotoPageAppendsToQueryString(t *testing.T) {
	h := newHandle(t, &fakeFetcher{body: `{}`}, Config{Path: "/items?sort=asc"})

	require.NoError(t, h.GotoPage(5))
	h.Flush()

	assert.Equal(t, "/items?sort=asc&page=5", h.Path())
	assert.Equal(t, 5, h.Page())
	assert.Equal(t, "/items?sort=asc&page=5", h.QueryKey().Path)
}

func TestHandle_GotoSamePageKeepsPageCell(t *testing.T) {
	h := newHandle(t, &fakeFetcher{body: `{}`}, Config{Path: "/items?page=4"})

	require.NoError(t, h.GotoPage(4))
	h.Flush()

	assert.Equal(t, "/items?page=4", h.Path())
	assert.Equal(t, 1, h.Page())
}

func TestHandle_DirectionalNoops(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantNext bool
		wantPrev bool
	}{
		{name: "last page", body: `{"pagination":{"current_page":3,"next_page":3,"previous_page":2}}`, wantNext: false, wantPrev: true},
		{name: "first page", body: `{"pagination":{"current_page":1,"next_page":2,"previous_page":1}}`, wantNext: true, wantPrev: false},
		{name: "single page", body: `{"pagination":{"current_page":1,"next_page":1,"previous_page":1}}`, wantNext: false, wantPrev: false},
		{name: "no envelope", body: `{"data":["x"]}`, wantNext: false, wantPrev: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandle(t, &fakeFetcher{body: tt.body}, Config{Path: "/items", Load: true})
			waitSuccess(t, h)

			assert.Equal(t, tt.wantNext, h.NextPage())
			assert.Equal(t, tt.wantPrev, h.PrevPage())
		})
	}
}

func TestHandle_NavigationWithoutResultIsNoop(t *testing.T) {
	h := newHandle(t, &fakeFetcher{body: `{}`}, Config{Path: "/items"})

	assert.False(t, h.NextPage())
	assert.False(t, h.PrevPage())
	h.Flush()
	assert.Equal(t, "/items", h.Path())
}

func TestHandle_GetReturnsCurrentKeyAndDefersSwitch(t *testing.T) {
	fetcher := &fakeFetcher{body: `{"data":["current"]}`}
	h := newHandle(t, fetcher, Config{
		Path:       "/items",
		Load:       true,
		Transition: transitionWindow(time.Hour),
	})
	waitSuccess(t, h)

	res := h.Get("/other", nil)
	require.NotNil(t, res)
	assert.Equal(t, []string{"current"}, res.Data.Data)
	assert.Equal(t, "/items", h.Path())

	h.Flush()
	assert.Equal(t, "/other", h.Path())
}

func TestHandle_GetKeepsLatestPath(t *testing.T) {
	fetcher := &fakeFetcher{body: `{}`}
	h := newHandle(t, fetcher, Config{
		Path:       "/items",
		Load:       true,
		Transition: transitionWindow(time.Hour),
	})
	waitSuccess(t, h)

	h.Get("/a", nil)
	h.Get("/b", nil)
	h.Flush()

	assert.Equal(t, "/b", h.Path())

	require.Eventually(t, func() bool {
		return h.State().IsSuccess()
	}, 2*time.Second, 5*time.Millisecond)

	for _, req := range fetcher.requests() {
		assert.NotEqual(t, "/a", req.Path)
	}
}

func TestHandle_GetAppliesEventually(t *testing.T) {
	h := newHandle(t, &fakeFetcher{body: `{}`}, Config{Path: "/items"})

	h.Get("/a", nil)
	h.Get("/b", nil)

	require.Eventually(t, func() bool {
		return h.Path() == "/b"
	}, time.Second, 2*time.Millisecond)
}

func TestHandle_GetOptionsEnableFetch(t *testing.T) {
	fetcher := &fakeFetcher{body: `{"data":["x"]}`}
	h := newHandle(t, fetcher, Config{Path: "/items"})

	h.Get("/items", &query.Options{Enabled: query.Bool(true)})
	h.Flush()

	st := waitSuccess(t, h)
	assert.Equal(t, []string{"x"}, st.Result.Data.Data)
	assert.Len(t, fetcher.requests(), 1)
}

func TestHandle_GetSwitchesPathAndOptionsTogether(t *testing.T) {
	fetcher := &fakeFetcher{body: `{"data":["x"]}`}
	h := newHandle(t, fetcher, Config{Path: "/old", Transition: transitionWindow(time.Hour)})

	h.Get("/new", &query.Options{Enabled: query.Bool(true)})
	h.Flush()

	waitSuccess(t, h)
	reqs := fetcher.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/new", reqs[0].Path)
}

func TestHandle_GetWithVaryFetchesOnlyNewKey(t *testing.T) {
	fetcher := &fakeFetcher{body: `{"data":["x"]}`}
	h := newHandle(t, fetcher, Config{Path: "/old", Load: true, Transition: transitionWindow(time.Hour)})
	waitSuccess(t, h)

	h.Get("/new", &query.Options{Vary: struct {
		Tenant string `url:"tenant"`
	}{Tenant: "acme"}})
	h.Flush()

	assert.Equal(t, "query:/new:tenant=acme", h.QueryKey().String())
	waitSuccess(t, h)

	var keys []string
	for _, req := range fetcher.requests() {
		keys = append(keys, req.Key)
	}
	assert.Equal(t, []string{"query:/old", "query:/new:tenant=acme"}, keys)
}

func TestHandle_VaryChangesKey(t *testing.T) {
	h := newHandle(t, &fakeFetcher{body: `{}`}, Config{Path: "/items"})

	h.Get("/items", &query.Options{Vary: struct {
		Tenant string `url:"tenant"`
	}{Tenant: "acme"}})
	h.Flush()

	assert.Equal(t, "query:/items:tenant=acme", h.QueryKey().String())
}

func TestHandle_ErrorSurfacesRequestError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/items", testutil.NewServerErrorResponse())

	h := newHandle(t, newClient(t, mock.URL()), Config{Path: "/items", Load: true})

	require.Eventually(t, func() bool {
		return h.State().IsError()
	}, 2*time.Second, 5*time.Millisecond)

	st := h.State()
	var reqErr *request.Error
	require.True(t, errors.As(st.Err, &reqErr))
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
	assert.False(t, reqErr.Status)
	assert.Nil(t, st.Result)
}

func TestHandle_BearerToken(t *testing.T) {
	fetcher := &fakeFetcher{body: `{}`}

	h := newHandle(t, fetcher, Config{Path: "/items"})
	_, err := h.Fetch(context.Background())
	require.NoError(t, err)

	h2 := newHandle(t, fetcher, Config{Path: "/other", TokenProvider: StaticToken("secret")})
	_, err = h2.Fetch(context.Background())
	require.NoError(t, err)

	reqs := fetcher.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "", reqs[0].BearerToken)
	assert.Equal(t, "secret", reqs[1].BearerToken)
	assert.Equal(t, "/items", reqs[0].Path)
	assert.Equal(t, "query:/items", reqs[0].Key)
}

func TestHandle_TokenProviderError(t *testing.T) {
	boom := errors.New("no token")
	h := newHandle(t, &fakeFetcher{body: `{}`}, Config{
		Path: "/items",
		TokenProvider: func(ctx context.Context) (string, error) {
			return "", boom
		},
	})

	_, err := h.Fetch(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestHandle_FetchAndRefetch(t *testing.T) {
	fetcher := &fakeFetcher{body: `{"data":["x"]}`}
	h := newHandle(t, fetcher, Config{
		Path:         "/items",
		QueryOptions: query.Options{StaleTime: time.Hour},
	})

	res, err := h.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, res.Data.Data)

	_, err = h.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, fetcher.requests(), 1)

	_, err = h.Refetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, fetcher.requests(), 2)
}

func TestHandle_Prefetch(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPaginated("/items", 3, 1)

	engine := newEngine()
	h, err := New[page](engine, newClient(t, mock.URL()), Config{Path: "/items?page=1"})
	require.NoError(t, err)
	defer h.Close()

	failed := h.Prefetch(context.Background(), 2, 3, 4)
	require.Len(t, failed, 1)
	assert.Error(t, failed[4])

	st := engine.Get(context.Background(), query.Key{Path: "/items?page=2"})
	assert.True(t, st.IsSuccess())
}

func TestHandle_Subscribe(t *testing.T) {
	h := newHandle(t, &fakeFetcher{body: `{"data":["x"]}`}, Config{Path: "/items"})

	got := make(chan State[page], 16)
	unsubscribe := h.Subscribe(func(st State[page]) {
		got <- st
	})
	defer unsubscribe()

	require.NoError(t, h.UpdatePath("/items?page=2"))
	h.Flush()

	select {
	case st := <-got:
		assert.Equal(t, "/items?page=2", st.Key.Path)
	case <-time.After(time.Second):
		t.Fatal("no state change delivered")
	}
}

func TestHandle_Close(t *testing.T) {
	h, err := New[page](newEngine(), &fakeFetcher{body: `{}`}, Config{Path: "/items"})
	require.NoError(t, err)

	h.Close()
	h.Close()

	assert.ErrorIs(t, h.GotoPage(2), ErrClosed)
	assert.ErrorIs(t, h.UpdatePath("/x"), ErrClosed)
	assert.False(t, h.NextPage())
}
