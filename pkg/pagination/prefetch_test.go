package pagination

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPrefetcher_Defaults(t *testing.T) {
	p := NewPrefetcher(PageFetcherFunc(func(ctx context.Context, link string, page int) error { return nil }), Config{})

	assert.Equal(t, 4, p.config.MaxConcurrency)
	assert.Equal(t, 15*time.Second, p.config.Timeout)
}

func TestPrefetcher_Run(t *testing.T) {
	var mu sync.Mutex
	fetched := map[int]string{}

	p := NewPrefetcher(PageFetcherFunc(func(ctx context.Context, link string, page int) error {
		mu.Lock()
		fetched[page] = link
		mu.Unlock()
		return nil
	}), DefaultConfig())

	failed := p.Run(context.Background(), "/items", []int{2, 3, 4, 3})

	assert.Empty(t, failed)
	assert.Len(t, fetched, 3)
	assert.Equal(t, "/items", fetched[2])
}

func TestPrefetcher_ReportsFailures(t *testing.T) {
	boom := errors.New("boom")

	p := NewPrefetcher(PageFetcherFunc(func(ctx context.Context, link string, page int) error {
		if page == 3 {
			return boom
		}
		return nil
	}), DefaultConfig())

	failed := p.Run(context.Background(), "/items", []int{0, 2, 3, 4})

	assert.Len(t, failed, 2)
	assert.ErrorIs(t, failed[3], boom)
	assert.Error(t, failed[0])
}

func TestPrefetcher_RespectsConcurrency(t *testing.T) {
	var running, peak atomic.Int32

	p := NewPrefetcher(PageFetcherFunc(func(ctx context.Context, link string, page int) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}), Config{MaxConcurrency: 2})

	failed := p.Run(context.Background(), "/items", []int{1, 2, 3, 4, 5, 6})

	assert.Empty(t, failed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPrefetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	p := NewPrefetcher(PageFetcherFunc(func(ctx context.Context, link string, page int) error {
		calls.Add(1)
		return nil
	}), DefaultConfig())

	failed := p.Run(ctx, "/items", []int{1, 2})

	assert.Len(t, failed, 2)
	assert.ErrorIs(t, failed[1], context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestPrefetcher_PageTimeout(t *testing.T) {
	p := NewPrefetcher(PageFetcherFunc(func(ctx context.Context, link string, page int) error {
		<-ctx.Done()
		return ctx.Err()
	}), Config{Timeout: 10 * time.Millisecond})

	failed := p.Run(context.Background(), "/items", []int{2})

	assert.ErrorIs(t, failed[2], context.DeadlineExceeded)
}
