package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds prefetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	MaxConcurrency int
	// Timeout per page fetch.
	Timeout time.Duration
}

// DefaultConfig returns the default prefetcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher loads one page of link, typically into a cache.
type PageFetcher interface {
	FetchPage(ctx context.Context, link string, page int) error
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, link string, page int) error

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, link string, page int) error {
	return f(ctx, link, page)
}

// Prefetcher fetches several pages of a link in parallel.
type Prefetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewPrefetcher creates a new prefetcher.
func NewPrefetcher(fetcher PageFetcher, config Config) *Prefetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Prefetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// Run fetches pages of link with a worker pool and returns the error of
// every page that failed. Pages are deduplicated and pages < 1 are rejected.
func (p *Prefetcher) Run(ctx context.Context, link string, pages []int) map[int]error {
	start := time.Now()
	failed := make(map[int]error)

	queue := make([]int, 0, len(pages))
	seen := make(map[int]bool, len(pages))
	for _, page := range pages {
		if page < 1 {
			failed[page] = fmt.Errorf("invalid page number %d", page)
			continue
		}
		if seen[page] {
			continue
		}
		seen[page] = true
		queue = append(queue, page)
	}

	if len(queue) == 0 {
		return failed
	}

	pageQueue := make(chan int, len(queue))
	for _, page := range queue {
		pageQueue <- page
	}
	close(pageQueue)

	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := p.config.MaxConcurrency
	if workers > len(queue) {
		workers = len(queue)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, link, pageQueue, workerID, func(page int, err error) {
				mu.Lock()
				failed[page] = err
				mu.Unlock()
			})
		}(i)
	}

	wg.Wait()

	log.Debug().
		Str("link", link).
		Int("pages", len(queue)).
		Int("failed", len(failed)).
		Dur("duration", time.Since(start)).
		Msg("Prefetch complete")

	return failed
}

// worker processes pages from the queue.
func (p *Prefetcher) worker(ctx context.Context, link string, pageQueue <-chan int, workerID int, fail func(int, error)) {
	pagesProcessed := 0

	for page := range pageQueue {
		if err := ctx.Err(); err != nil {
			fail(page, err)
			continue
		}

		pageCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		err := p.fetcher.FetchPage(pageCtx, link, page)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", page).
				Msg("Page prefetch failed")
			fail(page, err)
			continue
		}

		pagesProcessed++
	}

	if pagesProcessed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}
