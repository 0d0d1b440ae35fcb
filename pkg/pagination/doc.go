// Package pagination handles page-numbered links and the pagination envelope
// returned by paginated endpoints.
//
// # Envelope
//
// Paginated responses carry an envelope next to their data:
//
//	{
//	  "data": [...],
//	  "pagination": {"current_page": 2, "next_page": 3, "previous_page": 1}
//	}
//
// HasNext and HasPrev are strict: an envelope whose next_page equals
// current_page has no next page.
//
// # Links
//
// BuildLink rewrites or appends the page query parameter:
//
//	pagination.BuildLink("/items", 3)              // /items?page=3
//	pagination.BuildLink("/items?page=2", 3)       // /items?page=3
//	pagination.BuildLink("/items?sort=asc", 5)     // /items?sort=asc&page=5
//	pagination.BuildLink("/items?a=1&page=2", 7)   // /items?a=1&page=7
//
// # Prefetching
//
// Prefetcher warms several pages in parallel with a bounded worker pool:
//
//	p := pagination.NewPrefetcher(fetcher, pagination.DefaultConfig())
//	failed := p.Run(ctx, "/items?page=1", []int{2, 3, 4})
//
// Failed pages are reported per page; one failure does not stop the others.
package pagination
