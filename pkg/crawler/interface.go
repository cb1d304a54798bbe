package crawler

import (
	"context"
	"time"

	"github.com/amosWeiskopf/depthcrawl/internal/models"
	"github.com/amosWeiskopf/depthcrawl/pkg/fetcher"
	"github.com/amosWeiskopf/depthcrawl/pkg/frontier"
)

// Fetcher is the transport collaborator. Implementations must bound every
// call with a timeout and return an error instead of panicking.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// Sink receives every successfully parsed page. Errors are logged and never
// stop the crawl.
type Sink interface {
	HandlePage(ctx context.Context, runID string, page models.Page) error
}

// RunFinisher is implemented by sinks that want the final result of a run.
type RunFinisher interface {
	FinishRun(ctx context.Context, result *models.CrawlResult) error
}

// RobotsPolicy decides whether a URL may be fetched at all.
type RobotsPolicy interface {
	Allowed(ctx context.Context, url string) bool
}

// Options contains configuration for the crawler
type Options struct {
	Seeds            []string          // Start URLs, all crawled at depth 0
	Domain           string            // Target authority; defaults to the host of the first seed
	MaxDepth         int               // Deepest BFS level that is fetched
	Workers          int               // Number of concurrent workers
	FrontierCapacity int               // Bound on queued work items
	Overflow         frontier.Overflow // What a push does when the frontier is full
	Delay            time.Duration     // Minimum gap between two fetches of one worker
	RunDuration      time.Duration     // Stop after this long; 0 disables
	MaxPages         int               // Stop after this many pages; 0 disables
	VisitedShards    int               // Partitions of the visited set
	ExtractText      bool              // Run main-text extraction for sinks
	KeepPages        bool              // Return the pages in the CrawlResult
}

// DefaultOptions mirrors the defaults of the configuration layer.
func DefaultOptions() Options {
	return Options{
		MaxDepth:         3,
		Workers:          4,
		FrontierCapacity: 10000,
		Overflow:         frontier.Block,
		Delay:            100 * time.Millisecond,
		RunDuration:      30 * time.Second,
		VisitedShards:    16,
		KeepPages:        true,
	}
}
