// Package crawler runs a bounded, domain-scoped, depth-limited breadth-first
// crawl with a fixed pool of workers sharing one frontier and one visited set.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/amosWeiskopf/depthcrawl/internal/models"
	"github.com/amosWeiskopf/depthcrawl/pkg/fetcher"
	"github.com/amosWeiskopf/depthcrawl/pkg/frontier"
	"github.com/amosWeiskopf/depthcrawl/pkg/metrics"
	"github.com/amosWeiskopf/depthcrawl/pkg/scope"
	"github.com/amosWeiskopf/depthcrawl/pkg/visited"
)

// ErrAlreadyStarted is returned when Run is called twice on the same Crawler.
var ErrAlreadyStarted = errors.New("crawler: already started")

const progressInterval = time.Second

// Crawler seeds the frontier, runs the workers and reports the result.
type Crawler struct {
	opts    Options
	domain  string
	seeds   []string
	fetcher Fetcher
	robots  RobotsPolicy
	sinks   []Sink
	metrics *metrics.Metrics
	logger  zerolog.Logger

	state atomic.Int32
}

// Option injects a collaborator into the Crawler.
type Option func(*Crawler)

// WithFetcher sets the transport. The default is fetcher.New with zero config.
func WithFetcher(f Fetcher) Option {
	return func(c *Crawler) {
		c.fetcher = f
	}
}

// WithRobots enables a robots.txt policy.
func WithRobots(p RobotsPolicy) Option {
	return func(c *Crawler) {
		c.robots = p
	}
}

// WithSinks adds content sinks.
func WithSinks(sinks ...Sink) Option {
	return func(c *Crawler) {
		c.sinks = append(c.sinks, sinks...)
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Crawler) {
		c.logger = l
	}
}

// WithMetrics records crawl activity into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Crawler) {
		c.metrics = m
	}
}

// New validates opts and creates a Crawler ready to Run.
func New(opts Options, deps ...Option) (*Crawler, error) {
	if len(opts.Seeds) == 0 {
		return nil, errors.New("at least one seed URL is required")
	}
	if opts.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must be >= 0, got %d", opts.MaxDepth)
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", opts.Workers)
	}
	if opts.FrontierCapacity < 1 {
		return nil, fmt.Errorf("frontier capacity must be >= 1, got %d", opts.FrontierCapacity)
	}
	if opts.MaxPages < 0 || opts.RunDuration < 0 || opts.Delay < 0 {
		return nil, errors.New("max pages, run duration and delay must not be negative")
	}

	seeds := make([]string, 0, len(opts.Seeds))
	seen := make(map[string]bool, len(opts.Seeds))
	for _, raw := range opts.Seeds {
		seed, err := scope.NormalizeSeed(raw)
		if err != nil {
			return nil, err
		}
		if !seen[seed] {
			seen[seed] = true
			seeds = append(seeds, seed)
		}
	}

	domain := opts.Domain
	if domain == "" {
		domain = scope.Host(seeds[0])
	}
	for _, seed := range seeds {
		if !scope.SameDomain(seed, domain) {
			return nil, fmt.Errorf("seed %s is outside domain %s", seed, domain)
		}
	}
	if len(seeds) > opts.FrontierCapacity {
		return nil, fmt.Errorf("%d seeds do not fit a frontier of capacity %d", len(seeds), opts.FrontierCapacity)
	}

	c := &Crawler{
		opts:   opts,
		domain: domain,
		seeds:  seeds,
		logger: zerolog.Nop(),
	}
	for _, dep := range deps {
		dep(c)
	}
	if c.fetcher == nil {
		c.fetcher = fetcher.New(fetcher.Config{})
	}
	c.logger = c.logger.With().Str("component", "crawler").Str("domain", domain).Logger()
	return c, nil
}

// Domain returns the target authority.
func (c *Crawler) Domain() string {
	return c.domain
}

// Seeds returns the normalized start URLs.
func (c *Crawler) Seeds() []string {
	return append([]string(nil), c.seeds...)
}

// State returns the current lifecycle phase.
func (c *Crawler) State() State {
	return State(c.state.Load())
}

func (c *Crawler) advance(to State) {
	for {
		cur := c.state.Load()
		if State(cur) >= to {
			return
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			c.logger.Debug().Stringer("state", to).Msg("state changed")
			return
		}
	}
}

// crawlContext is the per-run state shared by the orchestrator and every worker.
type crawlContext struct {
	runID    string
	domain   string
	maxDepth int
	maxPages int

	visited *visited.Set
	queue   *frontier.Queue

	// shutdown flips once; workers read it, only stop writes it.
	shutdown atomic.Bool
	stopOnce sync.Once
	reason   models.StopReason
	cancel   context.CancelFunc

	// sinkCtx outlives shutdown so fetched pages are still delivered.
	sinkCtx context.Context

	pages         atomic.Int64
	fetchErrors   atomic.Int64
	parseErrors   atomic.Int64
	robotsSkipped atomic.Int64

	collectMu sync.Mutex
	collected []models.Page
}

func (cc *crawlContext) collect(p models.Page) {
	cc.collectMu.Lock()
	cc.collected = append(cc.collected, p)
	cc.collectMu.Unlock()
}

// stop moves the crawl into Draining. Only the first call has an effect.
func (c *Crawler) stop(cc *crawlContext, reason models.StopReason) {
	cc.stopOnce.Do(func() {
		cc.reason = reason
		cc.shutdown.Store(true)
		c.advance(StateDraining)
		cc.queue.Close()
		cc.cancel()
		c.logger.Info().Str("reason", string(reason)).Msg("crawl stopping")
	})
}

// Run executes the crawl and blocks until every worker has exited. It stops
// on the first of: ctx cancellation, the run duration, the page budget, or a
// drained frontier.
func (c *Crawler) Run(ctx context.Context) (*models.CrawlResult, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateSeeding)) {
		return nil, ErrAlreadyStarted
	}
	started := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.opts.RunDuration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, c.opts.RunDuration)
		defer cancelTimeout()
	}

	cc := &crawlContext{
		runID:    uuid.NewString(),
		domain:   c.domain,
		maxDepth: c.opts.MaxDepth,
		maxPages: c.opts.MaxPages,
		visited:  visited.New(visited.WithShards(c.opts.VisitedShards)),
		queue: frontier.New(c.opts.FrontierCapacity,
			frontier.WithWorkers(c.opts.Workers),
			frontier.WithOverflow(c.opts.Overflow),
		),
		cancel:  cancel,
		sinkCtx: context.WithoutCancel(ctx),
	}
	logger := c.logger.With().Str("run_id", cc.runID).Logger()

	for _, seed := range c.seeds {
		if !cc.visited.TryClaim(seed) {
			continue
		}
		if err := cc.queue.Push(frontier.WorkItem{URL: seed, Depth: 0}); err != nil {
			return nil, fmt.Errorf("seed %s: %w", seed, err)
		}
		c.metrics.ObserveClaim()
	}

	c.advance(StateRunning)
	logger.Info().
		Strs("seeds", c.seeds).
		Int("workers", c.opts.Workers).
		Int("max_depth", c.opts.MaxDepth).
		Int("capacity", c.opts.FrontierCapacity).
		Msg("crawl started")

	watchDone := make(chan struct{})
	go c.watch(runCtx, cc, logger, watchDone)

	var g errgroup.Group
	for i := 0; i < c.opts.Workers; i++ {
		w := newWorker(i, c, cc, logger)
		g.Go(func() error {
			w.run(runCtx)
			return nil
		})
	}
	_ = g.Wait()
	close(watchDone)

	// Every worker exited on its own: the frontier drained.
	c.stop(cc, models.StopDrained)

	result := c.result(cc, started, time.Now())
	for _, sink := range c.sinks {
		if f, ok := sink.(RunFinisher); ok {
			if err := f.FinishRun(cc.sinkCtx, result); err != nil {
				logger.Error().Err(err).Msg("sink failed to finish run")
			}
		}
	}
	c.metrics.SetFrontier(0, result.VisitedCount)
	c.advance(StateStopped)

	logger.Info().
		Str("reason", string(result.StopReason)).
		Int("visited", result.VisitedCount).
		Int("pages", result.TotalPages).
		Int("fetch_errors", result.FetchErrors).
		Dur("elapsed", result.Duration()).
		Msg("crawl finished")
	return result, nil
}

// watch turns context expiry into a stop and reports progress until the workers are done.
func (c *Crawler) watch(ctx context.Context, cc *crawlContext, logger zerolog.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			reason := models.StopCanceled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = models.StopDeadline
			}
			c.stop(cc, reason)
			return
		case <-ticker.C:
			queued, claimed := cc.queue.Len(), cc.visited.Len()
			c.metrics.SetFrontier(queued, claimed)
			logger.Debug().
				Int("queued", queued).
				Int("visited", claimed).
				Int64("pages", cc.pages.Load()).
				Msg("progress")
		}
	}
}

func (c *Crawler) result(cc *crawlContext, started, finished time.Time) *models.CrawlResult {
	pages := int(cc.pages.Load())
	if cc.maxPages > 0 && pages > cc.maxPages {
		pages = cc.maxPages
	}
	stats := cc.queue.Stats()
	return &models.CrawlResult{
		RunID:         cc.runID,
		Domain:        c.domain,
		Seeds:         c.Seeds(),
		StartedAt:     started,
		FinishedAt:    finished,
		StopReason:    cc.reason,
		VisitedCount:  cc.visited.Len(),
		TotalPages:    pages,
		FetchErrors:   int(cc.fetchErrors.Load()),
		ParseErrors:   int(cc.parseErrors.Load()),
		RobotsSkipped: int(cc.robotsSkipped.Load()),
		Frontier: models.FrontierStats{
			Capacity:  cc.queue.Cap(),
			Peak:      stats.Peak,
			Pushed:    stats.Pushed,
			Dropped:   stats.Dropped,
			Abandoned: stats.Abandoned,
		},
		Pages: cc.collected,
	}
}
