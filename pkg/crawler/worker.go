package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/depthcrawl/internal/models"
	"github.com/amosWeiskopf/depthcrawl/pkg/extractor"
	"github.com/amosWeiskopf/depthcrawl/pkg/frontier"
	"github.com/amosWeiskopf/depthcrawl/pkg/metrics"
	"github.com/amosWeiskopf/depthcrawl/pkg/scope"
)

type worker struct {
	id      int
	c       *Crawler
	cc      *crawlContext
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func newWorker(id int, c *Crawler, cc *crawlContext, logger zerolog.Logger) *worker {
	limit := rate.Inf
	if c.opts.Delay > 0 {
		limit = rate.Every(c.opts.Delay)
	}
	return &worker{
		id:      id,
		c:       c,
		cc:      cc,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Int("worker", id).Logger(),
	}
}

// run pops work until the frontier is closed or drained.
func (w *worker) run(ctx context.Context) {
	w.c.metrics.WorkerStarted()
	defer w.c.metrics.WorkerStopped()

	for {
		item, err := w.cc.queue.Pop()
		if err != nil {
			w.logger.Debug().Err(err).Msg("worker exiting")
			return
		}
		if item.Depth > w.cc.maxDepth || w.cc.shutdown.Load() {
			continue
		}
		w.process(ctx, item)
	}
}

func (w *worker) process(ctx context.Context, item frontier.WorkItem) {
	cc := w.cc
	// the robots.txt lookup may hit the network, so it is paced too
	if err := w.limiter.Wait(ctx); err != nil {
		return
	}
	if w.c.robots != nil && !w.c.robots.Allowed(ctx, item.URL) {
		cc.robotsSkipped.Add(1)
		w.c.metrics.ObserveFetch(metrics.OutcomeRobotsSkipped, 0)
		w.logger.Debug().Str("url", item.URL).Msg("disallowed by robots.txt")
		return
	}

	resp, err := w.c.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		if cc.shutdown.Load() || ctx.Err() != nil {
			return
		}
		cc.fetchErrors.Add(1)
		w.c.metrics.ObserveFetch(metrics.OutcomeFetchError, 0)
		w.logger.Warn().Err(err).Str("url", item.URL).Int("depth", item.Depth).Msg("fetch failed")
		return
	}

	doc, err := extractor.Parse(resp.Body)
	if err != nil {
		cc.parseErrors.Add(1)
		w.c.metrics.ObserveFetch(metrics.OutcomeParseError, resp.Duration)
		w.logger.Warn().Err(err).Str("url", item.URL).Msg("parse failed")
		return
	}

	page := models.Page{
		URL:           item.URL,
		Depth:         item.Depth,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.ContentType,
		FetchDuration: resp.Duration,
		CrawledAt:     time.Now(),
		Worker:        w.id,
	}

	seen := make(map[string]bool)
	for link := range extractor.Links(doc, item.URL) {
		if seen[link] {
			continue
		}
		seen[link] = true
		if !scope.SameDomain(link, cc.domain) {
			page.ExternalLinks = append(page.ExternalLinks, link)
			continue
		}
		page.Links = append(page.Links, link)
		w.enqueue(link, item.Depth+1)
	}

	page.MetaTitle, page.MetaDescription = extractor.Metadata(doc)
	if w.c.opts.ExtractText {
		page.Text = extractor.MainText(resp.Body, doc)
	}

	w.emit(page)
}

// enqueue claims link and, when depth is within bounds, hands it to the frontier.
func (w *worker) enqueue(link string, depth int) {
	cc := w.cc
	if !cc.visited.TryClaim(link) {
		return
	}
	w.c.metrics.ObserveClaim()
	if depth > cc.maxDepth || cc.shutdown.Load() {
		return
	}

	err := cc.queue.Push(frontier.WorkItem{URL: link, Depth: depth})
	switch {
	case err == nil:
		w.c.metrics.ObserveEnqueue(metrics.EnqueueQueued)
	case errors.Is(err, frontier.ErrFull):
		w.c.metrics.ObserveEnqueue(metrics.EnqueueDropped)
		w.logger.Debug().Str("url", link).Msg("frontier full, link dropped")
	case errors.Is(err, frontier.ErrClosed):
		w.c.metrics.ObserveEnqueue(metrics.EnqueueClosed)
	}
}

// emit counts the page against the budget and delivers it to sinks.
func (w *worker) emit(page models.Page) {
	cc := w.cc
	n := cc.pages.Add(1)
	if cc.maxPages > 0 && n > int64(cc.maxPages) {
		return
	}
	w.c.metrics.ObserveFetch(metrics.OutcomeOK, page.FetchDuration)
	w.logger.Info().
		Str("url", page.URL).
		Int("depth", page.Depth).
		Int("links", len(page.Links)).
		Int("external", len(page.ExternalLinks)).
		Dur("fetch", page.FetchDuration).
		Msg("crawled")

	if w.c.opts.KeepPages {
		cc.collect(page)
	}
	for _, sink := range w.c.sinks {
		if err := sink.HandlePage(cc.sinkCtx, cc.runID, page); err != nil {
			w.logger.Error().Err(err).Str("url", page.URL).Msg("sink failed")
		}
	}

	if cc.maxPages > 0 && n == int64(cc.maxPages) {
		w.c.stop(cc, models.StopPageBudget)
	}
}
