package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/depthcrawl/internal/models"
	"github.com/amosWeiskopf/depthcrawl/pkg/fetcher"
	"github.com/amosWeiskopf/depthcrawl/pkg/frontier"
	"github.com/amosWeiskopf/depthcrawl/pkg/metrics"
)

const site = "https://site.test"

func linkPage(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>t</title></head><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">x</a>`, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// fakeSite serves a fixed in-memory link graph keyed by absolute URL.
type fakeSite struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
	order []string
}

func newFakeSite(pages map[string]string) *fakeSite {
	return &fakeSite{pages: pages, hits: make(map[string]int)}
}

func (s *fakeSite) Fetch(_ context.Context, url string) (*fetcher.Response, error) {
	s.mu.Lock()
	s.hits[url]++
	s.order = append(s.order, url)
	body, ok := s.pages[url]
	s.mu.Unlock()

	if !ok {
		return nil, &fetcher.Error{URL: url, StatusCode: http.StatusNotFound, Err: fetcher.ErrStatus}
	}
	return &fetcher.Response{
		URL:         url,
		FinalURL:    url,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Body:        []byte(body),
		Duration:    time.Millisecond,
	}, nil
}

func (s *fakeSite) fetchOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// treeSite generates an unbounded site: every page links to fanout children.
type treeSite struct {
	fanout int

	mu   sync.Mutex
	hits map[string]int
}

func (s *treeSite) Fetch(_ context.Context, url string) (*fetcher.Response, error) {
	s.mu.Lock()
	if s.hits == nil {
		s.hits = make(map[string]int)
	}
	s.hits[url]++
	s.mu.Unlock()

	base := strings.TrimSuffix(url, "/")
	hrefs := make([]string, 0, s.fanout)
	for i := 0; i < s.fanout; i++ {
		hrefs = append(hrefs, fmt.Sprintf("%s/%d", base, i))
	}
	return &fetcher.Response{URL: url, StatusCode: http.StatusOK, Body: []byte(linkPage(hrefs...))}, nil
}

// blockingFetcher never answers until its context is done.
type blockingFetcher struct{}

func (blockingFetcher) Fetch(ctx context.Context, _ string) (*fetcher.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type robotsFunc func(url string) bool

func (f robotsFunc) Allowed(_ context.Context, url string) bool { return f(url) }

type recordingSink struct {
	c *Crawler

	mu          sync.Mutex
	pages       []models.Page
	runIDs      map[string]bool
	pageStates  map[State]int
	finished    *models.CrawlResult
	finishState State
}

func newRecordingSink() *recordingSink {
	return &recordingSink{runIDs: map[string]bool{}, pageStates: map[State]int{}}
}

func (s *recordingSink) HandlePage(_ context.Context, runID string, page models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, page)
	s.runIDs[runID] = true
	if s.c != nil {
		s.pageStates[s.c.State()]++
	}
	return nil
}

func (s *recordingSink) FinishRun(_ context.Context, result *models.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = result
	if s.c != nil {
		s.finishState = s.c.State()
	}
	return nil
}

func testOptions(seeds ...string) Options {
	opts := DefaultOptions()
	opts.Seeds = seeds
	opts.Delay = 0
	opts.RunDuration = 0
	return opts
}

func runWithGuard(t *testing.T, c *Crawler) *models.CrawlResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := c.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func pageURLs(pages []models.Page) []string {
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
	}
	return urls
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{name: "valid", mutate: func(o *Options) {}},
		{name: "no seeds", mutate: func(o *Options) { o.Seeds = nil }, wantErr: true},
		{name: "relative seed", mutate: func(o *Options) { o.Seeds = []string{"not-a-url"} }, wantErr: true},
		{name: "ftp seed", mutate: func(o *Options) { o.Seeds = []string{"ftp://site.test/"} }, wantErr: true},
		{name: "seed outside domain", mutate: func(o *Options) { o.Domain = "other.test" }, wantErr: true},
		{name: "negative depth", mutate: func(o *Options) { o.MaxDepth = -1 }, wantErr: true},
		{name: "zero workers", mutate: func(o *Options) { o.Workers = 0 }, wantErr: true},
		{name: "zero capacity", mutate: func(o *Options) { o.FrontierCapacity = 0 }, wantErr: true},
		{name: "negative delay", mutate: func(o *Options) { o.Delay = -time.Second }, wantErr: true},
		{
			name: "more seeds than capacity",
			mutate: func(o *Options) {
				o.Seeds = []string{site + "/a", site + "/b"}
				o.FrontierCapacity = 1
			},
			wantErr: true,
		},
		{
			name: "duplicate seeds collapse",
			mutate: func(o *Options) {
				o.Seeds = []string{site, site + "/", site + "/#top"}
				o.FrontierCapacity = 1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(site)
			tt.mutate(&opts)
			c, err := New(opts)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "site.test", c.Domain())
			assert.Equal(t, StateIdle, c.State())
		})
	}
}

func TestRunTerminatesOnFiniteGraph(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":  linkPage("/a", "/b"),
		site + "/a": linkPage("/c"),
		site + "/b": linkPage("/d"),
		site + "/c": linkPage(),
		site + "/d": linkPage(),
	})
	opts := testOptions(site)
	opts.MaxDepth = 3
	opts.Workers = 3

	c, err := New(opts, WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t, models.StopDrained, result.StopReason)
	assert.Equal(t, 5, result.TotalPages)
	assert.Equal(t, 5, result.VisitedCount)
	assert.Zero(t, result.FetchErrors)
	assert.Equal(t, StateStopped, c.State())
	assert.NotEmpty(t, result.RunID)
	assert.ElementsMatch(t,
		[]string{site + "/", site + "/a", site + "/b", site + "/c", site + "/d"},
		pageURLs(result.Pages))
}

func TestNoDuplicateFetchesOnCyclicGraph(t *testing.T) {
	pages := map[string]string{}
	all := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		all = append(all, fmt.Sprintf("/p%d", i))
	}
	pages[site+"/"] = linkPage(all...)
	for _, p := range all {
		// every page links to every other page and back to the root
		pages[site+p] = linkPage(append([]string{"/", p + "#frag"}, all...)...)
	}
	s := newFakeSite(pages)

	opts := testOptions(site)
	opts.MaxDepth = 5
	opts.Workers = 8

	c, err := New(opts, WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t, models.StopDrained, result.StopReason)
	assert.Equal(t, 21, result.TotalPages)
	for url, n := range s.hits {
		assert.Equal(t, 1, n, "fetched more than once: %s", url)
	}
}

func TestMaxDepthIsNeverExceeded(t *testing.T) {
	pages := map[string]string{site + "/": linkPage("/1")}
	for i := 1; i < 10; i++ {
		pages[fmt.Sprintf("%s/%d", site, i)] = linkPage(fmt.Sprintf("/%d", i+1))
	}
	s := newFakeSite(pages)

	opts := testOptions(site)
	opts.MaxDepth = 3

	c, err := New(opts, WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t, models.StopDrained, result.StopReason)
	assert.ElementsMatch(t,
		[]string{site + "/", site + "/1", site + "/2", site + "/3"},
		s.fetchOrder())
	for _, p := range result.Pages {
		assert.LessOrEqual(t, p.Depth, 3)
		if p.URL != site+"/" {
			assert.Equal(t, fmt.Sprintf("%s/%d", site, p.Depth), p.URL)
		}
	}
}

func TestMaxDepthZeroFetchesOnlySeeds(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":  linkPage("/a"),
		site + "/a": linkPage(),
	})
	opts := testOptions(site)
	opts.MaxDepth = 0

	c, err := New(opts, WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t, []string{site + "/"}, s.fetchOrder())
	assert.Equal(t, 1, result.TotalPages)
	// the link is claimed even though it is never queued
	assert.Equal(t, 2, result.VisitedCount)
}

func TestSingleWorkerIsBreadthFirst(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":   linkPage("/a", "/b"),
		site + "/a":  linkPage("/a1", "/b"),
		site + "/b":  linkPage("/b1"),
		site + "/a1": linkPage("/"),
		site + "/b1": linkPage(),
	})
	opts := testOptions(site)
	opts.Workers = 1

	c, err := New(opts, WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t,
		[]string{site + "/", site + "/a", site + "/b", site + "/a1", site + "/b1"},
		s.fetchOrder())

	last := 0
	for _, p := range result.Pages {
		assert.GreaterOrEqual(t, p.Depth, last)
		last = p.Depth
	}
}

func TestMultipleSeeds(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":      linkPage("/docs/"),
		site + "/docs/": linkPage("/a"),
		site + "/a":      linkPage(),
	})
	opts := testOptions(site, site+"/docs/")
	opts.MaxDepth = 1

	c, err := New(opts, WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	depths := map[string]int{}
	for _, p := range result.Pages {
		depths[p.URL] = p.Depth
	}
	assert.Equal(t, map[string]int{site + "/": 0, site + "/docs/": 0, site + "/a": 1}, depths)
	assert.Equal(t, []string{site + "/", site + "/docs/"}, result.Seeds)
}

func TestSeedWithoutPathIsFetchedOnce(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":  linkPage(site, site+"#top", "/a"),
		site + "/a": linkPage(site),
	})
	c, err := New(testOptions(site), WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t, []string{site + "/", site + "/a"}, s.fetchOrder())
	assert.Equal(t, 2, result.VisitedCount)
}

func TestExternalLinksAreRecordedNotFollowed(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":   linkPage("/in", "https://other.test/x", "https://site.test.evil.net/", "mailto:a@b.c"),
		site + "/in": linkPage(),
	})
	c, err := New(testOptions(site), WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.ElementsMatch(t, []string{site + "/", site + "/in"}, s.fetchOrder())
	var root models.Page
	for _, p := range result.Pages {
		if p.URL == site+"/" {
			root = p
		}
	}
	assert.Equal(t, []string{site + "/in"}, root.Links)
	assert.Equal(t, []string{"https://other.test/x", "https://site.test.evil.net/"}, root.ExternalLinks)
}

func TestFetchAndParseErrorsAreCounted(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":      linkPage("/missing", "/empty"),
		site + "/empty": "   ",
	})
	c, err := New(testOptions(site), WithFetcher(s))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t, models.StopDrained, result.StopReason)
	assert.Equal(t, 1, result.TotalPages)
	assert.Equal(t, 1, result.FetchErrors)
	assert.Equal(t, 1, result.ParseErrors)
}

func TestRobotsPolicySkipsDisallowed(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":             linkPage("/public/page", "/private/page"),
		site + "/public/page":  linkPage(),
		site + "/private/page": linkPage(),
	})
	policy := robotsFunc(func(url string) bool {
		return !strings.Contains(url, "/private/")
	})

	c, err := New(testOptions(site), WithFetcher(s), WithRobots(policy))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.NotContains(t, s.fetchOrder(), site+"/private/page")
	assert.Equal(t, 1, result.RobotsSkipped)
	assert.Equal(t, 2, result.TotalPages)
}

func TestRobotsChecksArePaced(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":  linkPage("/a", "/b"),
		site + "/a": linkPage(),
		site + "/b": linkPage(),
	})
	var (
		mu     sync.Mutex
		checks []time.Time
	)
	policy := robotsFunc(func(string) bool {
		mu.Lock()
		defer mu.Unlock()
		checks = append(checks, time.Now())
		return true
	})
	opts := testOptions(site)
	opts.Workers = 1
	opts.Delay = 50 * time.Millisecond

	c, err := New(opts, WithFetcher(s), WithRobots(policy))
	require.NoError(t, err)
	runWithGuard(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, checks, 3)
	for i := 1; i < len(checks); i++ {
		assert.GreaterOrEqual(t, checks[i].Sub(checks[i-1]), 40*time.Millisecond, "check %d", i)
	}
}

func TestPageBudgetStopsCrawl(t *testing.T) {
	sink := newRecordingSink()
	opts := testOptions(site)
	opts.MaxDepth = 20
	opts.Workers = 2
	opts.MaxPages = 3

	c, err := New(opts, WithFetcher(&treeSite{fanout: 4}), WithSinks(sink))
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t, models.StopPageBudget, result.StopReason)
	assert.Equal(t, 3, result.TotalPages)
	assert.Len(t, result.Pages, 3)
	assert.Len(t, sink.pages, 3)
}

func TestRunDurationStopsCrawl(t *testing.T) {
	opts := testOptions(site)
	opts.RunDuration = 50 * time.Millisecond

	c, err := New(opts, WithFetcher(blockingFetcher{}))
	require.NoError(t, err)

	start := time.Now()
	result := runWithGuard(t, c)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, models.StopDeadline, result.StopReason)
	assert.Zero(t, result.FetchErrors)
	assert.Zero(t, result.TotalPages)
	assert.Equal(t, StateStopped, c.State())
}

func TestCancelStopsCrawl(t *testing.T) {
	c, err := New(testOptions(site), WithFetcher(blockingFetcher{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	result, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StopCanceled, result.StopReason)
	assert.Zero(t, result.FetchErrors)
}

func TestShutdownWithSaturatedFrontier(t *testing.T) {
	for _, policy := range []frontier.Overflow{frontier.Block, frontier.DropNew, frontier.DropOldest} {
		t.Run(policy.String(), func(t *testing.T) {
			ts := &treeSite{fanout: 8}
			opts := testOptions(site)
			opts.MaxDepth = 8
			opts.Workers = 4
			opts.FrontierCapacity = 1
			opts.Overflow = policy

			c, err := New(opts, WithFetcher(ts))
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(50*time.Millisecond, cancel)
			defer cancel()

			done := make(chan *models.CrawlResult, 1)
			go func() {
				result, err := c.Run(ctx)
				assert.NoError(t, err)
				done <- result
			}()

			select {
			case result := <-done:
				assert.Contains(t, []models.StopReason{models.StopCanceled, models.StopDrained}, result.StopReason)
				assert.LessOrEqual(t, result.Frontier.Peak, 1)
			case <-time.After(5 * time.Second):
				t.Fatal("crawl did not shut down")
			}

			ts.mu.Lock()
			defer ts.mu.Unlock()
			for url, n := range ts.hits {
				assert.Equal(t, 1, n, "fetched more than once: %s", url)
			}
		})
	}
}

func TestLifecycleStates(t *testing.T) {
	s := newFakeSite(map[string]string{
		site + "/":  linkPage("/a"),
		site + "/a": linkPage(),
	})
	sink := newRecordingSink()
	c, err := New(testOptions(site), WithFetcher(s), WithSinks(sink))
	require.NoError(t, err)
	sink.c = c
	assert.Equal(t, StateIdle, c.State())

	result := runWithGuard(t, c)

	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 2, sink.pageStates[StateRunning]+sink.pageStates[StateDraining])
	assert.Equal(t, StateDraining, sink.finishState)
	require.NotNil(t, sink.finished)
	assert.Equal(t, result.RunID, sink.finished.RunID)
	assert.Equal(t, map[string]bool{result.RunID: true}, sink.runIDs)

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "seeding", StateSeeding.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestCrawlAgainstHTTPServer(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><head><title>Home</title>
				<meta name="description" content="Landing page"></head>
				<body><a href="/about">About</a><a href="/missing">Gone</a>
				<a href="https://other.example/x">Out</a></body></html>`)
		case "/about":
			fmt.Fprint(w, `<html><body><a href="/">Home</a><a href="./#team">Team</a></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	m := metrics.New()
	opts := testOptions(server.URL)
	opts.ExtractText = true
	c, err := New(opts,
		WithFetcher(fetcher.New(fetcher.Config{Timeout: 2 * time.Second})),
		WithMetrics(m),
	)
	require.NoError(t, err)
	result := runWithGuard(t, c)

	assert.Equal(t, models.StopDrained, result.StopReason)
	assert.Equal(t, 2, result.TotalPages)
	assert.Equal(t, 1, result.FetchErrors)
	for path, n := range hits {
		assert.Equal(t, 1, n, "path %s requested more than once", path)
	}

	var home models.Page
	for _, p := range result.Pages {
		if p.URL == server.URL+"/" {
			home = p
		}
	}
	assert.Equal(t, "Home", home.MetaTitle)
	assert.Equal(t, "Landing page", home.MetaDescription)
	assert.Equal(t, http.StatusOK, home.StatusCode)
	assert.Equal(t, []string{server.URL + "/about", server.URL + "/missing"}, home.Links)
	assert.Equal(t, []string{"https://other.example/x"}, home.ExternalLinks)
}
