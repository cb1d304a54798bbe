package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/depthcrawl/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(runID string, finished time.Time) *models.CrawlResult {
	return &models.CrawlResult{
		RunID:         runID,
		Domain:        "example.com",
		Seeds:         []string{"https://example.com/"},
		StartedAt:     finished.Add(-time.Minute),
		FinishedAt:    finished,
		StopReason:    models.StopDrained,
		VisitedCount:  4,
		TotalPages:    2,
		FetchErrors:   1,
		ParseErrors:   0,
		RobotsSkipped: 1,
		Frontier:      models.FrontierStats{Capacity: 100, Peak: 3, Pushed: 3},
	}
}

func TestPagesAndRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	root := models.Page{
		URL:             "https://example.com/",
		Depth:           0,
		StatusCode:      200,
		ContentType:     "text/html",
		MetaTitle:       "Home",
		MetaDescription: "Landing",
		Text:            "Welcome",
		Links:           []string{"https://example.com/about"},
		ExternalLinks:   []string{"https://other.org/"},
		FetchDuration:   120 * time.Millisecond,
		CrawledAt:       now,
		Worker:          2,
	}
	about := models.Page{URL: "https://example.com/about", Depth: 1, StatusCode: 200, CrawledAt: now}

	// insertion order differs from depth order
	require.NoError(t, s.HandlePage(ctx, "run-1", about))
	require.NoError(t, s.HandlePage(ctx, "run-1", root))
	require.NoError(t, s.HandlePage(ctx, "run-2", root))
	require.NoError(t, s.FinishRun(ctx, sampleResult("run-1", now)))

	got, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, []string{"https://example.com/"}, got.Seeds)
	assert.Equal(t, models.StopDrained, got.StopReason)
	assert.Equal(t, 4, got.VisitedCount)
	assert.Equal(t, 1, got.FetchErrors)
	assert.Equal(t, 1, got.RobotsSkipped)
	assert.Equal(t, 3, got.Frontier.Peak)
	assert.True(t, got.FinishedAt.Equal(now))
	assert.Equal(t, time.Minute, got.Duration())

	require.Len(t, got.Pages, 2)
	assert.Equal(t, root.URL, got.Pages[0].URL)
	assert.Equal(t, "Home", got.Pages[0].MetaTitle)
	assert.Equal(t, root.Links, got.Pages[0].Links)
	assert.Equal(t, root.ExternalLinks, got.Pages[0].ExternalLinks)
	assert.Equal(t, root.FetchDuration, got.Pages[0].FetchDuration)
	assert.Equal(t, 2, got.Pages[0].Worker)
	assert.True(t, got.Pages[0].CrawledAt.Equal(now))
	assert.Equal(t, about.URL, got.Pages[1].URL)
	assert.Nil(t, got.Pages[1].Links)
}

func TestHandlePageReplacesSameURL(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	page := models.Page{URL: "https://example.com/", MetaTitle: "old", CrawledAt: time.Now()}
	require.NoError(t, s.HandlePage(ctx, "run", page))
	page.MetaTitle = "new"
	require.NoError(t, s.HandlePage(ctx, "run", page))
	require.NoError(t, s.FinishRun(ctx, sampleResult("run", time.Now())))

	got, err := s.LoadRun(ctx, "run")
	require.NoError(t, err)
	require.Len(t, got.Pages, 1)
	assert.Equal(t, "new", got.Pages[0].MetaTitle)
}

func TestLatestRunID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.LatestRunID(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)

	now := time.Now()
	require.NoError(t, s.FinishRun(ctx, sampleResult("older", now.Add(-time.Hour))))
	require.NoError(t, s.FinishRun(ctx, sampleResult("newer", now)))

	id, err := s.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newer", id)
}

func TestLoadRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crawl.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, sampleResult("run", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	id, err := s.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run", id)
	assert.Equal(t, path, s.Path())
}
