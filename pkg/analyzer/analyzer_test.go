package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/depthcrawl/internal/models"
)

func triangle() *models.CrawlResult {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.CrawlResult{
		RunID:        "run",
		Domain:       "a.com",
		StartedAt:    start,
		FinishedAt:   start.Add(2 * time.Second),
		StopReason:   models.StopDrained,
		VisitedCount: 5,
		TotalPages:   3,
		FetchErrors:  1,
		ParseErrors:  1,
		Pages: []models.Page{
			{
				URL:   "https://a.com/",
				Depth: 0,
				Links: []string{"https://a.com/b", "https://a.com/c", "https://a.com/missing"},
				ExternalLinks: []string{
					"https://www.bbc.co.uk/news",
					"https://x.github.io/",
					"http://127.0.0.1:8080/",
				},
			},
			{
				URL:           "https://a.com/b",
				Depth:         1,
				Links:         []string{"https://a.com/c"},
				ExternalLinks: []string{"https://sport.bbc.co.uk/"},
			},
			{
				URL:   "https://a.com/c",
				Depth: 1,
				Links: []string{"https://a.com/"},
			},
		},
	}
}

func TestSummarize(t *testing.T) {
	result := triangle()
	s := New().Summarize(result)

	assert.Equal(t, "run", s.RunID)
	assert.Equal(t, 2, s.ErrorCount)
	assert.Equal(t, 2*time.Second, s.Duration)
	assert.Equal(t, map[int]int{0: 1, 1: 2}, s.DepthHistogram)

	require.Len(t, s.TopPages, 3)
	assert.Equal(t, "https://a.com/c", s.TopPages[0].URL)
	assert.Equal(t, "https://a.com/", s.TopPages[1].URL)
	assert.Equal(t, "https://a.com/b", s.TopPages[2].URL)
	assert.Equal(t, 2, s.TopPages[0].Inbound)
	assert.Equal(t, 1, s.TopPages[2].Inbound)

	total := 0.0
	for _, p := range result.Pages {
		assert.Greater(t, p.PageRank, 0.0)
		total += p.PageRank
	}
	assert.InDelta(t, 1.0, total, 1e-6)

	assert.Equal(t, []models.DomainCount{
		{Domain: "bbc.co.uk", Count: 2},
		{Domain: "127.0.0.1", Count: 1},
		{Domain: "x.github.io", Count: 1},
	}, s.ExternalDomains)
}

func TestSummarizeTopN(t *testing.T) {
	a := NewWithConfig(&Config{TopN: 1, DampingFactor: 0.85, Iterations: 50})
	s := a.Summarize(triangle())
	assert.Len(t, s.TopPages, 1)
	assert.Len(t, s.ExternalDomains, 1)
}

func TestSummarizeEmpty(t *testing.T) {
	s := New().Summarize(&models.CrawlResult{Domain: "a.com"})
	assert.Empty(t, s.TopPages)
	assert.Empty(t, s.ExternalDomains)
	assert.Empty(t, s.DepthHistogram)
	assert.Zero(t, s.Duration)
}

func TestPageRankWithDanglingPages(t *testing.T) {
	result := &models.CrawlResult{Pages: []models.Page{
		{URL: "https://a.com/", Links: []string{"https://a.com/x", "https://a.com/y"}},
		{URL: "https://a.com/x"},
		{URL: "https://a.com/y"},
	}}
	New().Summarize(result)

	total := 0.0
	for _, p := range result.Pages {
		total += p.PageRank
	}
	assert.InDelta(t, 1.0, total, 1e-6)
	assert.InDelta(t, result.Pages[1].PageRank, result.Pages[2].PageRank, 1e-12)
	assert.Greater(t, result.Pages[1].PageRank, result.Pages[0].PageRank)
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.example.com/a", "example.com"},
		{"https://WWW.Example.COM/", "example.com"},
		{"https://a.b.example.co.uk/", "example.co.uk"},
		{"http://localhost:3000/", "localhost"},
		{"http://10.0.0.1/", "10.0.0.1"},
		{"mailto:someone@example.com", ""},
		{"::bad", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, RegistrableDomain(tt.url))
		})
	}
}
