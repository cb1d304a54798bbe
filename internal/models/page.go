package models

import "time"

// Page represents a fetched and parsed web page
type Page struct {
	URL             string        `json:"url"`
	Depth           int           `json:"depth"`
	StatusCode      int           `json:"status_code"`
	ContentType     string        `json:"content_type"`
	MetaTitle       string        `json:"meta_title"`
	MetaDescription string        `json:"meta_description"`
	Text            string        `json:"text,omitempty"`
	Links           []string      `json:"links"`
	ExternalLinks   []string      `json:"external_links"`
	FetchDuration   time.Duration `json:"fetch_duration"`
	CrawledAt       time.Time     `json:"crawled_at"`
	Worker          int           `json:"worker"`
	PageRank        float64       `json:"pagerank,omitempty"`
}

// StopReason explains why a crawl left the Running state
type StopReason string

const (
	StopDrained    StopReason = "drained"
	StopDeadline   StopReason = "deadline"
	StopPageBudget StopReason = "page_budget"
	StopCanceled   StopReason = "canceled"
)

// CrawlResult contains the results of a crawl operation
type CrawlResult struct {
	RunID         string        `json:"run_id"`
	Domain        string        `json:"domain"`
	Seeds         []string      `json:"seeds"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	StopReason    StopReason    `json:"stop_reason"`
	VisitedCount  int           `json:"visited_count"`
	TotalPages    int           `json:"total_pages"`
	FetchErrors   int           `json:"fetch_errors"`
	ParseErrors   int           `json:"parse_errors"`
	RobotsSkipped int           `json:"robots_skipped"`
	Frontier      FrontierStats `json:"frontier"`
	Pages         []Page        `json:"pages,omitempty"`
}

// FrontierStats summarizes queue activity over a crawl
type FrontierStats struct {
	Capacity  int    `json:"capacity"`
	Peak      int    `json:"peak"`
	Pushed    uint64 `json:"pushed"`
	Dropped   uint64 `json:"dropped"`
	Abandoned uint64 `json:"abandoned"`
}

// Duration returns the wall-clock time the crawl took
func (r *CrawlResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary is the analysis of a finished crawl
type Summary struct {
	RunID           string        `json:"run_id"`
	Domain          string        `json:"domain"`
	VisitedCount    int           `json:"visited_count"`
	TotalPages      int           `json:"total_pages"`
	ErrorCount      int           `json:"error_count"`
	StopReason      StopReason    `json:"stop_reason"`
	Duration        time.Duration `json:"duration"`
	DepthHistogram  map[int]int   `json:"depth_histogram"`
	TopPages        []RankedPage  `json:"top_pages"`
	ExternalDomains []DomainCount `json:"external_domains"`
	Frontier        FrontierStats `json:"frontier"`
}

// RankedPage is a page with its PageRank over the internal link graph
type RankedPage struct {
	URL      string  `json:"url"`
	Depth    int     `json:"depth"`
	PageRank float64 `json:"pagerank"`
	Inbound  int     `json:"inbound"`
}

// DomainCount counts the distinct (page, link) pairs pointing at a registrable domain
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}
