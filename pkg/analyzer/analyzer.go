// Package analyzer summarizes a finished crawl: depth histogram, PageRank over
// the internal link graph and the most linked external registrable domains.
package analyzer

import (
	"math"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/amosWeiskopf/depthcrawl/internal/models"
)

// Analyzer computes crawl summaries
type Analyzer struct {
	config *Config
}

// Config holds analyzer configuration
type Config struct {
	TopN          int     // entries kept in TopPages and ExternalDomains
	DampingFactor float64 // PageRank damping
	Iterations    int     // PageRank iteration cap
	Tolerance     float64 // stop iterating once the L1 change drops below this
}

// DefaultConfig returns the settings used by New.
func DefaultConfig() *Config {
	return &Config{
		TopN:          10,
		DampingFactor: 0.85,
		Iterations:    100,
		Tolerance:     1e-9,
	}
}

// New creates a new Analyzer instance
func New() *Analyzer {
	return &Analyzer{config: DefaultConfig()}
}

// NewWithConfig creates an Analyzer with custom configuration
func NewWithConfig(config *Config) *Analyzer {
	return &Analyzer{config: config}
}

// Summarize analyzes result and stores each page's PageRank on result.Pages.
func (a *Analyzer) Summarize(result *models.CrawlResult) *models.Summary {
	summary := &models.Summary{
		RunID:          result.RunID,
		Domain:         result.Domain,
		VisitedCount:   result.VisitedCount,
		TotalPages:     result.TotalPages,
		ErrorCount:     result.FetchErrors + result.ParseErrors,
		StopReason:     result.StopReason,
		Duration:       result.Duration(),
		DepthHistogram: make(map[int]int),
		Frontier:       result.Frontier,
	}
	for _, page := range result.Pages {
		summary.DepthHistogram[page.Depth]++
	}

	inbound := a.calculatePageRank(result)
	summary.TopPages = a.topPages(result, inbound)
	summary.ExternalDomains = a.externalDomains(result)
	return summary
}

// calculatePageRank implements the PageRank algorithm over links between
// crawled pages and returns the inbound link count of every page.
func (a *Analyzer) calculatePageRank(result *models.CrawlResult) map[string]int {
	pages := result.Pages
	inboundCount := make(map[string]int, len(pages))
	if len(pages) == 0 {
		return inboundCount
	}

	crawled := make(map[string]bool, len(pages))
	for _, page := range pages {
		crawled[page.URL] = true
	}

	// Build link graph
	linkGraph := make(map[string][]string)
	inboundLinks := make(map[string][]string)
	for _, page := range pages {
		for _, link := range page.Links {
			if !crawled[link] || link == page.URL {
				continue
			}
			linkGraph[page.URL] = append(linkGraph[page.URL], link)
			inboundLinks[link] = append(inboundLinks[link], page.URL)
		}
	}

	// Initialize PageRank values
	pageCount := float64(len(pages))
	d := a.config.DampingFactor
	pageRank := make(map[string]float64, len(pages))
	for _, page := range pages {
		pageRank[page.URL] = 1.0 / pageCount
	}

	for i := 0; i < a.config.Iterations; i++ {
		// rank held by pages without outbound links is spread evenly
		dangling := 0.0
		for _, page := range pages {
			if len(linkGraph[page.URL]) == 0 {
				dangling += pageRank[page.URL]
			}
		}

		newPageRank := make(map[string]float64, len(pages))
		delta := 0.0
		for _, page := range pages {
			rank := (1.0-d)/pageCount + d*dangling/pageCount
			for _, in := range inboundLinks[page.URL] {
				rank += d * pageRank[in] / float64(len(linkGraph[in]))
			}
			newPageRank[page.URL] = rank
			delta += math.Abs(rank - pageRank[page.URL])
		}
		pageRank = newPageRank
		if delta < a.config.Tolerance {
			break
		}
	}

	// Update pages with PageRank scores
	for i := range pages {
		pages[i].PageRank = pageRank[pages[i].URL]
		inboundCount[pages[i].URL] = len(inboundLinks[pages[i].URL])
	}
	return inboundCount
}

func (a *Analyzer) topPages(result *models.CrawlResult, inbound map[string]int) []models.RankedPage {
	ranked := make([]models.RankedPage, 0, len(result.Pages))
	for _, page := range result.Pages {
		ranked = append(ranked, models.RankedPage{
			URL:      page.URL,
			Depth:    page.Depth,
			PageRank: page.PageRank,
			Inbound:  inbound[page.URL],
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].PageRank != ranked[j].PageRank {
			return ranked[i].PageRank > ranked[j].PageRank
		}
		return ranked[i].URL < ranked[j].URL
	})
	return truncate(ranked, a.config.TopN)
}

// externalDomains counts out-of-scope links per registrable domain (eTLD+1).
func (a *Analyzer) externalDomains(result *models.CrawlResult) []models.DomainCount {
	counts := make(map[string]int)
	for _, page := range result.Pages {
		for _, link := range page.ExternalLinks {
			if domain := RegistrableDomain(link); domain != "" {
				counts[domain]++
			}
		}
	}

	domains := make([]models.DomainCount, 0, len(counts))
	for domain, n := range counts {
		domains = append(domains, models.DomainCount{Domain: domain, Count: n})
	}
	sort.Slice(domains, func(i, j int) bool {
		if domains[i].Count != domains[j].Count {
			return domains[i].Count > domains[j].Count
		}
		return domains[i].Domain < domains[j].Domain
	})
	return truncate(domains, a.config.TopN)
}

// RegistrableDomain returns the eTLD+1 of rawURL's host, the bare host when
// it has no public suffix (IPs, localhost), or "" when rawURL has no host.
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

func truncate[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
