package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strconv"
	"time"

	"github.com/amosWeiskopf/depthcrawl/internal/models"
	"github.com/amosWeiskopf/depthcrawl/pkg/utils"
)

// Formats lists the supported report formats.
var Formats = []string{"json", "markdown", "csv", "html"}

// Reporter handles report generation in various formats
type Reporter struct {
	now func() time.Time
}

// New creates a new Reporter instance
func New() *Reporter {
	return &Reporter{now: time.Now}
}

// report is the document rendered by the json and html formats.
type report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Summary     *models.Summary `json:"summary"`
	Seeds       []string        `json:"seeds"`
	Pages       []models.Page   `json:"pages"`
}

// GenerateReport renders result and its summary in the specified format
func (r *Reporter) GenerateReport(result *models.CrawlResult, summary *models.Summary, format string) (string, error) {
	rep := &report{
		GeneratedAt: r.now(),
		Summary:     summary,
		Seeds:       result.Seeds,
		Pages:       result.Pages,
	}

	switch format {
	case "json":
		return r.generateJSON(rep)
	case "html":
		return r.generateHTML(rep)
	case "markdown":
		return r.generateMarkdown(rep)
	case "csv":
		return r.generateCSV(rep)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// generateJSON creates a JSON formatted report
func (r *Reporter) generateJSON(rep *report) (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data), nil
}

// generateCSV writes one row per fetched page.
func (r *Reporter) generateCSV(rep *report) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"url", "depth", "status_code", "title", "links", "external_links", "fetch_ms", "worker"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, p := range rep.Pages {
		row := []string{
			p.URL,
			strconv.Itoa(p.Depth),
			strconv.Itoa(p.StatusCode),
			p.MetaTitle,
			strconv.Itoa(len(p.Links)),
			strconv.Itoa(len(p.ExternalLinks)),
			strconv.FormatInt(p.FetchDuration.Milliseconds(), 10),
			strconv.Itoa(p.Worker),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.String(), nil
}

// generateHTML creates an HTML formatted report
func (r *Reporter) generateHTML(rep *report) (string, error) {
	tmpl := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Crawl Report - {{.Summary.Domain}}</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; color: #333; max-width: 1200px; margin: 0 auto; padding: 20px; }
        .header { background: #667eea; color: white; padding: 1.5rem; border-radius: 10px; margin-bottom: 1.5rem; }
        .card { background: white; border-radius: 10px; padding: 1.5rem; margin-bottom: 1.5rem; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        table { border-collapse: collapse; width: 100%; }
        th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Crawl Report: {{.Summary.Domain}}</h1>
        <p>Run {{.Summary.RunID}}, generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>
    </div>

    <div class="card">
        <h2>Summary</h2>
        <table>
            <tr><th>Pages</th><td>{{.Summary.TotalPages}}</td></tr>
            <tr><th>Visited URLs</th><td>{{.Summary.VisitedCount}}</td></tr>
            <tr><th>Errors</th><td>{{.Summary.ErrorCount}}</td></tr>
            <tr><th>Stop reason</th><td>{{.Summary.StopReason}}</td></tr>
            <tr><th>Duration</th><td>{{.Summary.Duration}}</td></tr>
            <tr><th>Frontier peak</th><td>{{.Summary.Frontier.Peak}} / {{.Summary.Frontier.Capacity}}</td></tr>
        </table>
    </div>

    {{if .Summary.TopPages}}
    <div class="card">
        <h2>Top Pages</h2>
        <table>
            <tr><th>URL</th><th>Depth</th><th>PageRank</th><th>Inbound</th></tr>
            {{range .Summary.TopPages}}<tr><td>{{.URL}}</td><td>{{.Depth}}</td><td>{{printf "%.4f" .PageRank}}</td><td>{{.Inbound}}</td></tr>
            {{end}}
        </table>
    </div>
    {{end}}

    {{if .Summary.ExternalDomains}}
    <div class="card">
        <h2>External Domains</h2>
        <table>
            <tr><th>Domain</th><th>Links</th></tr>
            {{range .Summary.ExternalDomains}}<tr><td>{{.Domain}}</td><td>{{.Count}}</td></tr>
            {{end}}
        </table>
    </div>
    {{end}}

    <div class="card">
        <h2>Pages</h2>
        <table>
            <tr><th>URL</th><th>Depth</th><th>Status</th><th>Title</th></tr>
            {{range .Pages}}<tr><td>{{.URL}}</td><td>{{.Depth}}</td><td>{{.StatusCode}}</td><td>{{truncate .MetaTitle 80}}</td></tr>
            {{end}}
        </table>
    </div>
</body>
</html>
`

	funcs := template.FuncMap{"truncate": utils.TruncateText}
	t, err := template.New("report").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, rep); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// generateMarkdown creates a Markdown formatted report
func (r *Reporter) generateMarkdown(rep *report) (string, error) {
	var buf bytes.Buffer
	s := rep.Summary

	fmt.Fprintf(&buf, "# Crawl Report for %s\n\n", s.Domain)
	fmt.Fprintf(&buf, "*Run %s, generated on %s*\n\n", s.RunID, rep.GeneratedAt.Format("January 2, 2006 15:04"))

	fmt.Fprintf(&buf, "## Summary\n\n")
	fmt.Fprintf(&buf, "| Metric | Value |\n")
	fmt.Fprintf(&buf, "|--------|-------|\n")
	fmt.Fprintf(&buf, "| Pages | %d |\n", s.TotalPages)
	fmt.Fprintf(&buf, "| Visited URLs | %d |\n", s.VisitedCount)
	fmt.Fprintf(&buf, "| Errors | %d |\n", s.ErrorCount)
	fmt.Fprintf(&buf, "| Stop reason | %s |\n", s.StopReason)
	fmt.Fprintf(&buf, "| Duration | %s |\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&buf, "| Frontier peak | %d / %d |\n", s.Frontier.Peak, s.Frontier.Capacity)
	fmt.Fprintf(&buf, "| Links dropped | %d |\n\n", s.Frontier.Dropped)

	if len(rep.Seeds) > 0 {
		fmt.Fprintf(&buf, "### Seeds\n\n")
		for _, seed := range rep.Seeds {
			fmt.Fprintf(&buf, "- %s\n", seed)
		}
		fmt.Fprintf(&buf, "\n")
	}

	if len(s.DepthHistogram) > 0 {
		depths := make([]int, 0, len(s.DepthHistogram))
		for d := range s.DepthHistogram {
			depths = append(depths, d)
		}
		sort.Ints(depths)

		fmt.Fprintf(&buf, "## Pages per Depth\n\n")
		fmt.Fprintf(&buf, "| Depth | Pages |\n")
		fmt.Fprintf(&buf, "|-------|-------|\n")
		for _, d := range depths {
			fmt.Fprintf(&buf, "| %d | %d |\n", d, s.DepthHistogram[d])
		}
		fmt.Fprintf(&buf, "\n")
	}

	if len(s.TopPages) > 0 {
		fmt.Fprintf(&buf, "## Top Pages\n\n")
		for i, p := range s.TopPages {
			fmt.Fprintf(&buf, "%d. %s (depth %d, PageRank %.4f, %d inbound)\n", i+1, p.URL, p.Depth, p.PageRank, p.Inbound)
		}
		fmt.Fprintf(&buf, "\n")
	}

	if len(s.ExternalDomains) > 0 {
		fmt.Fprintf(&buf, "## External Domains\n\n")
		for _, d := range s.ExternalDomains {
			fmt.Fprintf(&buf, "- %s: %d\n", d.Domain, d.Count)
		}
		fmt.Fprintf(&buf, "\n")
	}

	return buf.String(), nil
}
