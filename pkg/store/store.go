// Package store persists crawled pages and run summaries in SQLite.
//
// Store implements the crawler's Sink and RunFinisher interfaces, so a crawl
// can write through it while it runs and the report command can read a
// finished run back later.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/amosWeiskopf/depthcrawl/internal/models"
)

// ErrRunNotFound is returned when no run matches the requested id.
var ErrRunNotFound = errors.New("store: run not found")

// Store is a SQLite-backed page and run store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Workers write concurrently; SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		seeds TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		stop_reason TEXT NOT NULL,
		visited_count INTEGER NOT NULL,
		total_pages INTEGER NOT NULL,
		fetch_errors INTEGER NOT NULL,
		parse_errors INTEGER NOT NULL,
		robots_skipped INTEGER NOT NULL,
		frontier TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		url TEXT NOT NULL,
		depth INTEGER NOT NULL,
		status_code INTEGER,
		content_type TEXT,
		title TEXT,
		description TEXT,
		text TEXT,
		links TEXT,
		external_links TEXT,
		fetch_duration_ns INTEGER,
		crawled_at TEXT,
		worker INTEGER,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_run ON pages(run_id, depth);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// HandlePage stores one page of a run. Storing the same URL twice replaces it.
func (s *Store) HandlePage(ctx context.Context, runID string, page models.Page) error {
	links, err := json.Marshal(page.Links)
	if err != nil {
		return fmt.Errorf("failed to serialize links: %w", err)
	}
	external, err := json.Marshal(page.ExternalLinks)
	if err != nil {
		return fmt.Errorf("failed to serialize external links: %w", err)
	}

	query := `
	INSERT INTO pages (run_id, url, depth, status_code, content_type, title, description, text,
		links, external_links, fetch_duration_ns, crawled_at, worker)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, url) DO UPDATE SET
		depth = excluded.depth,
		status_code = excluded.status_code,
		content_type = excluded.content_type,
		title = excluded.title,
		description = excluded.description,
		text = excluded.text,
		links = excluded.links,
		external_links = excluded.external_links,
		fetch_duration_ns = excluded.fetch_duration_ns,
		crawled_at = excluded.crawled_at,
		worker = excluded.worker
	`
	_, err = s.db.ExecContext(ctx, query,
		runID, page.URL, page.Depth, page.StatusCode, page.ContentType,
		page.MetaTitle, page.MetaDescription, page.Text,
		string(links), string(external), int64(page.FetchDuration),
		formatTime(page.CrawledAt), page.Worker,
	)
	if err != nil {
		return fmt.Errorf("failed to insert page %s: %w", page.URL, err)
	}
	return nil
}

// FinishRun stores the run summary. Pages are expected to have arrived through HandlePage.
func (s *Store) FinishRun(ctx context.Context, result *models.CrawlResult) error {
	seeds, err := json.Marshal(result.Seeds)
	if err != nil {
		return fmt.Errorf("failed to serialize seeds: %w", err)
	}
	frontier, err := json.Marshal(result.Frontier)
	if err != nil {
		return fmt.Errorf("failed to serialize frontier stats: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO runs (run_id, domain, seeds, started_at, finished_at, stop_reason,
		visited_count, total_pages, fetch_errors, parse_errors, robots_skipped, frontier)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		result.RunID, result.Domain, string(seeds),
		formatTime(result.StartedAt), formatTime(result.FinishedAt), string(result.StopReason),
		result.VisitedCount, result.TotalPages, result.FetchErrors, result.ParseErrors,
		result.RobotsSkipped, string(frontier),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", result.RunID, err)
	}
	return nil
}

// LatestRunID returns the id of the most recently finished run.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM runs ORDER BY finished_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest run: %w", err)
	}
	return id, nil
}

// LoadRun reads a finished run and its pages, ordered by depth then insertion.
func (s *Store) LoadRun(ctx context.Context, runID string) (*models.CrawlResult, error) {
	var (
		result            models.CrawlResult
		seeds, frontier   string
		started, finished string
		reason            string
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT run_id, domain, seeds, started_at, finished_at, stop_reason, visited_count,
		total_pages, fetch_errors, parse_errors, robots_skipped, frontier
	FROM runs WHERE run_id = ?`, runID).Scan(
		&result.RunID, &result.Domain, &seeds, &started, &finished, &reason,
		&result.VisitedCount, &result.TotalPages, &result.FetchErrors, &result.ParseErrors,
		&result.RobotsSkipped, &frontier,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	result.StopReason = models.StopReason(reason)
	if err := json.Unmarshal([]byte(seeds), &result.Seeds); err != nil {
		return nil, fmt.Errorf("failed to decode seeds: %w", err)
	}
	if err := json.Unmarshal([]byte(frontier), &result.Frontier); err != nil {
		return nil, fmt.Errorf("failed to decode frontier stats: %w", err)
	}
	if result.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if result.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}

	pages, err := s.loadPages(ctx, runID)
	if err != nil {
		return nil, err
	}
	result.Pages = pages
	return &result, nil
}

func (s *Store) loadPages(ctx context.Context, runID string) ([]models.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT url, depth, status_code, content_type, title, description, text,
		links, external_links, fetch_duration_ns, crawled_at, worker
	FROM pages WHERE run_id = ? ORDER BY depth, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pages []models.Page
	for rows.Next() {
		var (
			p               models.Page
			links, external string
			fetchNS         int64
			crawled         string
		)
		if err := rows.Scan(&p.URL, &p.Depth, &p.StatusCode, &p.ContentType, &p.MetaTitle,
			&p.MetaDescription, &p.Text, &links, &external, &fetchNS, &crawled, &p.Worker); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		if err := json.Unmarshal([]byte(links), &p.Links); err != nil {
			return nil, fmt.Errorf("failed to decode links of %s: %w", p.URL, err)
		}
		if err := json.Unmarshal([]byte(external), &p.ExternalLinks); err != nil {
			return nil, fmt.Errorf("failed to decode external links of %s: %w", p.URL, err)
		}
		p.FetchDuration = time.Duration(fetchNS)
		if p.CrawledAt, err = parseTime(crawled); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
