// Package fetcher is the HTTP transport used by crawl workers.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Defaults applied to zero Config fields.
const (
	// DefaultUserAgent is sent when Config.UserAgent is empty.
	DefaultUserAgent = "Mozilla/5.0 (compatible; depthcrawl/1.0)"
	// DefaultTimeout bounds one fetch, redirects and body included.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBodySize is the largest body read, in bytes.
	DefaultMaxBodySize = 10 * 1024 * 1024
	// DefaultMaxRedirects is the longest redirect chain followed.
	DefaultMaxRedirects = 10
)

// Causes wrapped by *Error.
var (
	// ErrStatus means the final response was not 2xx.
	ErrStatus = errors.New("unexpected status")
	// ErrNotHTML means the response Content-Type is not HTML.
	ErrNotHTML = errors.New("not an html document")
	// ErrBodyTooLarge means the body exceeded Config.MaxBodySize.
	ErrBodyTooLarge = errors.New("body exceeds size limit")
)

// Error describes a failed fetch. It is never fatal to the crawl.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %v (status %d)", e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is a successfully fetched HTML document.
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Config holds transport settings.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodySize  int64
	MaxRedirects int
}

// Fetcher issues GET requests with a bounded timeout and redirect chain.
type Fetcher struct {
	client *http.Client
	cfg    Config
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the underlying client. Its redirect policy is kept.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// New creates a Fetcher. Zero config values take the package defaults.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}

	f := &Fetcher{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		f.client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     30 * time.Second,
			},
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return fmt.Errorf("stopped after %d redirects", len(via))
				}
				return nil
			},
		}
	}
	return f
}

// UserAgent returns the identity string sent with every request.
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// Client exposes the underlying HTTP client so policies can share connections.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Fetch downloads rawURL. Any failure is returned as *Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrStatus}
	}
	contentType := resp.Header.Get("Content-Type")
	if !isWebpageMIME(contentType) {
		return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrNotHTML, contentType)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize+1))
	if err != nil {
		return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > f.cfg.MaxBodySize {
		return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrBodyTooLarge}
	}

	return &Response{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		Duration:    time.Since(start),
	}, nil
}

// isWebpageMIME accepts HTML-like types. A missing header is given the benefit of the doubt.
func isWebpageMIME(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mimeType := strings.TrimSpace(strings.Split(strings.ToLower(contentType), ";")[0])
	switch mimeType {
	case "text/html", "application/xhtml+xml", "application/xhtml", "text/xml", "application/xml":
		return true
	}
	return false
}
