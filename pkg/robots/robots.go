// Package robots is an optional crawl policy that consults robots.txt before a URL is fetched.
package robots

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// DefaultTimeout bounds a single robots.txt request.
const DefaultTimeout = 10 * time.Second

// Policy caches one robots.txt per scheme+host.
type Policy struct {
	client  *http.Client
	agent   string
	timeout time.Duration

	mu    sync.Mutex
	hosts map[string]*hostRules
}

type hostRules struct {
	once  sync.Once
	group *robotstxt.Group
}

// Option configures a Policy.
type Option func(*Policy)

// WithTimeout bounds each robots.txt request. Values <= 0 keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a Policy that fetches robots.txt with client and matches rules for agent.
func New(client *http.Client, agent string, opts ...Option) *Policy {
	if client == nil {
		client = http.DefaultClient
	}
	p := &Policy{
		client:  client,
		agent:   agent,
		timeout: DefaultTimeout,
		hosts:   make(map[string]*hostRules),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Allowed reports whether rawURL may be fetched. Unreachable or unparsable
// robots.txt files allow everything.
func (p *Policy) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	key := u.Scheme + "://" + u.Host
	p.mu.Lock()
	rules, ok := p.hosts[key]
	if !ok {
		rules = &hostRules{}
		p.hosts[key] = rules
	}
	p.mu.Unlock()

	rules.once.Do(func() {
		rules.group = p.load(ctx, key)
	})
	if rules.group == nil {
		return true
	}
	return rules.group.Test(u.RequestURI())
}

// load fetches and parses robots.txt for origin. Callers of the same host
// wait on it, so it never outlives p.timeout.
func (p *Policy) load(ctx context.Context, origin string) *robotstxt.Group {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", p.agent)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data.FindGroup(p.agent)
}
