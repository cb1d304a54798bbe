// Package scope turns raw link targets into canonical absolute URLs and decides
// whether they belong to the crawled domain. All functions are pure.
package scope

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnresolvable is returned when a link cannot be turned into an absolute HTTP(S) URL.
var ErrUnresolvable = errors.New("scope: unresolvable link")

// Canonicalize resolves ref against base and strips any fragment.
//
// Absolute http(s) refs are kept as written, except that an empty path becomes
// "/" as it does for seeds. Refs starting with "/" are joined
// to the scheme and authority of base; anything else is resolved against the
// directory of base with dot segments removed. Refs with another scheme
// (mailto:, javascript:, ...) are rejected.
func Canonicalize(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if hasHTTPScheme(ref) {
		return withRootPath(stripFragment(ref)), nil
	}

	b, err := url.Parse(base)
	if err != nil || !isHTTP(b.Scheme) || b.Host == "" {
		return "", fmt.Errorf("%w: invalid base %q", ErrUnresolvable, base)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnresolvable, ref, err)
	}
	if r.Scheme != "" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrUnresolvable, r.Scheme)
	}

	resolved := b.ResolveReference(r)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), nil
}

// SameDomain reports whether the authority of rawURL is exactly domain.
// Matching is ASCII case-insensitive and covers whole hosts only, so
// "https://www.example.com.evil.net/" is not in "www.example.com".
func SameDomain(rawURL, domain string) bool {
	if domain == "" {
		return false
	}
	i := strings.Index(rawURL, "://")
	if i < 0 || !isHTTP(rawURL[:i]) {
		return false
	}
	rest := rawURL[i+3:]
	if len(rest) < len(domain) || !strings.EqualFold(rest[:len(domain)], domain) {
		return false
	}
	rest = rest[len(domain):]
	return rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#'
}

// Host returns the lower-cased authority of an absolute URL, or "" if there is none.
func Host(rawURL string) string {
	i := strings.Index(rawURL, "://")
	if i < 0 {
		return ""
	}
	rest := rawURL[i+3:]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return strings.ToLower(rest)
}

// NormalizeSeed validates a start URL and gives it an explicit root path so it
// compares equal to links pointing at "/".
func NormalizeSeed(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid seed URL %q: %w", raw, err)
	}
	if !isHTTP(u.Scheme) || u.Host == "" {
		return "", fmt.Errorf("invalid seed URL %q: need an absolute http(s) URL", raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func isHTTP(scheme string) bool {
	return strings.EqualFold(scheme, "http") || strings.EqualFold(scheme, "https")
}

// withRootPath inserts "/" after an authority that has no path.
func withRootPath(s string) string {
	i := strings.Index(s, "://") + 3
	j := strings.IndexAny(s[i:], "/?")
	switch {
	case j < 0:
		return s + "/"
	case s[i+j] == '?':
		return s[:i+j] + "/" + s[i+j:]
	}
	return s
}

func stripFragment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}
