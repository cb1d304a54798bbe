// Package visited provides the set of URLs already claimed by the crawl.
package visited

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultShards is the number of independently locked partitions.
	DefaultShards = 16

	// DefaultSizeHint is the expected number of URLs in one crawl.
	DefaultSizeHint = 10007
)

type shard struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// Set is a concurrent set of canonical URL strings. Entries are never removed.
type Set struct {
	shards []shard
}

type options struct {
	shards   int
	sizeHint int
}

// Option configures a Set.
type Option func(*options)

// WithShards sets the number of partitions. Values below 1 select a single partition.
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

// WithSizeHint pre-sizes the partitions for about n URLs in total.
func WithSizeHint(n int) Option {
	return func(o *options) {
		o.sizeHint = n
	}
}

// New creates an empty Set.
func New(opts ...Option) *Set {
	o := options{shards: DefaultShards, sizeHint: DefaultSizeHint}
	for _, opt := range opts {
		opt(&o)
	}
	if o.shards < 1 {
		o.shards = 1
	}
	perShard := 0
	if o.sizeHint > 0 {
		perShard = o.sizeHint/o.shards + 1
	}

	s := &Set{shards: make([]shard, o.shards)}
	for i := range s.shards {
		s.shards[i].urls = make(map[string]struct{}, perShard)
	}
	return s
}

// TryClaim inserts url if it is absent. It returns true only for the single
// caller that performed the insertion.
func (s *Set) TryClaim(url string) bool {
	sh := s.shardFor(url)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.urls[url]; ok {
		return false
	}
	sh.urls[url] = struct{}{}
	return true
}

// Len returns the number of claimed URLs.
func (s *Set) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.urls)
		sh.mu.Unlock()
	}
	return n
}

// shardFor hashes case-insensitively so that URLs differing only in case
// land in the same partition; membership itself is exact.
func (s *Set) shardFor(url string) *shard {
	if len(s.shards) == 1 {
		return &s.shards[0]
	}
	h := xxhash.Sum64String(strings.ToLower(url))
	return &s.shards[h%uint64(len(s.shards))]
}
