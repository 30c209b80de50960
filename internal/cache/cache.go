// Package cache memoizes per-(entity, rule) match outcomes across runs.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/trcr/internal/ir"
)

// Key identifies a cached outcome. RuleID is the ExecIR atom id, since
// clauses of one rule are evaluated independently.
type Key struct {
	EntityID string
	RuleID   string
}

// Entry is a cached outcome. Fingerprint and PlanHash pin it to the exact
// entity content and compiled clause it was computed from; callers treat
// a mismatch as a miss.
type Entry struct {
	Fingerprint string
	PlanHash    string
	Matched     bool
	Match       ir.Match
}

// Valid reports whether e was computed for the given entity content and
// compiled clause.
func (e Entry) Valid(fingerprint, planHash string) bool {
	return e.Fingerprint == fingerprint && e.PlanHash == planHash
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	MaxSize   int
}

// MatchCache is a bounded LRU of match outcomes. Safe for concurrent use.
type MatchCache struct {
	lru     *lru.Cache[Key, Entry]
	maxSize int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache holding at most maxSize entries.
func New(maxSize int) (*MatchCache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxSize)
	}
	l, err := lru.New[Key, Entry](maxSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &MatchCache{lru: l, maxSize: maxSize}, nil
}

// Get returns the entry for k and marks it most recently used.
func (c *MatchCache) Get(k Key) (Entry, bool) {
	e, ok := c.lru.Get(k)
	if ok {
		c.hits.Add(1)
		recordHit(context.Background())
	} else {
		c.misses.Add(1)
		recordMiss(context.Background())
	}
	return e, ok
}

// Set stores e under k, evicting the least recently used entry if full.
func (c *MatchCache) Set(k Key, e Entry) {
	if evicted := c.lru.Add(k, e); evicted {
		c.evictions.Add(1)
		recordEviction(context.Background())
	}
}

// Clear drops every entry. Counters are kept.
func (c *MatchCache) Clear() {
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *MatchCache) Len() int {
	return c.lru.Len()
}

// Keys returns the cached keys from least to most recently used.
func (c *MatchCache) Keys() []Key {
	return c.lru.Keys()
}

// Stats returns the current counters.
func (c *MatchCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
	}
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
