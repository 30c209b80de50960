package engine

import (
	"sync/atomic"

	"github.com/roach88/trcr/internal/index"
	"github.com/roach88/trcr/internal/ir"
)

// MatchContext is the scope of a single Execute call: the index to query,
// the run id, and hit counters. It is discarded after one run; passing it
// to Execute again fails with ErrCodeContextReused.
type MatchContext struct {
	index index.Querier
	runID string
	used  atomic.Bool
	stats Stats
}

// ContextOption configures a MatchContext.
type ContextOption func(*MatchContext)

// WithRunID fixes the run id instead of asking the executor's generator.
func WithRunID(id string) ContextOption {
	return func(mc *MatchContext) {
		mc.runID = id
	}
}

// NewMatchContext creates a single-use context over q.
func NewMatchContext(q index.Querier, opts ...ContextOption) *MatchContext {
	mc := &MatchContext{index: q}
	for _, opt := range opts {
		opt(mc)
	}
	mc.stats.ByIndex = make(map[ir.IndexKind]int)
	return mc
}

// RunID returns the id of the run this context belongs to. It is empty
// until Execute assigns one, unless WithRunID was given.
func (mc *MatchContext) RunID() string { return mc.runID }

// Stats returns the counters collected by the run. Valid once Execute
// has returned.
func (mc *MatchContext) Stats() Stats {
	s := mc.stats
	s.ByIndex = make(map[ir.IndexKind]int, len(mc.stats.ByIndex))
	for k, v := range mc.stats.ByIndex {
		s.ByIndex[k] = v
	}
	return s
}

// Stats counts the work one run did.
type Stats struct {
	Executables         int
	Candidates          int
	KindRejected        int
	PredicatesEvaluated int
	PredicatesPassed    int
	Matches             int
	Suppressed          int
	CacheHits           int
	CacheMisses         int
	// ByIndex counts generator queries per index kind.
	ByIndex map[ir.IndexKind]int
}
