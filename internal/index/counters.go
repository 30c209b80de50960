package index

import (
	"sync/atomic"

	"github.com/roach88/trcr/internal/ir"
)

// Counters records how many queries each index kind served.
//
// Safe for concurrent use. The zero value is ready to use.
type Counters struct {
	exact, prefix, suffix, trigram, fuzzy, scan atomic.Int64
}

func (c *Counters) slot(kind ir.IndexKind) *atomic.Int64 {
	switch kind {
	case ir.IndexExact:
		return &c.exact
	case ir.IndexPrefix:
		return &c.prefix
	case ir.IndexSuffix:
		return &c.suffix
	case ir.IndexTrigram:
		return &c.trigram
	case ir.IndexFuzzy:
		return &c.fuzzy
	case ir.IndexScan:
		return &c.scan
	default:
		return nil
	}
}

func (c *Counters) record(kind ir.IndexKind) {
	if s := c.slot(kind); s != nil {
		s.Add(1)
	}
}

// Get returns the number of queries served by kind.
func (c *Counters) Get(kind ir.IndexKind) int64 {
	if s := c.slot(kind); s != nil {
		return s.Load()
	}
	return 0
}

// Snapshot returns the current count for every kind.
func (c *Counters) Snapshot() map[ir.IndexKind]int64 {
	out := make(map[ir.IndexKind]int64, len(ir.AllIndexKinds))
	for _, k := range ir.AllIndexKinds {
		out[k] = c.Get(k)
	}
	return out
}

// Reset zeroes every counter.
func (c *Counters) Reset() {
	for _, k := range ir.AllIndexKinds {
		c.slot(k).Store(0)
	}
}
