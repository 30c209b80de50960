package index

import (
	"context"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/trcr/internal/ir"
)

// Querier answers candidate generators. The engine only depends on this.
type Querier interface {
	// Query returns candidates in insertion order, or nil when the kind
	// is not supported.
	Query(g ir.CandidateGeneratorIR) []ir.Entity
	Supports(kind ir.IndexKind) bool
	Size() int
}

// Option configures a MultiIndex or IncrementalIndex.
type Option func(*options)

type options struct {
	kinds    []ir.IndexKind
	counters *Counters
}

// WithKinds restricts the index kinds that are built. Scan is always
// available.
func WithKinds(kinds ...ir.IndexKind) Option {
	return func(o *options) {
		o.kinds = kinds
	}
}

// WithCounters records queries into c instead of a private set.
func WithCounters(c *Counters) Option {
	return func(o *options) {
		o.counters = c
	}
}

func newOptions(opts []Option) options {
	o := options{kinds: ir.AllIndexKinds}
	for _, opt := range opts {
		opt(&o)
	}
	if o.counters == nil {
		o.counters = &Counters{}
	}
	if !slices.Contains(o.kinds, ir.IndexScan) {
		o.kinds = append(slices.Clone(o.kinds), ir.IndexScan)
	}
	return o
}

// MultiIndex is a read-only façade over one index per kind.
//
// It does not own the entity slice it is built over; the caller must not
// modify the slice while the index is in use. Queries are safe for
// concurrent use.
type MultiIndex struct {
	t        *table
	byKind   map[ir.IndexKind]postings
	counters *Counters
}

// NewMultiIndex builds every configured index kind over entities. Kinds
// are built concurrently.
func NewMultiIndex(ctx context.Context, entities []ir.Entity, opts ...Option) (*MultiIndex, error) {
	o := newOptions(opts)
	m := &MultiIndex{
		t:        newTable(entities),
		byKind:   make(map[ir.IndexKind]postings, len(o.kinds)),
		counters: o.counters,
	}

	built := make([]postings, len(o.kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range o.kinds {
		g.Go(func() error {
			p, err := newPostings(kind)
			if err != nil {
				return err
			}
			for pos, f := range m.t.fields {
				if pos%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				p.insert(pos, f)
			}
			built[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, kind := range o.kinds {
		m.byKind[kind] = built[i]
	}

	slog.Debug("index built", "entities", len(entities), "kinds", len(o.kinds))
	return m, nil
}

// Query returns the candidates for g, or nil if g's kind was not built.
func (m *MultiIndex) Query(g ir.CandidateGeneratorIR) []ir.Entity {
	p, ok := m.byKind[g.Kind]
	if !ok {
		return nil
	}
	m.counters.record(g.Kind)
	return m.t.resolve(p.lookup(m.t, g))
}

// Supports reports whether kind was built.
func (m *MultiIndex) Supports(kind ir.IndexKind) bool {
	_, ok := m.byKind[kind]
	return ok
}

// Size returns the number of indexed entities.
func (m *MultiIndex) Size() int { return m.t.live }

// Entities returns the indexed entities in insertion order.
func (m *MultiIndex) Entities() []ir.Entity { return m.t.entities }

// Counters returns the query counters.
func (m *MultiIndex) Counters() *Counters { return m.counters }
