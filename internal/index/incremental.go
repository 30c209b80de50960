package index

import (
	"sync"

	"github.com/roach88/trcr/internal/ir"
)

// compactMin is the number of removed entities that must accumulate
// before their slots are reclaimed.
const compactMin = 1024

// IncrementalIndex is a MultiIndex that supports Add and Remove.
//
// Readers take a shared lock and writers an exclusive one, so a query
// never observes a half-applied update. Results always equal those of a
// MultiIndex rebuilt from Entities().
type IncrementalIndex struct {
	mu       sync.RWMutex
	kinds    []ir.IndexKind
	t        *table
	byKind   map[ir.IndexKind]postings
	ids      map[string]int
	counters *Counters
}

// NewIncrementalIndex creates an empty incremental index.
func NewIncrementalIndex(opts ...Option) (*IncrementalIndex, error) {
	o := newOptions(opts)
	x := &IncrementalIndex{kinds: o.kinds, counters: o.counters}
	if err := x.reset(nil); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *IncrementalIndex) reset(entities []ir.Entity) error {
	byKind := make(map[ir.IndexKind]postings, len(x.kinds))
	for _, kind := range x.kinds {
		p, err := newPostings(kind)
		if err != nil {
			return err
		}
		byKind[kind] = p
	}
	x.t = newTable(nil)
	x.byKind = byKind
	x.ids = make(map[string]int, len(entities))
	for _, e := range entities {
		x.insert(e)
	}
	return nil
}

func (x *IncrementalIndex) insert(e ir.Entity) {
	pos := x.t.append(e)
	f := x.t.fields[pos]
	for _, p := range x.byKind {
		p.insert(pos, f)
	}
	x.ids[e.ID()] = pos
}

func (x *IncrementalIndex) drop(pos int) {
	f := x.t.fields[pos]
	for _, p := range x.byKind {
		p.delete(pos, f)
	}
	x.t.kill(pos)
	delete(x.ids, x.t.entities[pos].ID())
}

// Add indexes e. An entity with the same ID is replaced and e moves to
// the end of the insertion order.
func (x *IncrementalIndex) Add(e ir.Entity) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if pos, ok := x.ids[e.ID()]; ok {
		x.drop(pos)
	}
	x.insert(e)
}

// Remove drops the entity with the given id and reports whether it was
// present.
func (x *IncrementalIndex) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	pos, ok := x.ids[id]
	if !ok {
		return false
	}
	x.drop(pos)
	if dead := len(x.t.entities) - x.t.live; dead >= compactMin && dead > x.t.live {
		// Kinds were validated at construction, so reset cannot fail.
		_ = x.reset(x.t.liveEntities())
	}
	return true
}

// Query returns the candidates for g, or nil if g's kind is not indexed.
func (x *IncrementalIndex) Query(g ir.CandidateGeneratorIR) []ir.Entity {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.byKind[g.Kind]
	if !ok {
		return nil
	}
	x.counters.record(g.Kind)
	return x.t.resolve(p.lookup(x.t, g))
}

// Supports reports whether kind is indexed.
func (x *IncrementalIndex) Supports(kind ir.IndexKind) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.byKind[kind]
	return ok
}

// Size returns the number of live entities.
func (x *IncrementalIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.t.live
}

// Entities returns the live entities in insertion order.
func (x *IncrementalIndex) Entities() []ir.Entity {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.t.liveEntities()
}

// Counters returns the query counters.
func (x *IncrementalIndex) Counters() *Counters { return x.counters }
