package index

import (
	"fmt"
	"slices"

	"github.com/roach88/trcr/internal/ir"
)

// postings is the kind-specific part of an index. Lookups return
// ascending positions; the table filters out removed entities.
type postings interface {
	insert(pos int, f fields)
	delete(pos int, f fields)
	lookup(t *table, g ir.CandidateGeneratorIR) []int
}

// Index is a single index kind over its own entity table.
//
// An Index is not safe for concurrent Add; queries against an index that
// is no longer modified may run concurrently.
type Index struct {
	kind ir.IndexKind
	t    *table
	p    postings
}

// New creates an empty index of the given kind.
func New(kind ir.IndexKind) (*Index, error) {
	p, err := newPostings(kind)
	if err != nil {
		return nil, err
	}
	return &Index{kind: kind, t: newTable(nil), p: p}, nil
}

func newPostings(kind ir.IndexKind) (postings, error) {
	switch kind {
	case ir.IndexExact:
		return newExact(), nil
	case ir.IndexPrefix:
		return newTriePair(false), nil
	case ir.IndexSuffix:
		return newTriePair(true), nil
	case ir.IndexTrigram:
		return newTrigram(), nil
	case ir.IndexFuzzy:
		return newFuzzy(), nil
	case ir.IndexScan:
		return scan{}, nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
}

// Kind returns the index kind.
func (x *Index) Kind() ir.IndexKind { return x.kind }

// Add indexes e after every entity already added.
func (x *Index) Add(e ir.Entity) {
	pos := x.t.append(e)
	x.p.insert(pos, x.t.fields[pos])
}

// Query returns the candidates for g in insertion order. A generator of
// another kind yields nothing.
func (x *Index) Query(g ir.CandidateGeneratorIR) []ir.Entity {
	if g.Kind != x.kind {
		return nil
	}
	return x.t.resolve(x.p.lookup(x.t, g))
}

// Size returns the number of indexed entities.
func (x *Index) Size() int { return x.t.live }

// removePos deletes pos from an ascending posting list.
func removePos(list []int, pos int) []int {
	if i, ok := slices.BinarySearch(list, pos); ok {
		return slices.Delete(list, i, i+1)
	}
	return list
}

// appendPos appends pos unless it is already the last element.
func appendPos(list []int, pos int) []int {
	if n := len(list); n > 0 && list[n-1] == pos {
		return list
	}
	return append(list, pos)
}

// unionSorted merges ascending posting lists without duplicates.
func unionSorted(lists ...[]int) []int {
	var out []int
	for _, l := range lists {
		out = append(out, l...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// scan is the fallback: every entity is a candidate.
type scan struct{}

func (scan) insert(int, fields) {}
func (scan) delete(int, fields) {}

func (scan) lookup(t *table, _ ir.CandidateGeneratorIR) []int {
	out := make([]int, len(t.entities))
	for i := range out {
		out[i] = i
	}
	return out
}
