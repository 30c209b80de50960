package index

import (
	"slices"
	"unicode/utf8"

	"github.com/roach88/trcr/internal/ir"
)

// fuzzy buckets names by rune length so a query at distance d only
// verifies names whose length is within d of the key.
type fuzzy struct {
	byLen map[int][]int
}

func newFuzzy() *fuzzy {
	return &fuzzy{byLen: make(map[int][]int)}
}

func (x *fuzzy) insert(pos int, f fields) {
	if !f.hasName {
		return
	}
	n := utf8.RuneCountInString(f.name)
	x.byLen[n] = appendPos(x.byLen[n], pos)
}

func (x *fuzzy) delete(pos int, f fields) {
	if !f.hasName {
		return
	}
	n := utf8.RuneCountInString(f.name)
	if l := removePos(x.byLen[n], pos); len(l) == 0 {
		delete(x.byLen, n)
	} else {
		x.byLen[n] = l
	}
}

func (x *fuzzy) lookup(t *table, g ir.CandidateGeneratorIR) []int {
	if g.Field != ir.FieldName {
		return nil
	}
	key := ir.NormalizeKey(g.Key)
	d := max(g.MaxDistance, 0)
	n := utf8.RuneCountInString(key)

	var out []int
	for l := max(n-d, 0); l <= n+d; l++ {
		for _, pos := range x.byLen[l] {
			if ir.WithinDistance(t.fields[pos].name, key, d) {
				out = append(out, pos)
			}
		}
	}
	slices.Sort(out)
	return out
}
