package index

import (
	"strings"

	"github.com/roach88/trcr/internal/ir"
)

const gramLen = 3

// trigram is an inverted index from rune trigrams to positions, one per
// field. Candidates sharing every trigram of the needle are verified with
// a substring check; needles shorter than a trigram scan the field.
type trigram struct {
	typ  map[string][]int
	name map[string][]int
}

func newTrigram() *trigram {
	return &trigram{typ: make(map[string][]int), name: make(map[string][]int)}
}

func grams(s string) []string {
	r := []rune(s)
	if len(r) < gramLen {
		return nil
	}
	out := make([]string, 0, len(r)-gramLen+1)
	seen := make(map[string]bool, len(r))
	for i := 0; i+gramLen <= len(r); i++ {
		g := string(r[i : i+gramLen])
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

func (x *trigram) postings(field ir.Field) map[string][]int {
	switch field {
	case ir.FieldType:
		return x.typ
	case ir.FieldName:
		return x.name
	default:
		return nil
	}
}

func (x *trigram) insert(pos int, f fields) {
	if f.hasType {
		for _, g := range grams(f.typ) {
			x.typ[g] = appendPos(x.typ[g], pos)
		}
	}
	if f.hasName {
		for _, g := range grams(f.name) {
			x.name[g] = appendPos(x.name[g], pos)
		}
	}
}

func (x *trigram) delete(pos int, f fields) {
	drop := func(m map[string][]int, key string) {
		for _, g := range grams(key) {
			if l := removePos(m[g], pos); len(l) == 0 {
				delete(m, g)
			} else {
				m[g] = l
			}
		}
	}
	if f.hasType {
		drop(x.typ, f.typ)
	}
	if f.hasName {
		drop(x.name, f.name)
	}
}

func (x *trigram) lookup(t *table, g ir.CandidateGeneratorIR) []int {
	m := x.postings(g.Field)
	if m == nil {
		return nil
	}
	needle := ir.NormalizeKey(g.Key)
	contains := func(pos int) bool {
		v, ok := t.fields[pos].field(g.Field)
		return ok && strings.Contains(v, needle)
	}

	gs := grams(needle)
	if len(gs) == 0 {
		var out []int
		for pos := range t.fields {
			if contains(pos) {
				out = append(out, pos)
			}
		}
		return out
	}

	candidates := m[gs[0]]
	for _, gram := range gs[1:] {
		candidates = intersect(candidates, m[gram])
		if len(candidates) == 0 {
			return nil
		}
	}
	out := make([]int, 0, len(candidates))
	for _, pos := range candidates {
		if contains(pos) {
			out = append(out, pos)
		}
	}
	return out
}

// intersect returns the positions in both ascending lists.
func intersect(a, b []int) []int {
	out := make([]int, 0, min(len(a), len(b)))
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
