package index

import (
	"slices"
	"strings"

	"github.com/roach88/trcr/internal/ir"
)

// exact maps composite keys to positions. Every key includes the entity
// kind, so a kind-less generator unions over all kinds.
type exact struct {
	typeName map[string][]int
	name     map[string][]int
	typ      map[string][]int
}

func newExact() *exact {
	return &exact{
		typeName: make(map[string][]int),
		name:     make(map[string][]int),
		typ:      make(map[string][]int),
	}
}

func exactKey(kind ir.EntityKind, parts ...string) string {
	return string(kind) + "\x00" + strings.Join(parts, "\x00")
}

func (x *exact) insert(pos int, f fields) {
	if f.hasType && f.hasName {
		k := exactKey(f.kind, f.typ, f.name)
		x.typeName[k] = appendPos(x.typeName[k], pos)
	}
	if f.hasName {
		k := exactKey(f.kind, f.name)
		x.name[k] = appendPos(x.name[k], pos)
	}
	if f.hasType {
		k := exactKey(f.kind, f.typ)
		x.typ[k] = appendPos(x.typ[k], pos)
	}
}

func (x *exact) delete(pos int, f fields) {
	drop := func(m map[string][]int, k string) {
		if l := removePos(m[k], pos); len(l) == 0 {
			delete(m, k)
		} else {
			m[k] = l
		}
	}
	if f.hasType && f.hasName {
		drop(x.typeName, exactKey(f.kind, f.typ, f.name))
	}
	if f.hasName {
		drop(x.name, exactKey(f.kind, f.name))
	}
	if f.hasType {
		drop(x.typ, exactKey(f.kind, f.typ))
	}
}

func (x *exact) lookup(_ *table, g ir.CandidateGeneratorIR) []int {
	key := ir.NormalizeKey(g.Key)
	var m map[string][]int
	var parts []string
	switch g.Field {
	case ir.FieldTypeName:
		m, parts = x.typeName, []string{ir.NormalizeKey(g.TypeKey), key}
	case ir.FieldName:
		m, parts = x.name, []string{key}
	case ir.FieldType:
		m, parts = x.typ, []string{key}
	default:
		return nil
	}

	if g.EntityKind != "" {
		return slices.Clone(m[exactKey(g.EntityKind, parts...)])
	}
	lists := make([][]int, 0, len(ir.ValidEntityKinds))
	for kind := range ir.ValidEntityKinds {
		lists = append(lists, m[exactKey(kind, parts...)])
	}
	return unionSorted(lists...)
}
