package ir

import (
	"strconv"
	"strings"
)

// IndexKind names the index a candidate generator queries.
type IndexKind string

const (
	IndexExact   IndexKind = "exact"
	IndexPrefix  IndexKind = "prefix"
	IndexSuffix  IndexKind = "suffix"
	IndexTrigram IndexKind = "trigram"
	IndexFuzzy   IndexKind = "fuzzy"
	IndexScan    IndexKind = "scan"
)

// AllIndexKinds lists every index kind in cost order.
var AllIndexKinds = []IndexKind{IndexExact, IndexPrefix, IndexSuffix, IndexTrigram, IndexFuzzy, IndexScan}

// CostClass is the generator cost class of an index kind:
// exact O(1) < trie O(L) < trigram O(k) < fuzzy < scan O(n).
func CostClass(k IndexKind) int {
	switch k {
	case IndexExact:
		return 1
	case IndexPrefix, IndexSuffix:
		return 2
	case IndexTrigram:
		return 3
	case IndexFuzzy:
		return 4
	default:
		return 5
	}
}

// Field is the entity field a generator keys on.
type Field string

const (
	FieldTypeName Field = "type+name"
	FieldName     Field = "name"
	FieldType     Field = "type"
	FieldNone     Field = ""
)

// CandidateGeneratorIR is an index-backed strategy for retrieving
// entities that might satisfy a clause.
//
// Exact generators key on EntityKind as well as the field values; other
// kinds leave the kind check to the runtime prefilter.
type CandidateGeneratorIR struct {
	Kind        IndexKind  `json:"kind"`
	Field       Field      `json:"field,omitempty"`
	EntityKind  EntityKind `json:"entity,omitempty"`
	TypeKey     string     `json:"type_key,omitempty"`
	Key         string     `json:"key,omitempty"`
	MaxDistance int        `json:"max_distance,omitempty"`
	Cost        int        `json:"cost_hint"`
}

// NewGenerator builds a generator with its cost class filled in.
func NewGenerator(kind IndexKind, field Field, key string) CandidateGeneratorIR {
	return CandidateGeneratorIR{Kind: kind, Field: field, Key: NormalizeKey(key), Cost: CostClass(kind)}
}

// ScanGenerator is the fallback generator every plan ends with.
func ScanGenerator() CandidateGeneratorIR {
	return CandidateGeneratorIR{Kind: IndexScan, Cost: CostClass(IndexScan)}
}

// ID identifies the generator; equal IDs retrieve equal candidate sets.
// Keys containing a separator are quoted so distinct generators never
// share an ID.
func (g CandidateGeneratorIR) ID() string {
	var b strings.Builder
	b.WriteString(string(g.Kind))
	if g.Field != FieldNone {
		b.WriteByte(':')
		b.WriteString(string(g.Field))
	}
	if g.EntityKind != "" {
		b.WriteByte(':')
		b.WriteString(string(g.EntityKind))
	}
	if g.TypeKey != "" {
		b.WriteByte(':')
		b.WriteString(idPart(g.TypeKey))
	}
	if g.Key != "" {
		b.WriteByte(':')
		b.WriteString(idPart(g.Key))
	}
	if g.MaxDistance > 0 {
		b.WriteByte('~')
		b.WriteString(strconv.Itoa(g.MaxDistance))
	}
	return b.String()
}

// idSeparators are the characters with structural meaning in generator
// ids and plan keys.
const idSeparators = ":|~\"\\"

func idPart(s string) string {
	if strings.ContainsAny(s, idSeparators) {
		return strconv.Quote(s)
	}
	return s
}

// IsFuzzy reports whether the generator is an edit-distance generator.
func (g CandidateGeneratorIR) IsFuzzy() bool {
	return g.Kind == IndexFuzzy
}
