package ir

import (
	"cmp"
	"fmt"
	"slices"
)

// Match is one ranked finding. Matches are created per run and owned by
// the caller.
type Match struct {
	RuleID         string      `json:"rule_id"`
	AtomID         string      `json:"atom_id"`
	EntityID       string      `json:"entity_id"`
	Entity         Entity      `json:"-"`
	Confidence     float64     `json:"confidence"`
	Specificity    int         `json:"specificity"`
	EffectKind     EffectKind  `json:"effect_kind"`
	TaintPositions []int       `json:"taint_positions,omitempty"`
	Tier           Tier        `json:"tier"`
	Severity       Severity    `json:"severity"`
	CWE            []string    `json:"cwe,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	Trace          *MatchTrace `json:"trace,omitempty"`
}

// MatchTrace explains how a match was produced.
//
// Summary traces fill the counters; full traces also list the predicates,
// adjustments and guards by key.
type MatchTrace struct {
	Executable          string    `json:"executable"`
	Generator           string    `json:"generator"`
	IndexKind           IndexKind `json:"index_kind"`
	Candidates          int       `json:"candidates"`
	PredicatesEvaluated int       `json:"predicates_evaluated"`
	PredicatesPassed    int       `json:"predicates_passed"`
	Fuzzy               bool      `json:"fuzzy,omitempty"`
	CacheHit            bool      `json:"cache_hit,omitempty"`
	Predicates          []string  `json:"predicates,omitempty"`
	Adjustments         []string  `json:"adjustments,omitempty"`
	Guards              []string  `json:"guards,omitempty"`
}

// CompareMatches is the ranking order: specificity desc, confidence desc,
// then rule_id, atom_id and entity_id ascending. Confidence compares at
// ppm resolution so the order agrees with the canonical encoding.
func CompareMatches(a, b Match) int {
	if c := cmp.Compare(b.Specificity, a.Specificity); c != 0 {
		return c
	}
	if c := cmp.Compare(PPM(b.Confidence), PPM(a.Confidence)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.RuleID, b.RuleID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.AtomID, b.AtomID); c != 0 {
		return c
	}
	return cmp.Compare(a.EntityID, b.EntityID)
}

// SortMatches ranks ms in place.
func SortMatches(ms []Match) {
	slices.SortStableFunc(ms, CompareMatches)
}

// Canonical renders m as an IRObject. Confidence is encoded in ppm.
func (m Match) Canonical() IRObject {
	obj := IRObject{
		"rule_id":        IRString(m.RuleID),
		"atom_id":        IRString(m.AtomID),
		"entity_id":      IRString(m.EntityID),
		"confidence_ppm": IRInt(PPM(m.Confidence)),
		"specificity":    IRInt(m.Specificity),
		"effect_kind":    IRString(m.EffectKind),
		"taint":          intArray(m.TaintPositions),
		"tier":           IRString(m.Tier),
		"severity":       IRString(m.Severity),
		"cwe":            stringArray(m.CWE),
		"tags":           stringArray(m.Tags),
	}
	if t := m.Trace; t != nil {
		obj["trace"] = IRObject{
			"executable":           IRString(t.Executable),
			"generator":            IRString(t.Generator),
			"index_kind":           IRString(t.IndexKind),
			"candidates":           IRInt(t.Candidates),
			"predicates_evaluated": IRInt(t.PredicatesEvaluated),
			"predicates_passed":    IRInt(t.PredicatesPassed),
			"fuzzy":                IRBool(t.Fuzzy),
			"cache_hit":            IRBool(t.CacheHit),
			"predicates":           stringArray(t.Predicates),
			"adjustments":          stringArray(t.Adjustments),
			"guards":               stringArray(t.Guards),
		}
	}
	return obj
}

// CanonicalMatches serializes a ranked match list as canonical JSON.
// Equal rule sets and corpora produce byte-identical output.
func CanonicalMatches(ms []Match) ([]byte, error) {
	arr := make(IRArray, len(ms))
	for i, m := range ms {
		arr[i] = m.Canonical()
	}
	b, err := MarshalCanonical(arr)
	if err != nil {
		return nil, fmt.Errorf("CanonicalMatches: %w", err)
	}
	return b, nil
}

// MatchRecord is the persisted form of a Match.
type MatchRecord struct {
	RunID         string
	Seq           int64
	RuleID        string
	AtomID        string
	EntityID      string
	ConfidencePPM int64
	Specificity   int
	EffectKind    EffectKind
	Tier          Tier
	Severity      Severity
	CWE           []string
	Tags          []string
	Taint         []int
}

// RecordOf converts m into its persisted form at position seq.
func RecordOf(runID string, seq int64, m Match) MatchRecord {
	return MatchRecord{
		RunID:         runID,
		Seq:           seq,
		RuleID:        m.RuleID,
		AtomID:        m.AtomID,
		EntityID:      m.EntityID,
		ConfidencePPM: PPM(m.Confidence),
		Specificity:   m.Specificity,
		EffectKind:    m.EffectKind,
		Tier:          m.Tier,
		Severity:      m.Severity,
		CWE:           m.CWE,
		Tags:          m.Tags,
		Taint:         m.TaintPositions,
	}
}

// Match converts the record back. Entity and Trace are not persisted.
func (r MatchRecord) Match() Match {
	return Match{
		RuleID:         r.RuleID,
		AtomID:         r.AtomID,
		EntityID:       r.EntityID,
		Confidence:     float64(r.ConfidencePPM) / 1e6,
		Specificity:    r.Specificity,
		EffectKind:     r.EffectKind,
		TaintPositions: r.Taint,
		Tier:           r.Tier,
		Severity:       r.Severity,
		CWE:            r.CWE,
		Tags:           r.Tags,
	}
}
