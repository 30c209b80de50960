package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/trcr/internal/ir"
)

// MatchQuery selects stored matches across runs. Zero-valued fields do not
// constrain the result.
type MatchQuery struct {
	RunID         string
	RuleID        string
	EntityID      string
	CWE           string
	Tier          ir.Tier
	MinSeverity   ir.Severity
	MinConfidence float64
	Limit         int
}

// Validate rejects field values that can never match.
func (q MatchQuery) Validate() error {
	if q.Tier != "" && !ir.ValidTiers[q.Tier] {
		return fmt.Errorf("invalid tier %q", q.Tier)
	}
	if q.MinSeverity != "" && !ir.ValidSeverities[q.MinSeverity] {
		return fmt.Errorf("invalid severity %q", q.MinSeverity)
	}
	if q.MinConfidence < 0 || q.MinConfidence > 1 {
		return fmt.Errorf("min confidence %v outside [0, 1]", q.MinConfidence)
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative limit %d", q.Limit)
	}
	return nil
}

// predicate is one conjunct of a WHERE clause and its parameters.
type predicate struct {
	sql    string
	params []any
}

// compile lowers q to parameterized SQL. Values are never interpolated
// and the result is always ordered by run seq then rank.
func (q MatchQuery) compile() (string, []any) {
	var preds []predicate
	eq := func(col, v string) {
		if v != "" {
			preds = append(preds, predicate{col + " = ?", []any{v}})
		}
	}
	eq("m.run_id", q.RunID)
	eq("m.rule_id", q.RuleID)
	eq("m.entity_id", q.EntityID)
	eq("m.tier", string(q.Tier))

	if q.MinSeverity != "" {
		preds = append(preds, severityAtLeast(q.MinSeverity))
	}
	if q.MinConfidence > 0 {
		preds = append(preds, predicate{"m.confidence_ppm >= ?", []any{ir.PPM(q.MinConfidence)}})
	}
	if q.CWE != "" {
		// cwe is a JSON array of strings.
		preds = append(preds, predicate{
			"EXISTS (SELECT 1 FROM json_each(m.cwe) WHERE json_each.value = ?)",
			[]any{q.CWE},
		})
	}

	var sb strings.Builder
	sb.WriteString(`SELECT m.run_id, m.seq, m.rule_id, m.atom_id, m.entity_id, m.confidence_ppm, m.specificity,
		m.effect_kind, m.tier, m.severity, m.cwe, m.tags, m.taint
		FROM matches m
		JOIN runs r ON r.id = m.run_id`)

	var params []any
	for i, p := range preds {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(p.sql)
		params = append(params, p.params...)
	}
	sb.WriteString(" ORDER BY r.seq ASC, m.seq ASC")
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return sb.String(), params
}

// severityAtLeast expands a minimum severity to the set of severities
// ranked at or above it, in a fixed order.
func severityAtLeast(min ir.Severity) predicate {
	var allowed []string
	for s := range ir.ValidSeverities {
		if s.Rank() >= min.Rank() {
			allowed = append(allowed, string(s))
		}
	}
	slices.Sort(allowed)

	params := make([]any, len(allowed))
	for i, s := range allowed {
		params[i] = s
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(allowed)), ", ")
	return predicate{"m.severity IN (" + marks + ")", params}
}

// FindMatches returns stored matches selected by q, oldest run first and
// by rank within a run. Returns an empty slice (not nil) if none match.
func (s *Store) FindMatches(ctx context.Context, q MatchQuery) ([]ir.MatchRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query, params := q.compile()
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	return scanMatches(rows)
}
