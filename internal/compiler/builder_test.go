package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/ir"
)

func planIDs(plan []ir.CandidateGeneratorIR) []string {
	out := make([]string, len(plan))
	for i, g := range plan {
		out[i] = g.ID()
	}
	return out
}

func TestBuildPlan(t *testing.T) {
	tests := []struct {
		name   string
		clause ir.MatchClauseSpec
		want   []string
	}{
		{
			name:   "exact type and call",
			clause: ir.MatchClauseSpec{Entity: ir.EntityCall, Type: "sqlite3.Cursor", Call: "execute"},
			want: []string{
				"exact:type+name:call:sqlite3.Cursor:execute",
				"exact:name:call:execute",
				"exact:type:call:sqlite3.Cursor",
				"scan",
			},
		},
		{
			name:   "call only",
			clause: ir.MatchClauseSpec{Entity: ir.EntityCall, Call: "eval"},
			want:   []string{"exact:name:call:eval", "scan"},
		},
		{
			name:   "prefix call",
			clause: ir.MatchClauseSpec{Entity: ir.EntityCall, Type: "pickle", Call: "load*"},
			want:   []string{"exact:type:call:pickle", "prefix:name:load", "scan"},
		},
		{
			name:   "suffix type",
			clause: ir.MatchClauseSpec{Entity: ir.EntityRead, Type: "*Request", Call: "args"},
			want:   []string{"exact:name:read:args", "suffix:type:Request", "scan"},
		},
		{
			name:   "contains call",
			clause: ir.MatchClauseSpec{Entity: ir.EntityCall, Call: "*execute*"},
			want:   []string{"trigram:name:execute", "scan"},
		},
		{
			name:   "arguments only",
			clause: ir.MatchClauseSpec{Entity: ir.EntityCall, Args: []ir.ArgConstraintSpec{{Position: 0, Ref: "x"}}},
			want:   []string{"scan"},
		},
		{
			name:   "fuzzy",
			clause: ir.MatchClauseSpec{Entity: ir.EntityCall, Call: "executescript", Fuzzy: 2},
			want:   []string{"exact:name:call:executescript", "fuzzy:name:executescript~2", "scan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, planIDs(BuildPlan(&tt.clause)))
		})
	}
}

func TestBuildExecIRPredicates(t *testing.T) {
	sqlText, err := ir.CompileConstraint(&ir.ConstraintSpec{Name: "sql_text", Regex: "(?i)select"})
	require.NoError(t, err)
	sym := symbols{
		guards:      map[string]ir.GuardIR{},
		constraints: map[string]ir.ConstraintIR{"sql_text": sqlText},
	}
	tainted := true
	r := &ir.RuleSpec{
		ID:       "r",
		Severity: ir.SeverityHigh,
		Effect:   ir.EffectSink,
		Trace:    ir.TraceNone,
		Clauses: []ir.MatchClauseSpec{{
			Entity: ir.EntityCall,
			Call:   "*execute*",
			Args: []ir.ArgConstraintSpec{
				{Position: 1, Ref: "sql_text"},
				{Position: 0, Inline: &ir.ConstraintSpec{Tainted: &tainted}},
			},
		}},
	}

	xs, err := BuildExecIRs(r, sym, DefaultTierThresholds)
	require.NoError(t, err)
	require.Len(t, xs, 1)

	var keys []string
	for _, p := range xs[0].PredicateChain {
		keys = append(keys, p.Key())
	}
	require.Len(t, keys, 5)
	assert.Equal(t, "kind:call", keys[0])
	assert.Equal(t, "argc>=2", keys[1])
	assert.IsType(t, ir.ArgSatisfies{}, xs[0].PredicateChain[4], "regex constraint is the most expensive check")
	assert.Equal(t, 1, xs[0].PredicateChain[4].(ir.ArgSatisfies).Position)
}

func TestBuildExecIRUnknownGuard(t *testing.T) {
	r := &ir.RuleSpec{
		ID:       "r",
		Severity: ir.SeverityHigh,
		Effect:   ir.EffectSink,
		Trace:    ir.TraceNone,
		Clauses:  []ir.MatchClauseSpec{{Entity: ir.EntityCall, Call: "f", Guards: []string{"missing"}}},
	}
	_, err := BuildExecIRs(r, symbols{}, DefaultTierThresholds)
	assert.ErrorContains(t, err, "not compiled")
}
