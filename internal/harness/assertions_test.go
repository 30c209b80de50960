package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/ir"
)

func rankedMatches() []ir.Match {
	return []ir.Match{
		{RuleID: "sqli", EntityID: "e1", Confidence: 0.95, Specificity: 18, Severity: ir.SeverityCritical, Tier: ir.Tier1},
		{RuleID: "eval", EntityID: "e2", Confidence: 1.0, Specificity: 12, Severity: ir.SeverityCritical, Tier: ir.Tier1},
		{RuleID: "open", EntityID: "e3", Confidence: 0.6, Specificity: 4, Severity: ir.SeverityHigh, Tier: ir.Tier3},
		{RuleID: "open", EntityID: "e4", Confidence: 0.6, Specificity: 4, Severity: ir.SeverityHigh, Tier: ir.Tier3},
	}
}

func TestEvaluateAssertions_Matches(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"contains rule", Assertion{Type: AssertMatchContains, Rule: "open"}, ""},
		{"contains pair", Assertion{Type: AssertMatchContains, Rule: "open", Entity: "e4"}, ""},
		{"contains with fields", Assertion{Type: AssertMatchContains, Rule: "sqli", Severity: "critical", Tier: "tier1", MinConfidence: 0.95}, ""},
		{"contains missing", Assertion{Type: AssertMatchContains, Rule: "ssrf"}, "no match"},
		{"contains wrong severity", Assertion{Type: AssertMatchContains, Rule: "open", Severity: "critical"}, "has severity high"},
		{"contains wrong tier", Assertion{Type: AssertMatchContains, Rule: "eval", Tier: "tier2"}, "has tier tier1"},
		{"contains low confidence", Assertion{Type: AssertMatchContains, Rule: "sqli", MinConfidence: 0.99}, "has confidence 0.950000"},
		{"absent", Assertion{Type: AssertMatchAbsent, Rule: "ssrf"}, ""},
		{"absent pair", Assertion{Type: AssertMatchAbsent, Rule: "open", Entity: "e1"}, ""},
		{"absent but present", Assertion{Type: AssertMatchAbsent, Rule: "open"}, "found open@e3"},
		{"order", Assertion{Type: AssertMatchOrder, Matches: []string{"sqli@e1", "open@e4"}}, ""},
		{"order reversed", Assertion{Type: AssertMatchOrder, Matches: []string{"open@e4", "open@e3"}}, "open@e4 (rank 4) should be before open@e3 (rank 3)"},
		{"order missing", Assertion{Type: AssertMatchOrder, Matches: []string{"sqli@e1", "eval@e9"}}, "missing match: eval@e9"},
		{"count all", Assertion{Type: AssertMatchCount, Count: 4}, ""},
		{"count rule", Assertion{Type: AssertMatchCount, Rule: "open", Count: 2}, ""},
		{"count wrong", Assertion{Type: AssertMatchCount, Rule: "open", Count: 1}, "2 matches for rule open"},
		{"unknown", Assertion{Type: "trace_order"}, "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResult()
			r.Matches = rankedMatches()
			errs := EvaluateAssertions(r, []Assertion{tt.assertion})
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], "assertions[0]")
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}

func TestEvaluateAssertions_CompileAndIndex(t *testing.T) {
	r := NewResult()
	r.CompileCodes = []string{"E205", "E209"}
	r.IndexQueries = map[ir.IndexKind]int64{ir.IndexExact: 12, ir.IndexFuzzy: 1}

	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertCompileError, Code: "E209"},
		{Type: AssertCompileError, Code: "E201"},
		{Type: AssertIndexUntouched, Kinds: []string{"scan", "trigram"}},
		{Type: AssertIndexUntouched, Kinds: []string{"scan", "fuzzy"}},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertions[1]")
	assert.Contains(t, errs[0], "codes [E205 E209]")
	assert.Contains(t, errs[1], "assertions[3]")
	assert.Contains(t, errs[1], "fuzzy=1")
}

func TestAssertionErrorListsMatches(t *testing.T) {
	err := &AssertionError{
		Type:     AssertMatchCount,
		Expected: "1 matches",
		Actual:   "2 matches",
		Matches:  rankedMatches()[:2],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: match_count")
	assert.Contains(t, msg, "[1] sqli@e1 conf=0.950 spec=18 critical")
	assert.Contains(t, msg, "[2] eval@e2 conf=1.000 spec=12 critical")
}

func TestCheckExpectations(t *testing.T) {
	conf := func(f float64) *float64 { return &f }
	tests := []struct {
		name   string
		expect []ExpectedMatch
		want   int
	}{
		{"nil is unchecked", nil, 0},
		{"empty requires none", []ExpectedMatch{}, 1},
		{"exact list", []ExpectedMatch{
			{Rule: "sqli", Entity: "e1", Confidence: conf(0.95)},
			{Rule: "eval", Entity: "e2", Severity: "critical"},
			{Rule: "open", Entity: "e3", Tier: "tier3"},
			{Rule: "open", Entity: "e4"},
		}, 0},
		{"sub-ppm confidence agrees", []ExpectedMatch{
			{Rule: "sqli", Entity: "e1", Confidence: conf(0.9500001)},
			{Rule: "eval", Entity: "e2"},
			{Rule: "open", Entity: "e3"},
			{Rule: "open", Entity: "e4"},
		}, 0},
		{"wrong order", []ExpectedMatch{
			{Rule: "eval", Entity: "e2"},
			{Rule: "sqli", Entity: "e1"},
			{Rule: "open", Entity: "e3"},
			{Rule: "open", Entity: "e4"},
		}, 2},
		{"short list", []ExpectedMatch{{Rule: "sqli", Entity: "e1"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, checkExpectations(rankedMatches(), tt.expect), tt.want)
		})
	}
}
