package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortMatchesOrder(t *testing.T) {
	ms := []Match{
		{RuleID: "b", AtomID: "b:clause:0", EntityID: "e1", Specificity: 10, Confidence: 0.9},
		{RuleID: "a", AtomID: "a:clause:0", EntityID: "e2", Specificity: 10, Confidence: 0.9},
		{RuleID: "a", AtomID: "a:clause:0", EntityID: "e1", Specificity: 10, Confidence: 0.9},
		{RuleID: "c", AtomID: "c:clause:0", EntityID: "e1", Specificity: 10, Confidence: 0.95},
		{RuleID: "d", AtomID: "d:clause:0", EntityID: "e1", Specificity: 14, Confidence: 0.1},
	}
	SortMatches(ms)

	var got []string
	for _, m := range ms {
		got = append(got, m.RuleID+"/"+m.EntityID)
	}
	assert.Equal(t, []string{"d/e1", "c/e1", "a/e1", "a/e2", "b/e1"}, got)
}

func TestCanonicalMatchesStable(t *testing.T) {
	ms := []Match{{
		RuleID: "r", AtomID: "r:clause:0", EntityID: "e", Confidence: 1.0 / 3,
		Specificity: 4, EffectKind: EffectSink, Tier: Tier2, Severity: SeverityHigh,
		CWE: []string{"CWE-78"}, TaintPositions: []int{0},
		Trace: &MatchTrace{Generator: "exact:name:system", IndexKind: IndexExact, Candidates: 1},
	}}

	a, err := CanonicalMatches(ms)
	require.NoError(t, err)
	b, err := CanonicalMatches(ms)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `"confidence_ppm":333333`)
	assert.NotContains(t, string(a), "0.333")

	h, err := MatchesHash(ms)
	require.NoError(t, err)
	assert.Len(t, h, 64)
}

func TestMatchRecordRoundTrip(t *testing.T) {
	m := Match{RuleID: "r", AtomID: "r:clause:1", EntityID: "e", Confidence: 0.95,
		Specificity: 12, EffectKind: EffectSink, Tier: Tier1, Severity: SeverityCritical,
		CWE: []string{"CWE-89"}, Tags: []string{"sql"}, TaintPositions: []int{0}}

	rec := RecordOf("run", 3, m)
	assert.Equal(t, int64(950000), rec.ConfidencePPM)
	assert.Equal(t, m, rec.Match())
}
