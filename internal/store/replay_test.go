package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/ir"
)

func TestCompareRun(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		replay        func([]ir.Match) []ir.Match
		corpus        string
		wantIdentical bool
		wantFields    []string
	}{
		{
			name:          "same output",
			replay:        func(ms []ir.Match) []ir.Match { return ms },
			corpus:        "corpus-1",
			wantIdentical: true,
		},
		{
			name: "trace and sub-ppm noise ignored",
			replay: func(ms []ir.Match) []ir.Match {
				ms[0].Trace = &ir.MatchTrace{CacheHit: true}
				ms[1].Confidence = 1 - 1e-9
				return ms
			},
			corpus:        "corpus-1",
			wantIdentical: true,
		},
		{
			name: "confidence changed",
			replay: func(ms []ir.Match) []ir.Match {
				ms[0].Confidence = 0.19
				return ms
			},
			corpus:     "corpus-2",
			wantFields: []string{"confidence_ppm"},
		},
		{
			name: "severity downgraded",
			replay: func(ms []ir.Match) []ir.Match {
				ms[1].Severity = ir.SeverityHigh
				return ms
			},
			corpus:     "corpus-1",
			wantFields: []string{"severity"},
		},
		{
			name:       "match lost",
			replay:     func(ms []ir.Match) []ir.Match { return ms[:2] },
			corpus:     "corpus-1",
			wantFields: []string{"match"},
		},
		{
			name: "match gained",
			replay: func(ms []ir.Match) []ir.Match {
				return append(ms, ir.Match{RuleID: "new", AtomID: "new:clause:0", EntityID: "e9"})
			},
			corpus:     "corpus-1",
			wantFields: []string{"match"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			_, err := s.WriteRun(ctx, sampleRun("r1"), sampleMatches())
			require.NoError(t, err)

			res, err := s.CompareRun(ctx, "r1", "rules-1", tt.corpus, tt.replay(sampleMatches()))
			require.NoError(t, err)

			assert.Equal(t, tt.wantIdentical, res.Identical)
			assert.False(t, res.RuleSetChanged)
			assert.Equal(t, tt.corpus != "corpus-1", res.CorpusChanged)
			var fields []string
			for _, d := range res.Diffs {
				fields = append(fields, d.Field)
			}
			assert.Equal(t, tt.wantFields, fields)
		})
	}
}

func TestCompareRunMissing(t *testing.T) {
	s := createTestStore(t)
	_, err := s.CompareRun(context.Background(), "nope", "", "", nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDiffString(t *testing.T) {
	d := Diff{Seq: 2, Field: "severity", Stored: "critical", Replayed: "high"}
	assert.Equal(t, "#2 severity: stored=critical replayed=high", d.String())
}

func TestListMarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ss   []string
	}{
		{"nil", nil},
		{"one", []string{"CWE-89"}},
		{"unicode", []string{"café", "<b>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := marshalStrings(tt.ss)
			require.NoError(t, err)
			got, err := unmarshalStrings(data)
			require.NoError(t, err)
			assert.Equal(t, tt.ss, got)
		})
	}

	data, err := marshalInts([]int{0, 2})
	require.NoError(t, err)
	assert.Equal(t, "[0,2]", data)
	ns, err := unmarshalInts(data)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, ns)

	_, err = unmarshalStrings("{")
	assert.Error(t, err)
}
