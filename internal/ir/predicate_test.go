package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstraintRegexSearchesValue(t *testing.T) {
	tests := []struct {
		name  string
		regex string
		value string
		want  bool
	}{
		{"substring", "select", "x = 'select * from t'", true},
		{"case flag", "(?i)select", "SELECT 1", true},
		{"anchored exact", "^True$", "True", true},
		{"anchored rejects longer", "^True$", "Truex", false},
		{"no match", "drop", "select 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompileConstraint(&ConstraintSpec{Regex: tt.regex})
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Check(Arg{Value: tt.value}))
		})
	}
}

func TestRegexGuardAnchorsPattern(t *testing.T) {
	g, err := BuildGuard(&GuardSpec{Name: "g", Kind: GuardRegex, Pattern: "select"})
	require.NoError(t, err)
	re, err := g.(RegexGuard).Regexp()
	require.NoError(t, err)
	assert.True(t, re.MatchString("select"))
	assert.False(t, re.MatchString("x = 'select'"), "guard patterns must match the whole value")

	hand, err := RegexGuard{Pattern: "select"}.Regexp()
	require.NoError(t, err)
	assert.False(t, hand.MatchString("x = 'select'"))
}
