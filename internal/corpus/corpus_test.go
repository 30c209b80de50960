package corpus

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/ir"
)

func TestLoadFixture(t *testing.T) {
	es, err := Load("testdata/sinks.yaml")
	require.NoError(t, err)
	require.Len(t, es, 6)

	first := es[0]
	assert.Equal(t, "app.py:10:4", first.ID())
	assert.Equal(t, ir.EntityCall, first.Kind())
	base, ok := first.BaseType()
	assert.True(t, ok)
	assert.Equal(t, "sqlite3.Cursor", base)
	name, ok := first.CallName()
	assert.True(t, ok)
	assert.Equal(t, "execute", name)
	require.Len(t, first.Args(), 1)
	assert.True(t, first.Args()[0].Tainted)

	eval := es[2]
	_, ok = eval.BaseType()
	assert.False(t, ok, "eval has no receiver type")

	open := es[3]
	assert.Equal(t, "str", open.Args()[1].TypeCategory)
	assert.True(t, open.Args()[1].Literal)

	assert.Equal(t, ir.EntityRead, es[4].Kind())
	assert.Equal(t, ir.EntityAssign, es[5].Kind())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "entities:\n  - id: a\n    kind: call\n    callee: x\n",
			want: "callee",
		},
		{
			name: "missing id",
			yaml: "entities:\n  - kind: call\n    name: x\n",
			want: "id is required",
		},
		{
			name: "duplicate id",
			yaml: "entities:\n  - id: a\n  - id: a\n",
			want: "duplicate id",
		},
		{
			name: "unknown kind",
			yaml: "entities:\n  - id: a\n    kind: import\n",
			want: "unknown kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeDefaultsKindToCall(t *testing.T) {
	es, err := Decode(strings.NewReader("entities:\n  - id: a\n    name: run\n"))
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, ir.EntityCall, es[0].Kind())
}

func TestDecodeEmpty(t *testing.T) {
	es, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, es)
}

func TestEncodeRoundTrip(t *testing.T) {
	src := Synthetic(20, 7)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(src))
	for i := range src {
		assert.Equal(t, src[i], got[i])
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	a := Synthetic(100, 42)
	b := Synthetic(100, 42)
	assert.Equal(t, a, b)

	c := Synthetic(100, 43)
	assert.NotEqual(t, a, c)
}

func TestSyntheticAvoidsCoreVocabulary(t *testing.T) {
	for _, e := range Synthetic(500, 1) {
		name, _ := e.CallName()
		for _, word := range []string{"execute", "open", "load", "check_", "eval", "system"} {
			assert.NotContains(t, name, word)
		}
		typ, _ := e.BaseType()
		assert.False(t, strings.HasSuffix(typ, "Request"))
		assert.False(t, strings.HasSuffix(typ, "config"))
	}
}
