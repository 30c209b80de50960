package index

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/ir"
	"github.com/roach88/trcr/internal/testutil"
)

func lookupGenerators() []ir.CandidateGeneratorIR {
	typeName := ir.NewGenerator(ir.IndexExact, ir.FieldTypeName, "execute")
	typeName.TypeKey = "sqlite3.Cursor"
	typeName.EntityKind = ir.EntityCall
	fz := ir.NewGenerator(ir.IndexFuzzy, ir.FieldName, "executescript")
	fz.MaxDistance = 2
	return []ir.CandidateGeneratorIR{
		typeName,
		ir.NewGenerator(ir.IndexExact, ir.FieldName, "execute"),
		ir.NewGenerator(ir.IndexExact, ir.FieldType, "pickle"),
		ir.NewGenerator(ir.IndexPrefix, ir.FieldName, "load"),
		ir.NewGenerator(ir.IndexPrefix, ir.FieldType, "pkg1"),
		ir.NewGenerator(ir.IndexSuffix, ir.FieldType, "Request"),
		ir.NewGenerator(ir.IndexSuffix, ir.FieldName, "_7"),
		ir.NewGenerator(ir.IndexTrigram, ir.FieldName, "xecu"),
		ir.NewGenerator(ir.IndexTrigram, ir.FieldName, "ev"),
		ir.NewGenerator(ir.IndexTrigram, ir.FieldType, "Widget0"),
		fz,
		ir.ScanGenerator(),
	}
}

func assertMatchesRebuild(t *testing.T, inc *IncrementalIndex) {
	t.Helper()
	rebuilt, err := NewMultiIndex(context.Background(), inc.Entities())
	require.NoError(t, err)
	assert.Equal(t, rebuilt.Size(), inc.Size())
	for _, g := range lookupGenerators() {
		assert.Equal(t, ids(rebuilt.Query(g)), ids(inc.Query(g)), g.ID())
	}
}

func TestIncrementalEqualsRebuild(t *testing.T) {
	inc, err := NewIncrementalIndex()
	require.NoError(t, err)

	es := fixture()
	for _, e := range es {
		inc.Add(e)
	}
	assertMatchesRebuild(t, inc)

	for i, e := range es {
		if i%3 == 0 {
			assert.True(t, inc.Remove(e.ID()))
		}
	}
	assertMatchesRebuild(t, inc)

	for i, e := range es {
		if i%6 == 0 {
			inc.Add(e)
		}
	}
	assertMatchesRebuild(t, inc)
}

func TestIncrementalReplaceMovesToEnd(t *testing.T) {
	inc, err := NewIncrementalIndex()
	require.NoError(t, err)

	inc.Add(testutil.Call("a", "db", "execute"))
	inc.Add(testutil.Call("b", "db", "execute"))
	inc.Add(testutil.Call("a", "db", "execute"))

	assert.Equal(t, 2, inc.Size())
	assert.Equal(t, []string{"b", "a"}, ids(inc.Query(ir.NewGenerator(ir.IndexExact, ir.FieldName, "execute"))))

	inc.Add(testutil.Call("b", "db", "executemany"))
	assert.Equal(t, []string{"a"}, ids(inc.Query(ir.NewGenerator(ir.IndexExact, ir.FieldName, "execute"))))
	assertMatchesRebuild(t, inc)
}

func TestIncrementalRemoveUnknown(t *testing.T) {
	inc, err := NewIncrementalIndex()
	require.NoError(t, err)
	assert.False(t, inc.Remove("missing"))
}

func TestIncrementalCompaction(t *testing.T) {
	inc, err := NewIncrementalIndex()
	require.NoError(t, err)

	const n = 3 * compactMin
	for i := range n {
		inc.Add(testutil.Call(fmt.Sprintf("e%d", i), "mod.Type", fmt.Sprintf("name_%d", i%10)))
	}
	for i := range n - 10 {
		require.True(t, inc.Remove(fmt.Sprintf("e%d", i)))
	}

	assert.Equal(t, 10, inc.Size())
	assert.Less(t, len(inc.t.entities), n, "removed slots are reclaimed")
	assertMatchesRebuild(t, inc)
	assert.Equal(t, []string{fmt.Sprintf("e%d", n-10)},
		ids(inc.Query(ir.NewGenerator(ir.IndexExact, ir.FieldName, fmt.Sprintf("name_%d", (n-10)%10)))))
}

func TestIncrementalConcurrentReadersAndWriters(t *testing.T) {
	inc, err := NewIncrementalIndex()
	require.NoError(t, err)
	for _, e := range fixture() {
		inc.Add(e)
	}

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				id := fmt.Sprintf("w%d-%d", w, i)
				inc.Add(testutil.Call(id, "db", "execute"))
				if i%2 == 0 {
					inc.Remove(id)
				}
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				for _, e := range inc.Query(ir.NewGenerator(ir.IndexExact, ir.FieldName, "execute")) {
					name, _ := e.CallName()
					assert.Equal(t, "execute", name)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(fixture())+4*50, inc.Size())
	assertMatchesRebuild(t, inc)
}
