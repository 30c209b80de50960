package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/ir"
	"github.com/roach88/trcr/internal/testutil"
)

func build(t testing.TB, spec ir.GuardSpec) ir.GuardIR {
	t.Helper()
	g, err := ir.BuildGuard(&spec)
	require.NoError(t, err)
	return g
}

func ptr[T any](v T) *T { return &v }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ir.GuardSpec
		entity  ir.Entity
		taint   []int
		trigger bool
	}{
		{
			name:    "allowlist hit",
			spec:    ir.GuardSpec{Name: "g", Kind: ir.GuardAllowlist, Values: []string{"ls", "pwd"}},
			entity:  testutil.Call("e", "os", "system", testutil.Literal("ls", "str")),
			trigger: true,
		},
		{
			name:   "allowlist miss",
			spec:   ir.GuardSpec{Name: "g", Kind: ir.GuardAllowlist, Values: []string{"ls"}},
			entity: testutil.Call("e", "os", "system", testutil.Tainted("rm -rf /")),
		},
		{
			name:    "regex is a full match",
			spec:    ir.GuardSpec{Name: "g", Kind: ir.GuardRegex, Pattern: "[a-z]+"},
			entity:  testutil.Func("e", "open", testutil.Tainted("report")),
			trigger: true,
		},
		{
			name:   "regex partial match does not count",
			spec:   ir.GuardSpec{Name: "g", Kind: ir.GuardRegex, Pattern: "[a-z]+"},
			entity: testutil.Func("e", "open", testutil.Tainted("../report")),
		},
		{
			name:    "length within bound",
			spec:    ir.GuardSpec{Name: "g", Kind: ir.GuardLength, MaxLen: 4},
			entity:  testutil.Func("e", "f", testutil.Tainted("abcd")),
			trigger: true,
		},
		{
			name:   "length over bound",
			spec:   ir.GuardSpec{Name: "g", Kind: ir.GuardLength, MaxLen: 4},
			entity: testutil.Func("e", "f", testutil.Tainted("abcde")),
		},
		{
			name:    "type category listed",
			spec:    ir.GuardSpec{Name: "g", Kind: ir.GuardType, Types: []string{"int", "bool"}},
			entity:  testutil.Func("e", "f", ir.Arg{Value: "3", Tainted: true, TypeCategory: "int"}),
			trigger: true,
		},
		{
			name:   "unknown type category",
			spec:   ir.GuardSpec{Name: "g", Kind: ir.GuardType, Types: []string{"int"}},
			entity: testutil.Func("e", "f", testutil.Tainted("3")),
		},
		{
			name:    "escape wrapper",
			spec:    ir.GuardSpec{Name: "g", Kind: ir.GuardEscape, Functions: []string{"shlex.quote"}},
			entity:  testutil.Call("e", "os", "system", testutil.Wrapped(testutil.Tainted("x"), "str.strip", "shlex.quote")),
			trigger: true,
		},
		{
			name:   "sanitizer missing",
			spec:   ir.GuardSpec{Name: "g", Kind: ir.GuardSanitizer, Functions: []string{"ast.literal_eval"}},
			entity: testutil.Func("e", "eval", testutil.Tainted("x")),
		},
		{
			name: "every taint position must satisfy",
			spec: ir.GuardSpec{Name: "g", Kind: ir.GuardEscape, Functions: []string{"html.escape"}},
			entity: testutil.Func("e", "render",
				testutil.Wrapped(testutil.Tainted("a"), "html.escape"),
				testutil.Tainted("b")),
			taint: []int{0, 1},
		},
		{
			name: "only taint positions are inspected",
			spec: ir.GuardSpec{Name: "g", Kind: ir.GuardEscape, Functions: []string{"html.escape"}},
			entity: testutil.Func("e", "render",
				testutil.Wrapped(testutil.Tainted("a"), "html.escape"),
				testutil.Literal("b", "str")),
			taint:   []int{0},
			trigger: true,
		},
		{
			name: "fixed arg position",
			spec: ir.GuardSpec{Name: "g", Kind: ir.GuardAllowlist, Values: []string{"r"}, Arg: ptr(1)},
			entity: testutil.Func("e", "open",
				testutil.Tainted("path"),
				testutil.Literal("r", "str")),
			taint:   []int{0},
			trigger: true,
		},
		{
			name:   "no inspected args",
			spec:   ir.GuardSpec{Name: "g", Kind: ir.GuardLength, MaxLen: 100},
			entity: testutil.Func("e", "f"),
		},
		{
			name:   "keyword args are not positional",
			spec:   ir.GuardSpec{Name: "g", Kind: ir.GuardLength, MaxLen: 100, Arg: ptr(0)},
			entity: testutil.Func("e", "f", testutil.Kw("x", testutil.Tainted("a"))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := build(t, tt.spec)
			r := Evaluate(g, Context{Entity: tt.entity, TaintPositions: tt.taint})
			assert.Equal(t, tt.trigger, r.Triggered)
			if tt.trigger {
				assert.Equal(t, g.Meta().Multiplier, r.Multiplier)
			} else {
				assert.Equal(t, 1.0, r.Multiplier)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassValidation, ClassOf(build(t, ir.GuardSpec{Kind: ir.GuardLength, MaxLen: 1})))
	assert.Equal(t, ClassEscape, ClassOf(build(t, ir.GuardSpec{Kind: ir.GuardEscape, Functions: []string{"f"}})))
	assert.Equal(t, ClassSanitizer, ClassOf(build(t, ir.GuardSpec{Kind: ir.GuardSanitizer, Functions: []string{"f"}})))
}

func TestStrongSanitizerSuppresses(t *testing.T) {
	strong := build(t, ir.GuardSpec{Name: "literal_eval", Kind: ir.GuardSanitizer, Functions: []string{"ast.literal_eval"}})
	length := build(t, ir.GuardSpec{Name: "short", Kind: ir.GuardLength, MaxLen: 100})

	ctx := Context{
		Entity:         testutil.Func("e", "eval", testutil.Wrapped(testutil.Tainted("x"), "ast.literal_eval")),
		TaintPositions: []int{0},
	}
	c := Combine([]ir.GuardIR{strong, length}, ctx)

	assert.True(t, c.Suppressed)
	assert.True(t, c.Strong)
	assert.True(t, c.FailFast)
	assert.Equal(t, 0.0, c.Multiplier)
	assert.Len(t, c.Applied, 1, "evaluation stops at the fail-fast guard")
}

func TestFailFastDowngrade(t *testing.T) {
	escape := build(t, ir.GuardSpec{
		Name: "html", Kind: ir.GuardEscape, Functions: []string{"html.escape"},
		FailFast: ptr(true), OnTrigger: ir.ActionDowngrade,
	})
	length := build(t, ir.GuardSpec{Name: "short", Kind: ir.GuardLength, MaxLen: 100})

	ctx := Context{
		Entity:         testutil.Func("e", "render_template_string", testutil.Wrapped(testutil.Tainted("x"), "html.escape")),
		TaintPositions: []int{0},
	}
	c := Combine([]ir.GuardIR{length, escape, length}, ctx)

	assert.False(t, c.Suppressed)
	assert.True(t, c.Downgraded)
	assert.InDelta(t, ir.DefaultLengthMultiplier*ir.DefaultEscapeMultiplier, c.Multiplier, 1e-9)
	assert.Len(t, c.Applied, 2)
}

func TestCombineMultiplies(t *testing.T) {
	weak := build(t, ir.GuardSpec{Name: "w", Kind: ir.GuardSanitizer, Strength: ir.StrengthWeak, Functions: []string{"basename"}})
	escape := build(t, ir.GuardSpec{Name: "e", Kind: ir.GuardEscape, Functions: []string{"quote"}})
	regex := build(t, ir.GuardSpec{Name: "r", Kind: ir.GuardRegex, Pattern: "nomatch"})

	ctx := Context{Entity: testutil.Func("e", "open", testutil.Wrapped(testutil.Tainted("p"), "basename", "quote"))}
	c := Combine([]ir.GuardIR{weak, escape, regex}, ctx)

	assert.False(t, c.Suppressed)
	assert.False(t, c.Downgraded)
	assert.False(t, c.Strong)
	assert.InDelta(t, ir.DefaultWeakSanitizerMultiplier*ir.DefaultEscapeMultiplier, c.Multiplier, 1e-9)
	assert.Len(t, c.Applied, 3)
	assert.InDelta(t, c.Multiplier, CombinedMultiplier([]ir.GuardIR{weak, escape, regex}, ctx), 1e-12)
}

func TestNoGuards(t *testing.T) {
	c := Combine(nil, Context{Entity: testutil.Func("e", "eval", testutil.Tainted("x"))})
	assert.Equal(t, 1.0, c.Multiplier)
	assert.Empty(t, c.Applied)
}

func TestHasStrongAndFailFast(t *testing.T) {
	strong := build(t, ir.GuardSpec{Kind: ir.GuardSanitizer, Functions: []string{"f"}})
	weak := build(t, ir.GuardSpec{Kind: ir.GuardSanitizer, Strength: ir.StrengthWeak, Functions: []string{"f"}})
	escape := build(t, ir.GuardSpec{Kind: ir.GuardEscape, Functions: []string{"f"}})

	assert.True(t, HasStrongGuard([]ir.GuardIR{escape, strong}))
	assert.False(t, HasStrongGuard([]ir.GuardIR{escape, weak}))
	assert.True(t, HasFailFastGuard([]ir.GuardIR{strong}))
	assert.False(t, HasFailFastGuard([]ir.GuardIR{weak, escape}))
}

// FuzzCombineStaysInUnit builds guard sets from fuzz input and checks the
// combined multiplier stays within [0,1].
func FuzzCombineStaysInUnit(f *testing.F) {
	f.Add([]byte{0, 1, 2, 3}, uint8(3), "x")
	f.Add([]byte{5, 5, 4}, uint8(0), "")
	f.Add([]byte{255, 17, 128, 64, 9}, uint8(200), "shlex.quote")

	kinds := []ir.GuardKind{ir.GuardAllowlist, ir.GuardRegex, ir.GuardLength, ir.GuardType, ir.GuardEscape, ir.GuardSanitizer}

	f.Fuzz(func(t *testing.T, cfg []byte, mult uint8, value string) {
		var guards []ir.GuardIR
		for i, b := range cfg {
			spec := ir.GuardSpec{
				Name:       "g",
				Kind:       kinds[int(b)%len(kinds)],
				Values:     []string{value},
				Pattern:    ".*",
				MaxLen:     int(b%16) + 1,
				Types:      []string{"str"},
				Functions:  []string{value},
				Multiplier: ptr(float64(mult) / 255),
			}
			if b&0x40 != 0 {
				spec.Strength = ir.StrengthWeak
			}
			if b&0x80 != 0 {
				spec.FailFast = ptr(i%2 == 0)
				spec.OnTrigger = ir.ActionDowngrade
			}
			guards = append(guards, build(t, spec))
		}

		arg := ir.Arg{Value: value, Tainted: true, TypeCategory: "str", Wrappers: []string{value}}
		c := Combine(guards, Context{Entity: testutil.Func("e", "f", arg)})

		assert.GreaterOrEqual(t, c.Multiplier, 0.0)
		assert.LessOrEqual(t, c.Multiplier, 1.0)
		if c.Suppressed {
			assert.Equal(t, 0.0, c.Multiplier)
		}
	})
}
