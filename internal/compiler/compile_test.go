package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/corerules"
	"github.com/roach88/trcr/internal/ir"
)

func compileErrors(t *testing.T, src string) []*CompileError {
	t.Helper()
	res := Compile("test.cue", []byte(src))
	out := make([]*CompileError, 0, len(res.Errors))
	for _, err := range res.Errors {
		ce, ok := IsCompileError(err)
		require.True(t, ok, "unexpected error type: %v", err)
		out = append(out, ce)
	}
	return out
}

func codes(errs []*CompileError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func execByRule(res *Result) map[string]*ir.TaintRuleExecIR {
	out := make(map[string]*ir.TaintRuleExecIR)
	for _, x := range res.ExecIRs {
		if x.Clause == 0 {
			out[x.RuleID] = x
		}
	}
	return out
}

func TestCompileCoreRules(t *testing.T) {
	res := Compile(corerules.Filename, corerules.Bytes())
	require.NoError(t, res.Err())

	assert.Len(t, res.Rules, 15)
	assert.Len(t, res.ExecIRs, 18)
	require.NotEmpty(t, res.Executables)

	dispatched := 0
	for _, e := range res.Executables {
		assert.NotEmpty(t, e.ID)
		assert.NotEmpty(t, e.Dispatch)
		dispatched += len(e.Dispatch)
	}
	assert.Equal(t, len(res.ExecIRs), dispatched, "every clause is dispatched exactly once")
}

func TestCompileCoreRulesSpecificityAndTier(t *testing.T) {
	res := Compile(corerules.Filename, corerules.Bytes())
	require.NoError(t, res.Err())
	byRule := execByRule(res)

	tests := []struct {
		rule        string
		specificity int
		tier        ir.Tier
		confidence  float64
	}{
		{"py-sqli-cursor-execute", 18, ir.Tier1, 0.95},
		{"py-code-injection-eval", 12, ir.Tier1, 1.0},
		{"py-cmdi-os-system", 10, ir.Tier2, 0.8},
		{"py-path-traversal-open", 4, ir.Tier3, 0.6},
		{"py-sqli-connection-executescript", 10, ir.Tier2, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			x, ok := byRule[tt.rule]
			require.True(t, ok)
			assert.Equal(t, tt.specificity, x.Specificity)
			assert.Equal(t, tt.tier, x.Tier)
			assert.InDelta(t, tt.confidence, x.Confidence.Base, 1e-9)
		})
	}
}

func TestCompileCoreRulesChainsAreOrdered(t *testing.T) {
	res := Compile(corerules.Filename, corerules.Bytes())
	require.NoError(t, res.Err())

	for _, x := range res.ExecIRs {
		require.NotEmpty(t, x.PredicateChain, x.ID)
		for i := 1; i < len(x.PredicateChain); i++ {
			assert.LessOrEqual(t, x.PredicateChain[i-1].Cost(), x.PredicateChain[i].Cost(), x.ID)
		}
		assert.Equal(t, ir.IndexScan, x.CandidatePlan[len(x.CandidatePlan)-1].Kind, "%s ends with scan", x.ID)
		assert.NoError(t, x.Validate())
	}
}

func TestCompileErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{
			name: "syntax",
			src:  `rule: "r": {`,
			code: ErrSyntax,
		},
		{
			name: "unknown field",
			src: `rule: "r": {
				severity: "high"
				kind: "sink"
				severty: "low"
				match: [{call: "f"}]
			}`,
			code: ErrUnknownField,
		},
		{
			name: "missing severity",
			src:  `rule: "r": {kind: "sink", match: [{call: "f"}]}`,
			code: ErrMissingRequired,
		},
		{
			name: "missing match",
			src:  `rule: "r": {severity: "high", kind: "sink"}`,
			code: ErrMissingRequired,
		},
		{
			name: "bad severity",
			src:  `rule: "r": {severity: "urgent", kind: "sink", match: [{call: "f"}]}`,
			code: ErrBadEnum,
		},
		{
			name: "bad entity kind",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{entity: "import", call: "f"}]}`,
			code: ErrBadEnum,
		},
		{
			name: "interior wildcard",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{call: "exe*cute"}]}`,
			code: ErrBadPattern,
		},
		{
			name: "fuzzy on wildcard call",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{call: "exec*", fuzzy: 1}]}`,
			code: ErrBadPattern,
		},
		{
			name: "undefined guard",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{call: "f", guards: ["nope"]}]}`,
			code: ErrUndefinedGuard,
		},
		{
			name: "undefined constraint",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{call: "f", args: [{position: 0, constraint: "nope"}]}]}`,
			code: ErrUndefinedConstraint,
		},
		{
			name: "bad inline regex",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{call: "f", args: [{position: 0, regex: "("}]}]}`,
			code: ErrBadRegex,
		},
		{
			name: "confidence above one",
			src:  `rule: "r": {severity: "high", kind: "sink", confidence: 1.5, match: [{call: "f"}]}`,
			code: ErrOutOfRange,
		},
		{
			name: "fuzzy distance too large",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{call: "f", fuzzy: 4}]}`,
			code: ErrOutOfRange,
		},
		{
			name: "fuzzy with high confidence",
			src:  `rule: "r": {severity: "high", kind: "sink", confidence: 0.95, match: [{call: "execute", fuzzy: 1}]}`,
			code: ErrFuzzyConfidence,
		},
		{
			name: "empty clause",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{entity: "call"}]}`,
			code: ErrEmptyClause,
		},
		{
			name: "arg without constraint",
			src:  `rule: "r": {severity: "high", kind: "sink", match: [{call: "f", args: [{position: 0}]}]}`,
			code: ErrEmptyClause,
		},
		{
			name: "wrong type",
			src:  `rule: "r": {severity: 3, kind: "sink", match: [{call: "f"}]}`,
			code: ErrWrongType,
		},
		{
			name: "bad adjust condition",
			src: `rule: "r": {severity: "high", kind: "sink", match: [{
				call: "f"
				adjust: [{when: "sometimes", factor: 0.5}]
			}]}`,
			code: ErrBadEnum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := compileErrors(t, tt.src)
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), tt.code)
		})
	}
}

func TestCompileGuardErrors(t *testing.T) {
	tests := []struct {
		name  string
		guard string
		code  string
	}{
		{"unknown kind", `{kind: "magic"}`, ErrBadEnum},
		{"allowlist without values", `{kind: "allowlist"}`, ErrMissingRequired},
		{"regex without pattern", `{kind: "regex"}`, ErrMissingRequired},
		{"regex does not compile", `{kind: "regex", pattern: "[a-"}`, ErrBadRegex},
		{"length without max", `{kind: "length"}`, ErrOutOfRange},
		{"sanitizer without functions", `{kind: "sanitizer"}`, ErrMissingRequired},
		{"bad strength", `{kind: "sanitizer", functions: ["f"], strength: "medium"}`, ErrBadEnum},
		{"multiplier out of range", `{kind: "escape", functions: ["f"], multiplier: 2}`, ErrOutOfRange},
		{"arg below taint sentinel", `{kind: "length", max_len: 4, arg: -2}`, ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := compileErrors(t, "guard: g: "+tt.guard)
			require.NotEmpty(t, errs)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, "guard.g", errs[0].Field[:len("guard.g")])
		})
	}
}

func TestCompileGuardArg(t *testing.T) {
	errs := compileErrors(t, `guard: g: {kind: "length", max_len: 4, arg: -2}`)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "or -1 for the clause's taint positions")

	assert.Empty(t, compileErrors(t, `guard: g: {kind: "length", max_len: 4, arg: -1}`))
	assert.Empty(t, compileErrors(t, `guard: g: {kind: "length", max_len: 4, arg: 0}`))
}

func TestCompileIsolatesFailures(t *testing.T) {
	src := `
rule: "good": {
	severity: "high"
	kind:     "sink"
	match: [{call: "f"}]
}
rule: "bad": {
	severity: "urgent"
	kind:     "sink"
	match: [{call: "g"}]
}
`
	res := Compile("test.cue", []byte(src))
	require.Len(t, res.Errors, 1)
	require.Len(t, res.Rules, 1)
	assert.Equal(t, "good", res.Rules[0].ID)
	require.Len(t, res.ExecIRs, 1)
	assert.Equal(t, "good:clause:0", res.ExecIRs[0].ID)

	ce, ok := IsCompileError(res.Errors[0])
	require.True(t, ok)
	assert.Equal(t, "bad", ce.RuleID)
}

func TestCompileInvalidGuardRejectsReferencingRule(t *testing.T) {
	src := `
guard: broken: {kind: "allowlist"}
rule: "r": {
	severity: "high"
	kind:     "sink"
	match: [{call: "f", guards: ["broken"]}]
}
`
	errs := compileErrors(t, src)
	assert.Equal(t, []string{ErrMissingRequired, ErrUndefinedGuard}, codes(errs))
}

func TestCompileErrorSpan(t *testing.T) {
	src := "rule: \"r\": {\n" +
		"\tseverity: \"high\"\n" +
		"\tkind:     \"sink\"\n" +
		"\tbogus:    true\n" +
		"\tmatch: [{call: \"f\"}]\n" +
		"}\n"
	errs := compileErrors(t, src)
	require.Len(t, errs, 1)

	ce := errs[0]
	assert.Equal(t, ErrUnknownField, ce.Code)
	assert.Equal(t, "rule.r.bogus", ce.Field)
	span := ce.Span()
	assert.Equal(t, "test.cue", span.File)
	assert.Equal(t, 4, span.Line)
	assert.Contains(t, ce.Error(), "test.cue:4:")
	assert.Contains(t, ce.Error(), "[E201]")
}

func TestCompileSemanticErrorCarriesSpan(t *testing.T) {
	src := "rule: \"r\": {\n" +
		"\tseverity: \"urgent\"\n" +
		"\tkind:     \"sink\"\n" +
		"\tmatch: [{call: \"f\"}]\n" +
		"}\n"
	errs := compileErrors(t, src)
	require.Len(t, errs, 1)
	span := errs[0].Span()
	assert.Equal(t, "test.cue", span.File)
	assert.Positive(t, span.Line)
}

func TestCompileDefaults(t *testing.T) {
	src := `
rule: "r": {
	severity: "medium"
	kind:     "source"
	match: [{type: "flask.Request", call: "args", entity: "read"}, {call: "getenv", kind: "sink"}]
}
`
	res := Compile("test.cue", []byte(src))
	require.NoError(t, res.Err())
	require.Len(t, res.ExecIRs, 2)

	first, second := res.ExecIRs[0], res.ExecIRs[1]
	assert.Equal(t, ir.TraceNone, first.Trace)
	assert.Equal(t, ir.EffectSource, first.Effect.Kind)
	assert.Equal(t, ir.EffectSink, second.Effect.Kind, "clause kind overrides rule kind")
	assert.Equal(t, 11, first.Specificity, "exact type, exact name, read kind")
	assert.InDelta(t, DefaultConfidence(ir.Tier2), first.Confidence.Base, 1e-9)
	assert.Equal(t, ir.Tier3, second.Tier)
}

func TestCompileFuzzyConfidenceIsCapped(t *testing.T) {
	src := `
constraint: text: {min_len: 1}
guard: g: {kind: "sanitizer", functions: ["clean"]}
rule: "r": {
	severity: "high"
	kind:     "sink"
	match: [{
		type: "db.Conn"
		call: "execute"
		fuzzy: 1
		guards: ["g"]
		args: [{position: 0, constraint: "text"}]
	}]
}
`
	res := Compile("test.cue", []byte(src))
	require.NoError(t, res.Err())
	require.Len(t, res.ExecIRs, 1)

	x := res.ExecIRs[0]
	assert.Equal(t, ir.Tier1, x.Tier)
	assert.InDelta(t, MaxFuzzyConfidence, x.Confidence.Base, 1e-9)

	var fuzzy []ir.CandidateGeneratorIR
	for _, g := range x.CandidatePlan {
		if g.IsFuzzy() {
			fuzzy = append(fuzzy, g)
		}
	}
	require.Len(t, fuzzy, 1)
	assert.Equal(t, 1, fuzzy[0].MaxDistance)
	assert.False(t, x.Primary().IsFuzzy())
}

func TestCompileWithTierThresholds(t *testing.T) {
	res := Compile(corerules.Filename, corerules.Bytes(), WithTierThresholds(TierThresholds{Tier1Min: 20, Tier2Min: 10}))
	require.NoError(t, res.Err())
	byRule := execByRule(res)
	assert.Equal(t, ir.Tier2, byRule["py-sqli-cursor-execute"].Tier)
	assert.Equal(t, ir.Tier3, byRule["py-path-traversal-open"].Tier)

	bad := Compile(corerules.Filename, corerules.Bytes(), WithTierThresholds(TierThresholds{Tier1Min: 5, Tier2Min: 6}))
	require.Error(t, bad.Err())
	assert.Empty(t, bad.Executables)
}

func TestCompileAllRejectsDuplicateIDs(t *testing.T) {
	a := Source{Filename: "a.cue", Data: []byte(`rule: "dup": {severity: "high", kind: "sink", match: [{call: "f"}]}`)}
	b := Source{Filename: "b.cue", Data: []byte(`
rule: "dup": {severity: "low", kind: "sink", match: [{call: "g"}]}
rule: "other": {severity: "low", kind: "sink", match: [{call: "h"}]}
`)}

	res, err := CompileAll(context.Background(), []Source{a, b})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)

	ce, ok := IsCompileError(res.Errors[0])
	require.True(t, ok)
	assert.Equal(t, ErrDuplicateID, ce.Code)
	assert.Equal(t, "b.cue", ce.Span().File)

	ids := make([]string, 0, len(res.ExecIRs))
	for _, x := range res.ExecIRs {
		ids = append(ids, x.ID)
	}
	assert.ElementsMatch(t, []string{"dup:clause:0", "other:clause:0"}, ids)

	for _, x := range res.ExecIRs {
		if x.RuleID == "dup" {
			assert.Equal(t, ir.SeverityHigh, x.Effect.Vulnerability.Severity, "first definition wins")
		}
	}
}

func TestCompileAllMatchesSequentialCompile(t *testing.T) {
	single := Compile(corerules.Filename, corerules.Bytes())
	require.NoError(t, single.Err())

	all, err := CompileAll(context.Background(), []Source{{Filename: corerules.Filename, Data: corerules.Bytes()}})
	require.NoError(t, err)
	require.NoError(t, all.Err())

	want, err := ir.RuleSetHash(single.Executables)
	require.NoError(t, err)
	got, err := ir.RuleSetHash(all.Executables)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCompileAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CompileAll(ctx, []Source{{Filename: corerules.Filename, Data: corerules.Bytes()}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompileDeterministic(t *testing.T) {
	first := Compile(corerules.Filename, corerules.Bytes())
	second := Compile(corerules.Filename, corerules.Bytes())

	a, err := ir.RuleSetHash(first.Executables)
	require.NoError(t, err)
	b, err := ir.RuleSetHash(second.Executables)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
