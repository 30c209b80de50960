package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEntity struct {
	id   string
	kind EntityKind
	base *string
	name *string
	args []Arg
}

func (s stubEntity) ID() string       { return s.id }
func (s stubEntity) Kind() EntityKind { return s.kind }
func (s stubEntity) Args() []Arg      { return s.args }

func (s stubEntity) BaseType() (string, bool) {
	if s.base == nil {
		return "", false
	}
	return *s.base, true
}

func (s stubEntity) CallName() (string, bool) {
	if s.name == nil {
		return "", false
	}
	return *s.name, true
}

func strp(s string) *string { return &s }

func sampleExecIR() *TaintRuleExecIR {
	return &TaintRuleExecIR{
		ID:     "r:clause:0",
		RuleID: "r",
		CandidatePlan: []CandidateGeneratorIR{
			NewGenerator(IndexExact, FieldName, "execute"),
			ScanGenerator(),
		},
		PredicateChain: []PredicateIR{
			KindIs{Kind: EntityCall},
			NameMatches{Pattern: MustParsePattern("execute")},
		},
		Specificity: 4,
		Tier:        Tier3,
		Confidence:  ConfidenceIR{Base: 0.8},
		Effect:      EffectIR{Kind: EffectSink, Vulnerability: VulnerabilityIR{Severity: SeverityHigh}},
		Trace:       TraceNone,
	}
}

func TestHashWithDomainNullSeparator(t *testing.T) {
	h := sha256.Sum256([]byte("d\x00data"))
	assert.Equal(t, hex.EncodeToString(h[:]), hashWithDomain("d", []byte("data")))
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func TestPlanHashDeterministic(t *testing.T) {
	a, err := PlanHash(sampleExecIR())
	require.NoError(t, err)
	b, err := PlanHash(sampleExecIR())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "SHA-256 hex is 64 characters")
}

func TestPlanHashChangesWithPlan(t *testing.T) {
	base := MustPlanHash(sampleExecIR())

	conf := sampleExecIR()
	conf.Confidence.Base = 0.7
	pred := sampleExecIR()
	pred.PredicateChain = append(pred.PredicateChain, ArgCountAtLeast{N: 1})
	sev := sampleExecIR()
	sev.Effect.Vulnerability.Severity = SeverityLow

	assert.NotEqual(t, base, MustPlanHash(conf))
	assert.NotEqual(t, base, MustPlanHash(pred))
	assert.NotEqual(t, base, MustPlanHash(sev))
}

func TestEntityFingerprint(t *testing.T) {
	e := stubEntity{id: "e1", kind: EntityCall, base: strp("os"), name: strp("system"),
		args: []Arg{{Value: "cmd", Tainted: true}}}

	a, err := EntityFingerprint(e)
	require.NoError(t, err)
	b, err := EntityFingerprint(e)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	changed := e
	changed.args = []Arg{{Value: "cmd", Tainted: false}}
	c, err := EntityFingerprint(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "taint flag is observable and must change the fingerprint")

	absent := e
	absent.base = nil
	d, err := EntityFingerprint(absent)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestCorpusHashIgnoresOrder(t *testing.T) {
	a := stubEntity{id: "a", kind: EntityCall, name: strp("eval")}
	b := stubEntity{id: "b", kind: EntityRead, base: strp("flask.Request"), name: strp("args")}

	h1, err := CorpusHash([]Entity{a, b})
	require.NoError(t, err)
	h2, err := CorpusHash([]Entity{b, a})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := CorpusHash([]Entity{a})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	empty, err := CorpusHash(nil)
	require.NoError(t, err)
	assert.Len(t, empty, 64)
}

func TestExecutableIDDependsOnDispatch(t *testing.T) {
	a, err := ExecutableID("exact:name:execute|scan", []string{"h1", "h2"})
	require.NoError(t, err)
	b, err := ExecutableID("exact:name:execute|scan", []string{"h2", "h1"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDomainConstants(t *testing.T) {
	domains := []string{DomainEntity, DomainPlan, DomainExecutable, DomainMatches, DomainRuleSet, DomainCorpus}
	seen := map[string]bool{}
	for _, d := range domains {
		assert.Contains(t, d, "trcr/")
		assert.False(t, seen[d], "duplicate domain %s", d)
		seen[d] = true
	}
}
