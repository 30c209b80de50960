package engine

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/roach88/trcr/internal/guard"
	"github.com/roach88/trcr/internal/index"
	"github.com/roach88/trcr/internal/ir"
)

// candidate is an entity together with the generator that produced it.
type candidate struct {
	entity ir.Entity
	gen    ir.CandidateGeneratorIR
}

// candidates queries the index for e. Entities returned by more than one
// generator are kept once, attributed to the first.
func (r *run) candidates(e *ir.TaintRuleExecutableIR) []candidate {
	q := r.mc.index
	seen := make(map[string]bool)
	var out []candidate
	for _, g := range selectGenerators(e, q) {
		r.mc.stats.ByIndex[g.Kind]++
		for _, ent := range q.Query(g) {
			if seen[ent.ID()] {
				continue
			}
			seen[ent.ID()] = true
			out = append(out, candidate{entity: ent, gen: g})
		}
	}
	return out
}

// selectGenerators picks the primary generator, or the cheapest supported
// non-fuzzy alternate when the index lacks it, followed by every
// supported fuzzy alternate.
func selectGenerators(e *ir.TaintRuleExecutableIR, q index.Querier) []ir.CandidateGeneratorIR {
	primary := e.Generator
	if !q.Supports(primary.Kind) {
		primary = ir.ScanGenerator()
		for _, g := range e.Alternates {
			if !g.IsFuzzy() && q.Supports(g.Kind) {
				primary = g
				break
			}
		}
	}
	out := []ir.CandidateGeneratorIR{primary}
	for _, g := range e.Alternates {
		if g.IsFuzzy() && q.Supports(g.Kind) {
			out = append(out, g)
		}
	}
	return out
}

func kindPredicate(d *ir.TaintRuleExecIR) (ir.KindIs, bool) {
	for _, p := range d.PredicateChain {
		if k, ok := p.(ir.KindIs); ok {
			return k, true
		}
	}
	return ir.KindIs{}, false
}

// match evaluates one clause on one candidate. It reports false when a
// predicate fails or a guard suppresses the match.
func (r *run) match(e *ir.TaintRuleExecutableIR, d *ir.TaintRuleExecIR, c candidate, n int) (ir.Match, bool, error) {
	ent := c.entity
	full := d.Trace == ir.TraceFull
	tr := &ir.MatchTrace{
		Executable: e.ID,
		Generator:  c.gen.ID(),
		IndexKind:  c.gen.Kind,
		Candidates: n,
	}

	fuzzy := false
	for _, p := range d.PredicateChain {
		tr.PredicatesEvaluated++
		r.mc.stats.PredicatesEvaluated++
		ok, viaFuzzy := evalPredicate(p, ent)
		if !ok {
			return ir.Match{}, false, nil
		}
		tr.PredicatesPassed++
		r.mc.stats.PredicatesPassed++
		fuzzy = fuzzy || viaFuzzy
		if full {
			tr.Predicates = append(tr.Predicates, p.Key())
		}
	}
	tr.Fuzzy = fuzzy

	conf := d.Confidence.Base
	for _, a := range d.Confidence.Adjustments {
		if !adjustmentHolds(a, ent, fuzzy) {
			continue
		}
		conf *= a.Factor
		if full {
			tr.Adjustments = append(tr.Adjustments, a.Key())
		}
	}

	g := guard.Combine(d.Guards, guard.Context{Entity: ent, TaintPositions: d.Effect.TaintPositions})
	if full {
		for _, res := range g.Applied {
			tr.Guards = append(tr.Guards, guardTrace(res))
		}
	}
	if g.Suppressed {
		r.mc.stats.Suppressed++
		slog.Debug("match suppressed by guard", "atom", d.ID, "entity", ent.ID())
		return ir.Match{}, false, nil
	}
	conf *= g.Multiplier
	if math.IsNaN(conf) || math.IsInf(conf, 0) {
		return ir.Match{}, false, &ExecutionError{
			Code:    ErrCodeInvalidConfidence,
			Message: fmt.Sprintf("confidence %v for entity %s", conf, ent.ID()),
			AtomID:  d.ID,
		}
	}
	conf = min(max(conf, 0), 1)

	sev := d.Effect.Vulnerability.Severity
	if g.Downgraded {
		sev = sev.Downgrade()
	}

	m := ir.Match{
		RuleID:         d.RuleID,
		AtomID:         d.ID,
		EntityID:       ent.ID(),
		Entity:         ent,
		Confidence:     conf,
		Specificity:    d.Specificity,
		EffectKind:     d.Effect.Kind,
		TaintPositions: d.Effect.TaintPositions,
		Tier:           d.Tier,
		Severity:       sev,
		CWE:            d.Effect.Vulnerability.CWE,
		Tags:           d.Effect.Vulnerability.Tags,
	}
	if d.Trace == ir.TraceSummary || full {
		m.Trace = tr
	}
	return m, true, nil
}

// evalPredicate reports whether p accepts e, and whether it did so only
// through edit distance. Absent fields fail every pattern but "*".
func evalPredicate(p ir.PredicateIR, e ir.Entity) (ok, fuzzy bool) {
	switch v := p.(type) {
	case ir.KindIs:
		return v.Accepts(e), false
	case ir.TypeMatches:
		base, present := e.BaseType()
		return v.Pattern.Matches(base, present), false
	case ir.NameMatches:
		name, present := e.CallName()
		if v.Pattern.Matches(name, present) {
			return true, false
		}
		if v.MaxDistance <= 0 || !present {
			return false, false
		}
		n, err := v.Pattern.Normalized()
		if err != nil || n.Kind != ir.PatternExact {
			return false, false
		}
		if ir.WithinDistance(ir.NormalizeKey(name), n.Text, v.MaxDistance) {
			return true, true
		}
		return false, false
	case ir.ArgCountAtLeast:
		return len(ir.Positional(e)) >= v.N, false
	case ir.ArgSatisfies:
		a, found := v.Lookup(e)
		return found && v.Constraint.Check(a), false
	default:
		return false, false
	}
}

func adjustmentHolds(a ir.AdjustmentIR, e ir.Entity, fuzzy bool) bool {
	switch a.When {
	case ir.AdjustAlways:
		return true
	case ir.AdjustLiteralArg:
		arg, ok := ir.ArgAt(e, a.Arg)
		return ok && arg.Literal
	case ir.AdjustTaintedArg:
		arg, ok := ir.ArgAt(e, a.Arg)
		return ok && arg.Tainted
	case ir.AdjustFuzzyMatch:
		return fuzzy
	default:
		return false
	}
}

func guardTrace(r guard.Result) string {
	if !r.Triggered {
		return r.Name + ":clear"
	}
	if r.FailFast {
		return fmt.Sprintf("%s:triggered!%s", r.Name, r.Action)
	}
	return fmt.Sprintf("%s:triggered*%d", r.Name, ir.PPM(r.Multiplier))
}

// reuse turns a cached match into one for the current run. The trace
// keeps its evaluation details but reports where this run found it.
func reuse(cached ir.Match, e *ir.TaintRuleExecutableIR, c candidate, n int) ir.Match {
	m := cloneMatch(cached)
	m.Entity = c.entity
	if m.Trace != nil {
		m.Trace.Executable = e.ID
		m.Trace.Generator = c.gen.ID()
		m.Trace.IndexKind = c.gen.Kind
		m.Trace.Candidates = n
		m.Trace.CacheHit = true
	}
	return m
}

// cloneMatch copies the slices and trace of m so the caller owns them.
func cloneMatch(m ir.Match) ir.Match {
	m.TaintPositions = slices.Clone(m.TaintPositions)
	m.CWE = slices.Clone(m.CWE)
	m.Tags = slices.Clone(m.Tags)
	if m.Trace != nil {
		t := *m.Trace
		t.Predicates = slices.Clone(t.Predicates)
		t.Adjustments = slices.Clone(t.Adjustments)
		t.Guards = slices.Clone(t.Guards)
		m.Trace = &t
	}
	return m
}
