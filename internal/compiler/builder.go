package compiler

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/trcr/internal/ir"
)

// symbols holds the compiled guards and constraints a rule may reference.
type symbols struct {
	guards      map[string]ir.GuardIR
	constraints map[string]ir.ConstraintIR
}

// BuildExecIRs lowers every clause of a validated rule into an ExecIR.
func BuildExecIRs(r *ir.RuleSpec, sym symbols, th TierThresholds) ([]*ir.TaintRuleExecIR, error) {
	out := make([]*ir.TaintRuleExecIR, 0, len(r.Clauses))
	for i := range r.Clauses {
		x, err := buildExecIR(r, i, sym, th)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func buildExecIR(r *ir.RuleSpec, i int, sym symbols, th TierThresholds) (*ir.TaintRuleExecIR, error) {
	c := &r.Clauses[i]
	score, tier := EstimateTier(c, th)

	base := DefaultConfidence(tier)
	if r.Confidence != nil {
		base = *r.Confidence
	} else if c.Fuzzy > 0 {
		base = min(base, MaxFuzzyConfidence)
	}

	effect := r.Effect
	if c.Effect != "" {
		effect = c.Effect
	}

	preds, err := buildPredicates(c, sym)
	if err != nil {
		return nil, fmt.Errorf("rule %q clause %d: %w", r.ID, i, err)
	}

	x := &ir.TaintRuleExecIR{
		ID:             ir.AtomID(r.ID, i),
		RuleID:         r.ID,
		Clause:         i,
		CandidatePlan:  BuildPlan(c),
		PredicateChain: preds,
		Specificity:    score,
		Tier:           tier,
		Confidence:     ir.ConfidenceIR{Base: base},
		Effect: ir.EffectIR{
			Kind: effect,
			Vulnerability: ir.VulnerabilityIR{
				CWE:      slices.Clone(r.CWE),
				OWASP:    r.OWASP,
				Severity: r.Severity,
				Tags:     slices.Clone(r.Tags),
			},
			TaintPositions: slices.Clone(c.Taint),
		},
		Trace: r.Trace,
		Span:  c.Span,
	}
	for _, a := range c.Adjust {
		x.Confidence.Adjustments = append(x.Confidence.Adjustments, ir.AdjustmentIR{
			When:   a.When,
			Arg:    a.Arg,
			Factor: a.Factor,
			Reason: a.Reason,
		})
	}
	for _, name := range c.Guards {
		g, ok := sym.guards[name]
		if !ok {
			return nil, fmt.Errorf("rule %q clause %d: guard %q not compiled", r.ID, i, name)
		}
		x.Guards = append(x.Guards, g)
	}

	if err := x.Validate(); err != nil {
		return nil, err
	}
	return x, nil
}

// buildPredicates emits the clause's checks ordered by ascending cost.
// Patterns are left raw; the optimizer's Normalize pass categorizes them.
func buildPredicates(c *ir.MatchClauseSpec, sym symbols) ([]ir.PredicateIR, error) {
	preds := []ir.PredicateIR{ir.KindIs{Kind: c.Entity}}
	if c.Type != "" {
		preds = append(preds, ir.TypeMatches{Pattern: ir.RawPattern(c.Type)})
	}
	if c.Call != "" {
		preds = append(preds, ir.NameMatches{Pattern: ir.RawPattern(c.Call), MaxDistance: c.Fuzzy})
	}

	maxPos := -1
	for _, a := range c.Args {
		maxPos = max(maxPos, a.Position)
	}
	if maxPos >= 0 {
		preds = append(preds, ir.ArgCountAtLeast{N: maxPos + 1})
	}

	for _, group := range [][]ir.ArgConstraintSpec{c.Args, c.Kwargs} {
		for _, a := range group {
			if a.Ref != "" {
				con, ok := sym.constraints[a.Ref]
				if !ok {
					return nil, fmt.Errorf("constraint %q not compiled", a.Ref)
				}
				preds = append(preds, ir.ArgSatisfies{Position: a.Position, Name: a.Name, Constraint: con})
			}
			if a.Inline != nil {
				con, err := ir.CompileConstraint(a.Inline)
				if err != nil {
					return nil, err
				}
				preds = append(preds, ir.ArgSatisfies{Position: a.Position, Name: a.Name, Constraint: con})
			}
		}
	}

	slices.SortStableFunc(preds, func(a, b ir.PredicateIR) int {
		return cmp.Compare(a.Cost(), b.Cost())
	})
	return preds, nil
}

// BuildPlan derives one candidate generator per applicable strategy,
// ordered by cost class with the scan fallback last. The fuzzy generator
// is emitted only for fuzzy clauses and never becomes the primary.
func BuildPlan(c *ir.MatchClauseSpec) []ir.CandidateGeneratorIR {
	typeP, callP := parsedOrAny(c.Type), parsedOrAny(c.Call)
	var plan []ir.CandidateGeneratorIR

	if typeP.Kind == ir.PatternExact && callP.Kind == ir.PatternExact {
		g := ir.NewGenerator(ir.IndexExact, ir.FieldTypeName, callP.Text)
		g.TypeKey = typeP.Text
		g.EntityKind = c.Entity
		plan = append(plan, g)
	}
	if callP.Kind == ir.PatternExact {
		g := ir.NewGenerator(ir.IndexExact, ir.FieldName, callP.Text)
		g.EntityKind = c.Entity
		plan = append(plan, g)
	}
	if typeP.Kind == ir.PatternExact {
		g := ir.NewGenerator(ir.IndexExact, ir.FieldType, typeP.Text)
		g.EntityKind = c.Entity
		plan = append(plan, g)
	}
	plan = appendPartial(plan, callP, ir.FieldName)
	plan = appendPartial(plan, typeP, ir.FieldType)

	if c.Fuzzy > 0 && callP.Kind == ir.PatternExact {
		g := ir.NewGenerator(ir.IndexFuzzy, ir.FieldName, callP.Text)
		g.MaxDistance = c.Fuzzy
		plan = append(plan, g)
	}
	plan = append(plan, ir.ScanGenerator())

	slices.SortStableFunc(plan, func(a, b ir.CandidateGeneratorIR) int {
		return cmp.Compare(a.Cost, b.Cost)
	})
	return plan
}

func appendPartial(plan []ir.CandidateGeneratorIR, p ir.Pattern, field ir.Field) []ir.CandidateGeneratorIR {
	switch p.Kind {
	case ir.PatternPrefix:
		return append(plan, ir.NewGenerator(ir.IndexPrefix, field, p.Text))
	case ir.PatternSuffix:
		return append(plan, ir.NewGenerator(ir.IndexSuffix, field, p.Text))
	case ir.PatternContains:
		return append(plan, ir.NewGenerator(ir.IndexTrigram, field, p.Text))
	}
	return plan
}

func parsedOrAny(raw string) ir.Pattern {
	if raw == "" {
		return ir.Pattern{Kind: ir.PatternAny}
	}
	p, err := ir.ParsePattern(raw)
	if err != nil {
		return ir.Pattern{Kind: ir.PatternAny}
	}
	return p
}
