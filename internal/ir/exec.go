package ir

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Tier is a coarse cost/specificity class controlling evaluation order.
type Tier string

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3"
)

// ValidTiers defines allowed tiers.
var ValidTiers = map[Tier]bool{Tier1: true, Tier2: true, Tier3: true}

// Rank orders tiers for evaluation: tier1 first. Unknown tiers rank last.
func (t Tier) Rank() int {
	switch t {
	case Tier1:
		return 1
	case Tier2:
		return 2
	case Tier3:
		return 3
	default:
		return 4
	}
}

// AdjustmentIR scales confidence by Factor when its condition holds.
type AdjustmentIR struct {
	When   AdjustCondition
	Arg    int
	Factor float64
	Reason string
}

// Key renders the adjustment for hashing and traces.
func (a AdjustmentIR) Key() string {
	s := fmt.Sprintf("%s#%d*%d", a.When, a.Arg, PPM(a.Factor))
	if a.Reason != "" {
		s += "(" + a.Reason + ")"
	}
	return s
}

// ConfidenceIR is the base confidence and its conditional adjustments.
type ConfidenceIR struct {
	Base        float64
	Adjustments []AdjustmentIR
}

// VulnerabilityIR is the metadata reported with a match.
type VulnerabilityIR struct {
	CWE      []string
	OWASP    string
	Severity Severity
	Tags     []string
}

// EffectIR is what a match means for taint flow.
type EffectIR struct {
	Kind           EffectKind
	Vulnerability  VulnerabilityIR
	TaintPositions []int
}

// TaintRuleExecIR is the lowered form of one match clause.
//
// ID is "{rule_id}:clause:{i}". CandidatePlan is ordered by cost with the
// scan fallback last; PredicateChain is ordered by non-decreasing cost.
type TaintRuleExecIR struct {
	ID             string
	RuleID         string
	Clause         int
	CandidatePlan  []CandidateGeneratorIR
	PredicateChain []PredicateIR
	Specificity    int
	Tier           Tier
	Confidence     ConfidenceIR
	Effect         EffectIR
	Guards         []GuardIR
	Trace          TracePolicy
	Span           Span
}

// AtomID builds the ExecIR id for clause i of ruleID.
func AtomID(ruleID string, i int) string {
	return fmt.Sprintf("%s:clause:%d", ruleID, i)
}

// Validate checks the structural invariants the runtime relies on.
func (x *TaintRuleExecIR) Validate() error {
	if x.RuleID == "" || !strings.HasPrefix(x.ID, x.RuleID+":") {
		return fmt.Errorf("exec IR %q: id must be prefixed by rule id %q", x.ID, x.RuleID)
	}
	if !ValidTiers[x.Tier] {
		return fmt.Errorf("exec IR %q: invalid tier %q", x.ID, x.Tier)
	}
	if len(x.PredicateChain) == 0 {
		return fmt.Errorf("exec IR %q: empty predicate chain", x.ID)
	}
	for i := 1; i < len(x.PredicateChain); i++ {
		if x.PredicateChain[i].Cost() < x.PredicateChain[i-1].Cost() {
			return fmt.Errorf("exec IR %q: predicate %d cost %d below predecessor cost %d",
				x.ID, i, x.PredicateChain[i].Cost(), x.PredicateChain[i-1].Cost())
		}
	}
	if len(x.CandidatePlan) == 0 {
		return fmt.Errorf("exec IR %q: no candidate generators", x.ID)
	}
	if !unit(x.Confidence.Base) {
		return fmt.Errorf("exec IR %q: base confidence %v outside [0,1]", x.ID, x.Confidence.Base)
	}
	for _, a := range x.Confidence.Adjustments {
		if !unit(a.Factor) {
			return fmt.Errorf("exec IR %q: adjustment %s factor %v outside [0,1]", x.ID, a.When, a.Factor)
		}
	}
	for _, g := range x.Guards {
		if m := g.Meta().Multiplier; !unit(m) {
			return fmt.Errorf("exec IR %q: guard %q multiplier %v outside [0,1]", x.ID, g.Meta().Name, m)
		}
	}
	return nil
}

// Primary returns the first non-fuzzy generator of the plan.
func (x *TaintRuleExecIR) Primary() CandidateGeneratorIR {
	for _, g := range x.CandidatePlan {
		if !g.IsFuzzy() {
			return g
		}
	}
	return ScanGenerator()
}

// Clone returns a copy whose slices can be rewritten without touching x.
func (x *TaintRuleExecIR) Clone() *TaintRuleExecIR {
	c := *x
	c.CandidatePlan = slices.Clone(x.CandidatePlan)
	c.PredicateChain = slices.Clone(x.PredicateChain)
	c.Guards = slices.Clone(x.Guards)
	c.Confidence.Adjustments = slices.Clone(x.Confidence.Adjustments)
	c.Effect.TaintPositions = slices.Clone(x.Effect.TaintPositions)
	return &c
}

// Canonical renders x as an IRObject for hashing.
func (x *TaintRuleExecIR) Canonical() IRObject {
	plan := make(IRArray, len(x.CandidatePlan))
	for i, g := range x.CandidatePlan {
		plan[i] = IRString(g.ID())
	}
	preds := make(IRArray, len(x.PredicateChain))
	for i, p := range x.PredicateChain {
		preds[i] = IRString(p.Key())
	}
	guards := make(IRArray, len(x.Guards))
	for i, g := range x.Guards {
		guards[i] = IRString(g.Key())
	}
	adj := make(IRArray, len(x.Confidence.Adjustments))
	for i, a := range x.Confidence.Adjustments {
		adj[i] = IRString(a.Key())
	}
	return IRObject{
		"id":             IRString(x.ID),
		"rule_id":        IRString(x.RuleID),
		"plan":           plan,
		"predicates":     preds,
		"guards":         guards,
		"specificity":    IRInt(x.Specificity),
		"tier":           IRString(x.Tier),
		"confidence_ppm": IRInt(PPM(x.Confidence.Base)),
		"adjustments":    adj,
		"effect":         IRString(x.Effect.Kind),
		"severity":       IRString(x.Effect.Vulnerability.Severity),
		"cwe":            stringArray(x.Effect.Vulnerability.CWE),
		"tags":           stringArray(x.Effect.Vulnerability.Tags),
		"taint":          intArray(x.Effect.TaintPositions),
		"trace":          IRString(x.Trace),
	}
}

// TaintRuleExecutableIR is the optimizer's output: one generator plan
// dispatching to the predicate chains of every clause that shares it.
//
// Values are built once by the optimizer and never mutated afterwards.
type TaintRuleExecutableIR struct {
	ID         string
	Generator  CandidateGeneratorIR
	Alternates []CandidateGeneratorIR
	Dispatch   []*TaintRuleExecIR
}

// Cost is the cost class of the primary generator.
func (e *TaintRuleExecutableIR) Cost() int {
	return e.Generator.Cost
}

// Tier is the best tier among the dispatched clauses.
func (e *TaintRuleExecutableIR) Tier() Tier {
	best := Tier("")
	for _, d := range e.Dispatch {
		if best == "" || d.Tier.Rank() < best.Rank() {
			best = d.Tier
		}
	}
	return best
}

// PlanKey identifies the generator plan: primary plus alternates.
func (e *TaintRuleExecutableIR) PlanKey() string {
	return PlanKey(e.Generator, e.Alternates)
}

// PlanKey joins generator ids into a plan identity.
func PlanKey(primary CandidateGeneratorIR, alternates []CandidateGeneratorIR) string {
	ids := make([]string, 0, len(alternates)+1)
	ids = append(ids, primary.ID())
	for _, g := range alternates {
		ids = append(ids, g.ID())
	}
	return strings.Join(ids, "|")
}

// PPM converts a unit-interval float to integer parts-per-million, the
// only form confidences take in canonical output.
func PPM(f float64) int64 {
	return int64(math.Round(f * 1e6))
}

func unit(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

func stringArray(ss []string) IRArray {
	arr := make(IRArray, len(ss))
	for i, s := range ss {
		arr[i] = IRString(s)
	}
	return arr
}

func intArray(ns []int) IRArray {
	arr := make(IRArray, len(ns))
	for i, n := range ns {
		arr[i] = IRInt(n)
	}
	return arr
}
