package compiler

import (
	"fmt"

	"github.com/roach88/trcr/internal/ir"
)

// Specificity weights. Value constraints and guards weigh most, then a
// type match, then a call-name match.
const (
	WeightTypeExact   = 6
	WeightTypePartial = 3
	WeightCallExact   = 4
	WeightCallPartial = 2
	WeightConstraint  = 8
	WeightGuard       = 8
	WeightNonCallKind = 1
)

// TierThresholds buckets a specificity score into a tier:
// score >= Tier1Min is tier1, score >= Tier2Min is tier2, else tier3.
type TierThresholds struct {
	Tier1Min int
	Tier2Min int
}

// DefaultTierThresholds are calibrated against the core rule set.
var DefaultTierThresholds = TierThresholds{Tier1Min: 12, Tier2Min: 6}

// Validate requires Tier1Min > Tier2Min > 0.
func (t TierThresholds) Validate() error {
	if t.Tier2Min <= 0 || t.Tier1Min <= t.Tier2Min {
		return fmt.Errorf("invalid tier thresholds: need tier1_min > tier2_min > 0, got %d/%d", t.Tier1Min, t.Tier2Min)
	}
	return nil
}

// Bucket assigns the tier for a specificity score.
func (t TierThresholds) Bucket(score int) ir.Tier {
	switch {
	case score >= t.Tier1Min:
		return ir.Tier1
	case score >= t.Tier2Min:
		return ir.Tier2
	default:
		return ir.Tier3
	}
}

// Specificity scores how discriminating a clause is.
func Specificity(c *ir.MatchClauseSpec) int {
	score := 0
	if c.Type != "" {
		score += patternWeight(c.Type, WeightTypeExact, WeightTypePartial)
	}
	if c.Call != "" {
		score += patternWeight(c.Call, WeightCallExact, WeightCallPartial)
	}
	for _, a := range c.Args {
		score += WeightConstraint * constraintCount(a)
	}
	for _, a := range c.Kwargs {
		score += WeightConstraint * constraintCount(a)
	}
	score += WeightGuard * len(c.Guards)
	if c.Entity != ir.EntityCall {
		score += WeightNonCallKind
	}
	return score
}

// EstimateTier returns the clause's specificity score and tier.
func EstimateTier(c *ir.MatchClauseSpec, t TierThresholds) (int, ir.Tier) {
	score := Specificity(c)
	return score, t.Bucket(score)
}

// DefaultConfidence is the base confidence used when a rule omits one.
func DefaultConfidence(t ir.Tier) float64 {
	switch t {
	case ir.Tier1:
		return 0.9
	case ir.Tier2:
		return 0.8
	default:
		return 0.6
	}
}

func patternWeight(raw string, exact, partial int) int {
	switch ir.RawPattern(raw).Category() {
	case ir.PatternExact:
		return exact
	case ir.PatternAny, ir.PatternRaw:
		return 0
	default:
		return partial
	}
}

func constraintCount(a ir.ArgConstraintSpec) int {
	n := 0
	if a.Ref != "" {
		n++
	}
	if a.Inline != nil {
		n++
	}
	return n
}
