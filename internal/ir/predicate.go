package ir

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// PredicateIR is one check in a clause's predicate chain.
//
// This is a sealed interface; the variants are KindIs, TypeMatches,
// NameMatches, ArgCountAtLeast and ArgSatisfies. The runtime dispatches
// with an exhaustive type switch.
//
// Cost is the relative evaluation cost hint; chains are ordered by
// ascending cost. Selectivity estimates how many entities the check
// rejects (higher is more discriminating) and breaks cost ties.
// Key is a stable identity used for deduplication and hashing.
type PredicateIR interface {
	predicateIR()
	Cost() int
	Selectivity() int
	Key() string
}

// KindIs requires the entity kind. It is never pruned.
type KindIs struct {
	Kind EntityKind
}

func (KindIs) predicateIR() {}
func (KindIs) Cost() int { return 0 }
func (KindIs) Selectivity() int { return 1 }
func (p KindIs) Key() string { return "kind:" + string(p.Kind) }
func (p KindIs) Accepts(e Entity) bool { return e.Kind() == p.Kind }

// TypeMatches requires the entity base type to satisfy a wildcard pattern.
type TypeMatches struct {
	Pattern Pattern
}

func (TypeMatches) predicateIR() {}
func (p TypeMatches) Cost() int { return patternCost(p.Pattern) }
func (p TypeMatches) Selectivity() int { return patternSelectivity(p.Pattern) }
func (p TypeMatches) Key() string { return "type:" + patternKey(p.Pattern) }

// NameMatches requires the call (or property) name to satisfy a pattern.
// With MaxDistance > 0 and an exact pattern, names within that edit
// distance also pass.
type NameMatches struct {
	Pattern     Pattern
	MaxDistance int
}

func (NameMatches) predicateIR() {}

func (p NameMatches) Cost() int {
	if p.MaxDistance > 0 {
		return 5
	}
	return patternCost(p.Pattern)
}

func (p NameMatches) Selectivity() int {
	if p.MaxDistance > 0 {
		return 2
	}
	return patternSelectivity(p.Pattern)
}

func (p NameMatches) Key() string {
	if p.MaxDistance > 0 {
		return "name:" + patternKey(p.Pattern) + "~" + strconv.Itoa(p.MaxDistance)
	}
	return "name:" + patternKey(p.Pattern)
}

// ArgCountAtLeast requires at least N positional arguments.
type ArgCountAtLeast struct {
	N int
}

func (ArgCountAtLeast) predicateIR() {}
func (ArgCountAtLeast) Cost() int { return 1 }
func (ArgCountAtLeast) Selectivity() int { return 1 }
func (p ArgCountAtLeast) Key() string { return "argc>=" + strconv.Itoa(p.N) }

// ArgSatisfies requires one argument to satisfy a value constraint.
// Name selects a keyword argument; otherwise Position selects a
// positional one.
type ArgSatisfies struct {
	Position   int
	Name       string
	Constraint ConstraintIR
}

func (ArgSatisfies) predicateIR() {}

func (p ArgSatisfies) Cost() int {
	if p.Constraint.Regex != "" {
		return 5
	}
	return 3
}

func (ArgSatisfies) Selectivity() int { return 6 }

func (p ArgSatisfies) Key() string {
	return "arg:" + p.Selector() + ":" + p.Constraint.Key()
}

// Selector renders the argument selector, "#0" or "name=".
func (p ArgSatisfies) Selector() string {
	if p.Name != "" {
		return p.Name + "="
	}
	return "#" + strconv.Itoa(p.Position)
}

// Lookup finds the constrained argument on e.
func (p ArgSatisfies) Lookup(e Entity) (Arg, bool) {
	if p.Name != "" {
		return Kwarg(e, p.Name)
	}
	return ArgAt(e, p.Position)
}

// ConstraintIR is the compiled form of a ConstraintSpec.
type ConstraintIR struct {
	Regex   string
	MinLen  int
	MaxLen  int
	Types   []string
	Literal *bool
	Tainted *bool

	re *regexp.Regexp
}

// CompileConstraint lowers a ConstraintSpec, compiling its regex.
func CompileConstraint(spec *ConstraintSpec) (ConstraintIR, error) {
	c := ConstraintIR{
		Regex:   spec.Regex,
		MinLen:  spec.MinLen,
		MaxLen:  spec.MaxLen,
		Types:   slices.Clone(spec.Types),
		Literal: spec.Literal,
		Tainted: spec.Tainted,
	}
	slices.Sort(c.Types)
	if spec.Regex != "" {
		re, err := regexp.Compile(spec.Regex)
		if err != nil {
			return ConstraintIR{}, err
		}
		c.re = re
	}
	return c, nil
}

// Check reports whether a satisfies every part of the constraint.
func (c ConstraintIR) Check(a Arg) bool {
	n := utf8.RuneCountInString(a.Value)
	if n < c.MinLen {
		return false
	}
	if c.MaxLen > 0 && n > c.MaxLen {
		return false
	}
	if len(c.Types) > 0 && !slices.Contains(c.Types, a.TypeCategory) {
		return false
	}
	if c.Literal != nil && a.Literal != *c.Literal {
		return false
	}
	if c.Tainted != nil && a.Tainted != *c.Tainted {
		return false
	}
	if c.Regex != "" {
		re := c.re
		if re == nil {
			var err error
			if re, err = regexp.Compile(c.Regex); err != nil {
				return false
			}
		}
		if !re.MatchString(a.Value) {
			return false
		}
	}
	return true
}

// Key renders the constraint deterministically.
func (c ConstraintIR) Key() string {
	var parts []string
	if c.Regex != "" {
		parts = append(parts, "re="+strconv.Quote(c.Regex))
	}
	if c.MinLen > 0 {
		parts = append(parts, "min="+strconv.Itoa(c.MinLen))
	}
	if c.MaxLen > 0 {
		parts = append(parts, "max="+strconv.Itoa(c.MaxLen))
	}
	if len(c.Types) > 0 {
		parts = append(parts, "types="+strings.Join(c.Types, ","))
	}
	if c.Literal != nil {
		parts = append(parts, "literal="+strconv.FormatBool(*c.Literal))
	}
	if c.Tainted != nil {
		parts = append(parts, "tainted="+strconv.FormatBool(*c.Tainted))
	}
	if len(parts) == 0 {
		return "true"
	}
	return "{" + strings.Join(parts, ";") + "}"
}

// AlwaysTrue reports whether the predicate accepts every entity.
// KindIs is never considered always-true.
func AlwaysTrue(p PredicateIR) bool {
	switch v := p.(type) {
	case TypeMatches:
		return v.Pattern.Category() == PatternAny
	case NameMatches:
		return v.Pattern.Category() == PatternAny
	case ArgCountAtLeast:
		return v.N <= 0
	default:
		return false
	}
}

// PredicateString renders a predicate for traces and CLI output.
func PredicateString(p PredicateIR) string {
	return fmt.Sprintf("%s(cost=%d)", p.Key(), p.Cost())
}

func patternCost(p Pattern) int {
	switch p.Category() {
	case PatternAny:
		return 0
	case PatternExact:
		return 1
	case PatternPrefix, PatternSuffix:
		return 2
	default:
		return 3
	}
}

func patternSelectivity(p Pattern) int {
	switch p.Category() {
	case PatternAny:
		return 0
	case PatternExact:
		return 8
	case PatternPrefix, PatternSuffix:
		return 4
	default:
		return 3
	}
}

func patternKey(p Pattern) string {
	n, err := p.Normalized()
	if err != nil {
		return "raw:" + p.Raw
	}
	return string(n.Kind) + ":" + n.Text
}
