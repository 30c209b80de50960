package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/trcr/internal/ir"
)

const (
	// MaxFuzzyDistance bounds the edit distance a clause may request.
	MaxFuzzyDistance = 3

	// MaxFuzzyConfidence is the highest base confidence a rule with a
	// fuzzy clause may declare.
	MaxFuzzyConfidence = 0.8
)

func semErr(code, ruleID, field string, span ir.Span, format string, args ...any) *CompileError {
	return &CompileError{
		Code:    code,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		RuleID:  ruleID,
		At:      span,
	}
}

// ValidateConstraint checks a named constraint. Returns all errors found.
func ValidateConstraint(c *ir.ConstraintSpec) []error {
	return validateConstraint(c, "", "constraint."+c.Name)
}

func validateConstraint(c *ir.ConstraintSpec, ruleID, field string) []error {
	var errs []error
	if c.Regex != "" {
		if _, err := regexp.Compile(c.Regex); err != nil {
			errs = append(errs, semErr(ErrBadRegex, ruleID, field+".regex", c.Span, "invalid regex: %v", err))
		}
	}
	if c.MinLen < 0 {
		errs = append(errs, semErr(ErrOutOfRange, ruleID, field+".min_len", c.Span, "min_len must be >= 0, got %d", c.MinLen))
	}
	if c.MaxLen < 0 || (c.MaxLen > 0 && c.MaxLen < c.MinLen) {
		errs = append(errs, semErr(ErrOutOfRange, ruleID, field+".max_len", c.Span, "max_len must be >= min_len, got %d", c.MaxLen))
	}
	return errs
}

// ValidateGuard checks a named guard. Returns all errors found.
func ValidateGuard(g *ir.GuardSpec) []error {
	var errs []error
	field := "guard." + g.Name
	add := func(code, sub, format string, args ...any) {
		errs = append(errs, semErr(code, "", field+"."+sub, g.Span, format, args...))
	}

	if !ir.ValidGuardKinds[g.Kind] {
		add(ErrBadEnum, "kind", "unknown guard kind %q", g.Kind)
		return errs
	}
	if g.Strength != "" && g.Strength != ir.StrengthStrong && g.Strength != ir.StrengthWeak {
		add(ErrBadEnum, "strength", "strength must be strong or weak, got %q", g.Strength)
	}
	if g.OnTrigger != "" && g.OnTrigger != ir.ActionSuppress && g.OnTrigger != ir.ActionDowngrade {
		add(ErrBadEnum, "on_trigger", "on_trigger must be suppress or downgrade, got %q", g.OnTrigger)
	}
	if g.Multiplier != nil && !inUnit(*g.Multiplier) {
		add(ErrOutOfRange, "multiplier", "multiplier must be in [0,1], got %v", *g.Multiplier)
	}
	if g.Arg != nil && *g.Arg < ir.GuardArgTaint {
		add(ErrOutOfRange, "arg", "arg must be a position >= 0, or -1 for the clause's taint positions, got %d", *g.Arg)
	}

	switch g.Kind {
	case ir.GuardAllowlist:
		if len(g.Values) == 0 {
			add(ErrMissingRequired, "values", "allowlist guard requires values")
		}
	case ir.GuardRegex:
		if g.Pattern == "" {
			add(ErrMissingRequired, "pattern", "regex guard requires pattern")
		} else if _, err := regexp.Compile(g.Pattern); err != nil {
			add(ErrBadRegex, "pattern", "invalid regex: %v", err)
		}
	case ir.GuardLength:
		if g.MaxLen <= 0 {
			add(ErrOutOfRange, "max_len", "length guard requires max_len > 0")
		}
	case ir.GuardType:
		if len(g.Types) == 0 {
			add(ErrMissingRequired, "types", "type guard requires types")
		}
	case ir.GuardEscape, ir.GuardSanitizer:
		if len(g.Functions) == 0 {
			add(ErrMissingRequired, "functions", "%s guard requires functions", g.Kind)
		}
	}
	return errs
}

// ValidateRule checks a rule against the guards and constraints its
// document defines. Returns all errors found; any error rejects the rule.
func ValidateRule(r *ir.RuleSpec, doc *ir.RuleDocument) []error {
	var errs []error
	field := "rule." + r.ID
	add := func(code, sub string, span ir.Span, format string, args ...any) {
		errs = append(errs, semErr(code, r.ID, field+sub, span, format, args...))
	}

	if !ir.ValidSeverities[r.Severity] {
		add(ErrBadEnum, ".severity", r.Span, "severity must be low, medium, high or critical, got %q", r.Severity)
	}
	if !ir.ValidEffectKinds[r.Effect] {
		add(ErrBadEnum, ".kind", r.Span, "kind must be source, sink, sanitizer or propagator, got %q", r.Effect)
	}
	if !ir.ValidTracePolicies[r.Trace] {
		add(ErrBadEnum, ".trace", r.Span, "trace must be none, summary or full, got %q", r.Trace)
	}
	if r.Confidence != nil && !inUnit(*r.Confidence) {
		add(ErrOutOfRange, ".confidence", r.Span, "confidence must be in [0,1], got %v", *r.Confidence)
	}

	for i := range r.Clauses {
		c := &r.Clauses[i]
		at := fmt.Sprintf(".match[%d]", i)

		if !ir.ValidEntityKinds[c.Entity] {
			add(ErrBadEnum, at+".entity", c.Span, "entity must be call, read or assign, got %q", c.Entity)
		}
		if c.Effect != "" && !ir.ValidEffectKinds[c.Effect] {
			add(ErrBadEnum, at+".kind", c.Span, "kind must be source, sink, sanitizer or propagator, got %q", c.Effect)
		}

		typeKind, callKind := ir.PatternAny, ir.PatternAny
		if c.Type != "" {
			p, err := ir.ParsePattern(c.Type)
			if err != nil {
				add(ErrBadPattern, at+".type", c.Span, "%v", err)
			} else {
				typeKind = p.Kind
			}
		}
		if c.Call != "" {
			p, err := ir.ParsePattern(c.Call)
			if err != nil {
				add(ErrBadPattern, at+".call", c.Span, "%v", err)
			} else {
				callKind = p.Kind
			}
		}
		if typeKind == ir.PatternAny && callKind == ir.PatternAny && len(c.Args) == 0 && len(c.Kwargs) == 0 {
			add(ErrEmptyClause, at, c.Span, "clause must constrain type, call or arguments")
		}

		for j, a := range c.Args {
			sub := fmt.Sprintf("%s.args[%d]", at, j)
			if a.Position < 0 {
				add(ErrOutOfRange, sub+".position", a.Span, "position must be >= 0, got %d", a.Position)
			}
			errs = append(errs, validateArgConstraint(r.ID, field+sub, a, doc)...)
		}
		for j, a := range c.Kwargs {
			sub := fmt.Sprintf("%s.kwargs[%d]", at, j)
			errs = append(errs, validateArgConstraint(r.ID, field+sub, a, doc)...)
		}

		for _, g := range c.Guards {
			if _, ok := doc.Guards[g]; !ok {
				add(ErrUndefinedGuard, at+".guards", c.Span, "guard %q is not defined", g)
			}
		}
		for _, p := range c.Taint {
			if p < 0 {
				add(ErrOutOfRange, at+".taint", c.Span, "taint position must be >= 0, got %d", p)
			}
		}

		if c.Fuzzy < 0 || c.Fuzzy > MaxFuzzyDistance {
			add(ErrOutOfRange, at+".fuzzy", c.Span, "fuzzy must be in [0,%d], got %d", MaxFuzzyDistance, c.Fuzzy)
		}
		if c.Fuzzy > 0 {
			if callKind != ir.PatternExact {
				add(ErrBadPattern, at+".fuzzy", c.Span, "fuzzy matching requires a literal call pattern")
			}
			if r.Confidence != nil && *r.Confidence > MaxFuzzyConfidence {
				add(ErrFuzzyConfidence, at+".fuzzy", c.Span,
					"fuzzy clauses cannot back a rule with confidence %v (max %v)", *r.Confidence, MaxFuzzyConfidence)
			}
		}

		for j, a := range c.Adjust {
			sub := fmt.Sprintf("%s.adjust[%d]", at, j)
			if !ir.ValidAdjustConditions[a.When] {
				add(ErrBadEnum, sub+".when", a.Span, "unknown adjustment condition %q", a.When)
			}
			if !inUnit(a.Factor) {
				add(ErrOutOfRange, sub+".factor", a.Span, "factor must be in [0,1], got %v", a.Factor)
			}
			if a.Arg < 0 {
				add(ErrOutOfRange, sub+".arg", a.Span, "arg must be >= 0, got %d", a.Arg)
			}
		}
	}
	return errs
}

func validateArgConstraint(ruleID, field string, a ir.ArgConstraintSpec, doc *ir.RuleDocument) []error {
	var errs []error
	if a.Ref != "" {
		if _, ok := doc.Constraints[a.Ref]; !ok {
			errs = append(errs, semErr(ErrUndefinedConstraint, ruleID, field+".constraint", a.Span,
				"constraint %q is not defined", a.Ref))
		}
	}
	if a.Inline != nil {
		errs = append(errs, validateConstraint(a.Inline, ruleID, field)...)
	}
	return errs
}

func inUnit(f float64) bool {
	return f >= 0 && f <= 1
}
