// Package guard decides whether a match is mitigated.
//
// A guard inspects the arguments a clause cares about. It triggers only
// when every inspected argument satisfies it; a triggered guard scales
// confidence by its multiplier, and a fail-fast guard can suppress the
// match or downgrade its severity outright.
package guard

import (
	"slices"
	"unicode/utf8"

	"github.com/roach88/trcr/internal/ir"
)

// Class is the broad family a guard belongs to.
type Class string

const (
	ClassValidation Class = "validation"
	ClassEscape     Class = "escape"
	ClassSanitizer  Class = "sanitizer"
)

// Context is what a guard can see.
type Context struct {
	Entity         ir.Entity
	TaintPositions []int
}

// Result is the outcome of one guard.
type Result struct {
	Name       string
	Triggered  bool
	Multiplier float64
	Class      Class
	Strong     bool
	FailFast   bool
	Action     ir.GuardAction
}

// ClassOf returns the family of g.
func ClassOf(g ir.GuardIR) Class {
	switch g.(type) {
	case ir.EscapeGuard:
		return ClassEscape
	case ir.SanitizerGuard:
		return ClassSanitizer
	default:
		return ClassValidation
	}
}

// IsStrong reports whether g is a strong sanitizer.
func IsStrong(g ir.GuardIR) bool {
	_, ok := g.(ir.SanitizerGuard)
	return ok && g.Meta().Strength != ir.StrengthWeak
}

// Evaluate runs one guard. An untriggered guard has multiplier 1.
func Evaluate(g ir.GuardIR, ctx Context) Result {
	meta := g.Meta()
	res := Result{
		Name:       meta.Name,
		Multiplier: 1,
		Class:      ClassOf(g),
		Strong:     IsStrong(g),
		FailFast:   meta.FailFast,
		Action:     meta.OnTrigger,
	}

	args := inspected(meta.Arg, ctx)
	if len(args) == 0 {
		return res
	}
	for _, a := range args {
		if !satisfies(g, a) {
			return res
		}
	}
	res.Triggered = true
	res.Multiplier = meta.Multiplier
	return res
}

// inspected selects the arguments a guard checks: a fixed position, or
// the clause's taint positions, or every positional argument when the
// clause names none.
func inspected(arg int, ctx Context) []ir.Arg {
	if ctx.Entity == nil {
		return nil
	}
	if arg >= 0 {
		if a, ok := ir.ArgAt(ctx.Entity, arg); ok {
			return []ir.Arg{a}
		}
		return nil
	}
	if len(ctx.TaintPositions) == 0 {
		return ir.Positional(ctx.Entity)
	}
	out := make([]ir.Arg, 0, len(ctx.TaintPositions))
	for _, p := range ctx.TaintPositions {
		if a, ok := ir.ArgAt(ctx.Entity, p); ok {
			out = append(out, a)
		}
	}
	return out
}

func satisfies(g ir.GuardIR, a ir.Arg) bool {
	switch v := g.(type) {
	case ir.AllowlistGuard:
		return slices.Contains(v.Values, a.Value)
	case ir.RegexGuard:
		re, err := v.Regexp()
		return err == nil && re.MatchString(a.Value)
	case ir.LengthGuard:
		return utf8.RuneCountInString(a.Value) <= v.MaxLen
	case ir.TypeGuard:
		return a.TypeCategory != "" && slices.Contains(v.Types, a.TypeCategory)
	case ir.EscapeGuard:
		return wrappedBy(a, v.Functions)
	case ir.SanitizerGuard:
		return wrappedBy(a, v.Functions)
	default:
		return false
	}
}

func wrappedBy(a ir.Arg, functions []string) bool {
	for _, w := range a.Wrappers {
		if slices.Contains(functions, w) {
			return true
		}
	}
	return false
}
