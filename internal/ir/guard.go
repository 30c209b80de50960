package ir

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Default multipliers applied when a guard triggers and its GuardSpec does not
// override them.
const (
	DefaultAllowlistMultiplier       = 0.1
	DefaultTypeMultiplier            = 0.1
	DefaultRegexMultiplier           = 0.5
	DefaultLengthMultiplier          = 0.7
	DefaultEscapeMultiplier          = 0.5
	DefaultStrongSanitizerMultiplier = 0.05
	DefaultWeakSanitizerMultiplier   = 0.6
)

// GuardArgTaint selects the clause's taint positions instead of a fixed
// argument.
const GuardArgTaint = -1

// GuardMeta is the data every guard variant carries.
type GuardMeta struct {
	Name       string
	Arg        int
	Multiplier float64
	Strength   Strength
	FailFast   bool
	OnTrigger  GuardAction
}

// GuardIR is the compiled form of a guard.
//
// This is a sealed interface; the variants are AllowlistGuard,
// RegexGuard, LengthGuard, TypeGuard, EscapeGuard and SanitizerGuard.
type GuardIR interface {
	guardIR()
	Meta() GuardMeta
	Key() string
}

// AllowlistGuard triggers when every inspected argument value is listed.
type AllowlistGuard struct {
	GuardMeta
	Values []string
}

// RegexGuard triggers when every inspected argument fully matches Pattern.
type RegexGuard struct {
	GuardMeta
	Pattern string

	re *regexp.Regexp
}

// LengthGuard triggers when every inspected argument is at most MaxLen runes.
type LengthGuard struct {
	GuardMeta
	MaxLen int
}

// TypeGuard triggers when every inspected argument has a listed type category.
type TypeGuard struct {
	GuardMeta
	Types []string
}

// EscapeGuard triggers when every inspected argument passed through one of
// the escaping functions.
type EscapeGuard struct {
	GuardMeta
	Functions []string
}

// SanitizerGuard triggers when every inspected argument passed through one
// of the sanitizer functions.
type SanitizerGuard struct {
	GuardMeta
	Functions []string
}

func (AllowlistGuard) guardIR() {}
func (RegexGuard) guardIR()     {}
func (LengthGuard) guardIR()    {}
func (TypeGuard) guardIR()      {}
func (EscapeGuard) guardIR()    {}
func (SanitizerGuard) guardIR() {}

func (g AllowlistGuard) Meta() GuardMeta { return g.GuardMeta }
func (g RegexGuard) Meta() GuardMeta     { return g.GuardMeta }
func (g LengthGuard) Meta() GuardMeta    { return g.GuardMeta }
func (g TypeGuard) Meta() GuardMeta      { return g.GuardMeta }
func (g EscapeGuard) Meta() GuardMeta    { return g.GuardMeta }
func (g SanitizerGuard) Meta() GuardMeta { return g.GuardMeta }

func (g AllowlistGuard) Key() string {
	return g.GuardMeta.key("allowlist") + strings.Join(g.Values, ",")
}

func (g RegexGuard) Key() string {
	return g.GuardMeta.key("regex") + strconv.Quote(g.Pattern)
}

func (g LengthGuard) Key() string {
	return g.GuardMeta.key("length") + strconv.Itoa(g.MaxLen)
}

func (g TypeGuard) Key() string {
	return g.GuardMeta.key("type") + strings.Join(g.Types, ",")
}

func (g EscapeGuard) Key() string {
	return g.GuardMeta.key("escape") + strings.Join(g.Functions, ",")
}

func (g SanitizerGuard) Key() string {
	return g.GuardMeta.key("sanitizer") + strings.Join(g.Functions, ",")
}

// Regexp returns the compiled pattern, compiling it if the guard was
// built by hand.
func (g RegexGuard) Regexp() (*regexp.Regexp, error) {
	if g.re != nil {
		return g.re, nil
	}
	return regexp.Compile(fullMatch(g.Pattern))
}

func (m GuardMeta) key(kind string) string {
	ff := ""
	if m.FailFast {
		ff = "!" + string(m.OnTrigger)
	}
	return fmt.Sprintf("%s:%s@%d*%d%s:", kind, m.Name, m.Arg, PPM(m.Multiplier), ff)
}

// BuildGuard lowers a GuardSpec, filling kind-specific defaults.
func BuildGuard(spec *GuardSpec) (GuardIR, error) {
	meta := GuardMeta{
		Name:      spec.Name,
		Arg:       GuardArgTaint,
		Strength:  spec.Strength,
		OnTrigger: spec.OnTrigger,
	}
	if spec.Arg != nil {
		meta.Arg = *spec.Arg
	}

	strong := spec.Kind == GuardSanitizer && spec.Strength != StrengthWeak
	if spec.Kind == GuardSanitizer && meta.Strength == "" {
		meta.Strength = StrengthStrong
	}
	if spec.FailFast != nil {
		meta.FailFast = *spec.FailFast
	} else {
		meta.FailFast = strong
	}
	if meta.OnTrigger == "" {
		if strong {
			meta.OnTrigger = ActionSuppress
		} else {
			meta.OnTrigger = ActionDowngrade
		}
	}

	var def float64
	switch spec.Kind {
	case GuardAllowlist:
		def = DefaultAllowlistMultiplier
	case GuardRegex:
		def = DefaultRegexMultiplier
	case GuardLength:
		def = DefaultLengthMultiplier
	case GuardType:
		def = DefaultTypeMultiplier
	case GuardEscape:
		def = DefaultEscapeMultiplier
	case GuardSanitizer:
		if strong {
			def = DefaultStrongSanitizerMultiplier
		} else {
			def = DefaultWeakSanitizerMultiplier
		}
	default:
		return nil, fmt.Errorf("unknown guard kind %q", spec.Kind)
	}
	meta.Multiplier = def
	if spec.Multiplier != nil {
		meta.Multiplier = *spec.Multiplier
	}

	switch spec.Kind {
	case GuardAllowlist:
		return AllowlistGuard{GuardMeta: meta, Values: sortedCopy(spec.Values)}, nil
	case GuardRegex:
		re, err := regexp.Compile(fullMatch(spec.Pattern))
		if err != nil {
			return nil, err
		}
		return RegexGuard{GuardMeta: meta, Pattern: spec.Pattern, re: re}, nil
	case GuardLength:
		return LengthGuard{GuardMeta: meta, MaxLen: spec.MaxLen}, nil
	case GuardType:
		return TypeGuard{GuardMeta: meta, Types: sortedCopy(spec.Types)}, nil
	case GuardEscape:
		return EscapeGuard{GuardMeta: meta, Functions: sortedCopy(spec.Functions)}, nil
	default:
		return SanitizerGuard{GuardMeta: meta, Functions: sortedCopy(spec.Functions)}, nil
	}
}

func fullMatch(pattern string) string {
	return `^(?:` + pattern + `)$`
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
