package ir

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// PatternKind categorizes a wildcard pattern.
//
// The zero value (PatternRaw) means the pattern has not been normalized
// yet; the optimizer's Normalize pass assigns the category.
type PatternKind string

const (
	PatternRaw      PatternKind = ""
	PatternExact    PatternKind = "exact"
	PatternPrefix   PatternKind = "prefix"
	PatternSuffix   PatternKind = "suffix"
	PatternContains PatternKind = "contains"
	PatternAny      PatternKind = "any"
)

// Pattern is a wildcard pattern over type or call names.
//
// Grammar:
//
//	literal     exact match
//	prefix*     prefix match
//	*suffix     suffix match
//	*substr*    contains match
//	*           any value, including an absent one
//
// Runs of '*' collapse to one. Interior wildcards ("a*b") and the empty
// pattern are rejected.
type Pattern struct {
	Raw  string      `json:"raw"`
	Kind PatternKind `json:"kind,omitempty"`
	Text string      `json:"text,omitempty"`
}

// RawPattern wraps an unparsed pattern string.
func RawPattern(raw string) Pattern {
	return Pattern{Raw: raw}
}

// ParsePattern parses and categorizes a wildcard pattern.
func ParsePattern(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	s := collapseStars(raw)
	p := Pattern{Raw: raw}

	switch {
	case s == "*":
		p.Kind = PatternAny
	case len(s) > 2 && strings.HasPrefix(s, "*") && strings.HasSuffix(s, "*"):
		p.Kind = PatternContains
		p.Text = s[1 : len(s)-1]
	case strings.HasPrefix(s, "*"):
		p.Kind = PatternSuffix
		p.Text = s[1:]
	case strings.HasSuffix(s, "*"):
		p.Kind = PatternPrefix
		p.Text = s[:len(s)-1]
	default:
		p.Kind = PatternExact
		p.Text = s
	}

	if strings.Contains(p.Text, "*") {
		return Pattern{}, fmt.Errorf("pattern %q: wildcard only allowed at the start or end", raw)
	}
	p.Text = NormalizeKey(p.Text)
	return p, nil
}

// MustParsePattern is like ParsePattern but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParsePattern(raw string) Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Normalized returns the categorized form of p. Already-categorized
// patterns are returned unchanged, which makes normalization idempotent.
func (p Pattern) Normalized() (Pattern, error) {
	if p.Kind != PatternRaw {
		return p, nil
	}
	return ParsePattern(p.Raw)
}

// Category returns the pattern kind, parsing lazily if needed.
// Invalid raw patterns report PatternRaw.
func (p Pattern) Category() PatternKind {
	n, err := p.Normalized()
	if err != nil {
		return PatternRaw
	}
	return n.Kind
}

// Matches reports whether s satisfies the pattern. present is false when
// the entity lacks the field; only PatternAny matches an absent value.
func (p Pattern) Matches(s string, present bool) bool {
	n, err := p.Normalized()
	if err != nil {
		return false
	}
	if n.Kind == PatternAny {
		return true
	}
	if !present {
		return false
	}
	s = NormalizeKey(s)
	switch n.Kind {
	case PatternExact:
		return s == n.Text
	case PatternPrefix:
		return strings.HasPrefix(s, n.Text)
	case PatternSuffix:
		return strings.HasSuffix(s, n.Text)
	case PatternContains:
		return strings.Contains(s, n.Text)
	default:
		return false
	}
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.Raw
}

// NormalizeKey puts a name into the form used by every index and
// predicate comparison (Unicode NFC).
func NormalizeKey(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

func collapseStars(s string) string {
	if !strings.Contains(s, "**") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prevStar := false
	for _, r := range s {
		if r == '*' {
			if prevStar {
				continue
			}
			prevStar = true
		} else {
			prevStar = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WithinDistance reports whether a and b are at most d single-rune edits
// apart.
func WithinDistance(a, b string, d int) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la-lb > d || lb-la > d {
		return false
	}
	return levenshtein.Distance(a, b, levenshtein.NewParams().MaxCost(d)) <= d
}
