package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/trcr/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the ranked match list to help debug the failure.
type AssertionError struct {
	Type     string     // Assertion type for categorization
	Expected string     // Human-readable expected outcome
	Actual   string     // Human-readable actual outcome
	Matches  []ir.Match // Full match list for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nMatches:\n")
	for i, m := range e.Matches {
		fmt.Fprintf(&buf, "  [%d] %s conf=%.3f spec=%d %s\n", i+1, pairOf(m), m.Confidence, m.Specificity, m.Severity)
	}
	return buf.String()
}

func pairOf(m ir.Match) string {
	return m.RuleID + "@" + m.EntityID
}

// selects reports whether m belongs to rule and, when set, entity.
func selects(m ir.Match, rule, entity string) bool {
	return m.RuleID == rule && (entity == "" || m.EntityID == entity)
}

func describe(rule, entity string) string {
	if entity == "" {
		return "rule " + rule
	}
	return rule + "@" + entity
}

// assertMatchContains checks that a match for the rule (and entity)
// exists and satisfies the optional field checks.
func assertMatchContains(matches []ir.Match, a Assertion) error {
	var mismatch string
	for _, m := range matches {
		if !selects(m, a.Rule, a.Entity) {
			continue
		}
		switch {
		case a.Severity != "" && string(m.Severity) != a.Severity:
			mismatch = fmt.Sprintf("%s has severity %s", pairOf(m), m.Severity)
		case a.Tier != "" && string(m.Tier) != a.Tier:
			mismatch = fmt.Sprintf("%s has tier %s", pairOf(m), m.Tier)
		case ir.PPM(m.Confidence) < ir.PPM(a.MinConfidence):
			mismatch = fmt.Sprintf("%s has confidence %.6f", pairOf(m), m.Confidence)
		default:
			return nil
		}
	}
	if mismatch == "" {
		mismatch = "no match"
	}

	expected := "match for " + describe(a.Rule, a.Entity)
	if a.Severity != "" {
		expected += " severity=" + a.Severity
	}
	if a.Tier != "" {
		expected += " tier=" + a.Tier
	}
	if a.MinConfidence > 0 {
		expected += fmt.Sprintf(" confidence>=%.6f", a.MinConfidence)
	}
	return &AssertionError{
		Type:     AssertMatchContains,
		Expected: expected,
		Actual:   mismatch,
		Matches:  matches,
	}
}

// assertMatchAbsent checks that no match for the rule (and entity) exists.
func assertMatchAbsent(matches []ir.Match, a Assertion) error {
	for _, m := range matches {
		if selects(m, a.Rule, a.Entity) {
			return &AssertionError{
				Type:     AssertMatchAbsent,
				Expected: "no match for " + describe(a.Rule, a.Entity),
				Actual:   fmt.Sprintf("found %s", pairOf(m)),
				Matches:  matches,
			}
		}
	}
	return nil
}

// assertMatchOrder checks that the listed pairs appear in order.
// Pairs don't need to be consecutive.
func assertMatchOrder(matches []ir.Match, a Assertion) error {
	positions := make(map[string]int, len(matches))
	for i, m := range matches {
		positions[pairOf(m)] = i + 1 // 1-indexed for readability
	}

	for _, want := range a.Matches {
		if positions[want] == 0 {
			return &AssertionError{
				Type:     AssertMatchOrder,
				Expected: fmt.Sprintf("all matches present: %v", a.Matches),
				Actual:   fmt.Sprintf("missing match: %s", want),
				Matches:  matches,
			}
		}
	}

	for i := 1; i < len(a.Matches); i++ {
		prev, curr := a.Matches[i-1], a.Matches[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertMatchOrder,
				Expected: fmt.Sprintf("matches in order: %v", a.Matches),
				Actual: fmt.Sprintf("%s (rank %d) should be before %s (rank %d)",
					prev, positions[prev], curr, positions[curr]),
				Matches: matches,
			}
		}
	}
	return nil
}

// assertMatchCount checks the number of matches, optionally for one rule.
func assertMatchCount(matches []ir.Match, a Assertion) error {
	count := 0
	for _, m := range matches {
		if a.Rule == "" || m.RuleID == a.Rule {
			count++
		}
	}
	if count == a.Count {
		return nil
	}

	scope := "matches"
	if a.Rule != "" {
		scope = "matches for rule " + a.Rule
	}
	return &AssertionError{
		Type:     AssertMatchCount,
		Expected: fmt.Sprintf("%d %s", a.Count, scope),
		Actual:   fmt.Sprintf("%d %s", count, scope),
		Matches:  matches,
	}
}

// assertCompileError checks that compilation reported the code.
func assertCompileError(r *Result, a Assertion) error {
	if slices.Contains(r.CompileCodes, a.Code) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCompileError,
		Expected: "compile error " + a.Code,
		Actual:   fmt.Sprintf("codes %v", r.CompileCodes),
		Matches:  r.Matches,
	}
}

// assertIndexUntouched checks that the listed index kinds served no query.
func assertIndexUntouched(r *Result, a Assertion) error {
	var touched []string
	for _, k := range a.Kinds {
		if n := r.IndexQueries[ir.IndexKind(k)]; n > 0 {
			touched = append(touched, fmt.Sprintf("%s=%d", k, n))
		}
	}
	if len(touched) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertIndexUntouched,
		Expected: fmt.Sprintf("no queries on %v", a.Kinds),
		Actual:   strings.Join(touched, ", "),
		Matches:  r.Matches,
	}
}

// EvaluateAssertions evaluates all assertions against a result.
// Returns the error messages of the failed assertions.
func EvaluateAssertions(r *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertMatchContains:
			err = assertMatchContains(r.Matches, a)
		case AssertMatchAbsent:
			err = assertMatchAbsent(r.Matches, a)
		case AssertMatchOrder:
			err = assertMatchOrder(r.Matches, a)
		case AssertMatchCount:
			err = assertMatchCount(r.Matches, a)
		case AssertCompileError:
			err = assertCompileError(r, a)
		case AssertIndexUntouched:
			err = assertIndexUntouched(r, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// checkExpectations compares the ranked matches with the expected list.
// A nil expect list is not checked; an empty one requires no matches.
func checkExpectations(matches []ir.Match, expect []ExpectedMatch) []string {
	if expect == nil {
		return nil
	}
	var errs []string
	if len(matches) != len(expect) {
		got := make([]string, len(matches))
		for i, m := range matches {
			got[i] = pairOf(m)
		}
		errs = append(errs, fmt.Sprintf("expect: %d matches, got %d %v", len(expect), len(matches), got))
	}
	for i := range min(len(matches), len(expect)) {
		m, e := matches[i], expect[i]
		if m.RuleID != e.Rule || m.EntityID != e.Entity {
			errs = append(errs, fmt.Sprintf("expect[%d]: want %s@%s, got %s", i, e.Rule, e.Entity, pairOf(m)))
			continue
		}
		if e.Confidence != nil && ir.PPM(*e.Confidence) != ir.PPM(m.Confidence) {
			errs = append(errs, fmt.Sprintf("expect[%d]: %s confidence %.6f, got %.6f", i, pairOf(m), *e.Confidence, m.Confidence))
		}
		if e.Severity != "" && string(m.Severity) != e.Severity {
			errs = append(errs, fmt.Sprintf("expect[%d]: %s severity %s, got %s", i, pairOf(m), e.Severity, m.Severity))
		}
		if e.Tier != "" && string(m.Tier) != e.Tier {
			errs = append(errs, fmt.Sprintf("expect[%d]: %s tier %s, got %s", i, pairOf(m), e.Tier, m.Tier))
		}
	}
	return errs
}
