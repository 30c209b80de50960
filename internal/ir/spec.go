package ir

import "fmt"

// Span locates a spec node in its source file.
type Span struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

func (s Span) String() string {
	if s.File == "" && s.Line == 0 {
		return "-"
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// Severity is the vulnerability severity attached to a rule.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ValidSeverities defines allowed severities.
var ValidSeverities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// Rank orders severities; unknown values rank 0.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Downgrade returns the next lower severity. Low stays low.
func (s Severity) Downgrade() Severity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// EffectKind is the taint role a matched entity plays.
type EffectKind string

const (
	EffectSource     EffectKind = "source"
	EffectSink       EffectKind = "sink"
	EffectSanitizer  EffectKind = "sanitizer"
	EffectPropagator EffectKind = "propagator"
)

// ValidEffectKinds defines allowed effect kinds.
var ValidEffectKinds = map[EffectKind]bool{
	EffectSource:     true,
	EffectSink:       true,
	EffectSanitizer:  true,
	EffectPropagator: true,
}

// TracePolicy controls how much explanation a Match carries.
type TracePolicy string

const (
	TraceNone    TracePolicy = "none"
	TraceSummary TracePolicy = "summary"
	TraceFull    TracePolicy = "full"
)

// ValidTracePolicies defines allowed trace policies.
var ValidTracePolicies = map[TracePolicy]bool{
	TraceNone:    true,
	TraceSummary: true,
	TraceFull:    true,
}

// RuleDocument is everything one rule source defines.
type RuleDocument struct {
	File        string
	Rules       []*RuleSpec
	Guards      map[string]*GuardSpec
	Constraints map[string]*ConstraintSpec
}

// RuleSpec is the typed representation of a declarative rule.
type RuleSpec struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	CWE         []string          `json:"cwe,omitempty"`
	OWASP       string            `json:"owasp,omitempty"`
	Severity    Severity          `json:"severity"`
	Tags        []string          `json:"tags,omitempty"`
	Effect      EffectKind        `json:"kind"`
	Confidence  *float64          `json:"confidence,omitempty"`
	Trace       TracePolicy       `json:"trace,omitempty"`
	Clauses     []MatchClauseSpec `json:"match"`
	Span        Span              `json:"-"`
}

// MatchClauseSpec is one alternative a rule matches on.
//
// Type and Call hold raw wildcard patterns; an empty string means the
// clause places no constraint on that field.
type MatchClauseSpec struct {
	Entity EntityKind          `json:"entity"`
	Type   string              `json:"type,omitempty"`
	Call   string              `json:"call,omitempty"`
	Args   []ArgConstraintSpec `json:"args,omitempty"`
	Kwargs []ArgConstraintSpec `json:"kwargs,omitempty"`
	Guards []string            `json:"guards,omitempty"`
	Taint  []int               `json:"taint,omitempty"`
	Fuzzy  int                 `json:"fuzzy,omitempty"`
	Adjust []AdjustSpec        `json:"adjust,omitempty"`
	Effect EffectKind          `json:"kind,omitempty"`
	Span   Span                `json:"-"`
}

// ArgConstraintSpec constrains one argument, by position or by keyword.
//
// Ref names a top-level constraint; Inline holds constraint fields written
// directly on the argument. Both may be present and are conjoined.
type ArgConstraintSpec struct {
	Position int             `json:"position"`
	Name     string          `json:"name,omitempty"`
	Ref      string          `json:"constraint,omitempty"`
	Inline   *ConstraintSpec `json:"inline,omitempty"`
	Span     Span            `json:"-"`
}

// ConstraintSpec defines a value constraint over an argument.
// Zero values mean "unconstrained"; MaxLen 0 means no upper bound.
// Regex searches the value: it matches anywhere unless the author
// anchors it with ^ and $. Guard patterns, by contrast, always match the
// whole value.
type ConstraintSpec struct {
	Name    string   `json:"name,omitempty"`
	Regex   string   `json:"regex,omitempty"`
	MinLen  int      `json:"min_len,omitempty"`
	MaxLen  int      `json:"max_len,omitempty"`
	Types   []string `json:"types,omitempty"`
	Literal *bool    `json:"literal,omitempty"`
	Tainted *bool    `json:"tainted,omitempty"`
	Span    Span     `json:"-"`
}

// Empty reports whether the constraint restricts nothing.
func (c *ConstraintSpec) Empty() bool {
	return c.Regex == "" && c.MinLen == 0 && c.MaxLen == 0 &&
		len(c.Types) == 0 && c.Literal == nil && c.Tainted == nil
}

// GuardKind names a guard capability.
type GuardKind string

const (
	GuardAllowlist GuardKind = "allowlist"
	GuardRegex     GuardKind = "regex"
	GuardLength    GuardKind = "length"
	GuardType      GuardKind = "type"
	GuardEscape    GuardKind = "escape"
	GuardSanitizer GuardKind = "sanitizer"
)

// ValidGuardKinds defines allowed guard kinds.
var ValidGuardKinds = map[GuardKind]bool{
	GuardAllowlist: true,
	GuardRegex:     true,
	GuardLength:    true,
	GuardType:      true,
	GuardEscape:    true,
	GuardSanitizer: true,
}

// Strength grades how completely a sanitizer neutralizes taint.
type Strength string

const (
	StrengthStrong Strength = "strong"
	StrengthWeak   Strength = "weak"
)

// GuardAction is what a triggered fail-fast guard does to a match.
type GuardAction string

const (
	ActionSuppress  GuardAction = "suppress"
	ActionDowngrade GuardAction = "downgrade"
)

// GuardSpec defines a named guard. Pointer fields are optional and
// take kind-specific defaults when nil.
type GuardSpec struct {
	Name       string      `json:"name"`
	Kind       GuardKind   `json:"kind"`
	Values     []string    `json:"values,omitempty"`
	Pattern    string      `json:"pattern,omitempty"` // implicitly anchored: must match the whole value
	MaxLen     int         `json:"max_len,omitempty"`
	Types      []string    `json:"types,omitempty"`
	Functions  []string    `json:"functions,omitempty"`
	Strength   Strength    `json:"strength,omitempty"`
	FailFast   *bool       `json:"fail_fast,omitempty"`
	OnTrigger  GuardAction `json:"on_trigger,omitempty"`
	Multiplier *float64    `json:"multiplier,omitempty"`
	Arg        *int        `json:"arg,omitempty"`
	Span       Span        `json:"-"`
}

// AdjustCondition selects when a confidence adjustment applies.
type AdjustCondition string

const (
	AdjustAlways     AdjustCondition = "always"
	AdjustLiteralArg AdjustCondition = "literal_arg"
	AdjustTaintedArg AdjustCondition = "tainted_arg"
	AdjustFuzzyMatch AdjustCondition = "fuzzy_match"
)

// ValidAdjustConditions defines allowed adjustment conditions.
var ValidAdjustConditions = map[AdjustCondition]bool{
	AdjustAlways:     true,
	AdjustLiteralArg: true,
	AdjustTaintedArg: true,
	AdjustFuzzyMatch: true,
}

// AdjustSpec scales confidence by Factor when its condition holds.
type AdjustSpec struct {
	When   AdjustCondition `json:"when"`
	Arg    int             `json:"arg,omitempty"`
	Factor float64         `json:"factor"`
	Reason string          `json:"reason,omitempty"`
	Span   Span            `json:"-"`
}
