package compiler

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"

	"github.com/roach88/trcr/internal/ir"
)

// Allowed fields per node. Anything else is rejected with E201 so a
// misspelled field never leaves a rule silently inert.
var (
	topLevelFields   = []string{"rule", "guard", "constraint"}
	ruleFields       = []string{"description", "cwe", "owasp", "severity", "tags", "kind", "confidence", "trace", "match"}
	clauseFields     = []string{"entity", "type", "call", "args", "kwargs", "guards", "taint", "fuzzy", "adjust", "kind"}
	argFields        = []string{"position", "constraint", "regex", "min_len", "max_len", "types", "literal", "tainted"}
	kwargFields      = []string{"name", "constraint", "regex", "min_len", "max_len", "types", "literal", "tainted"}
	constraintFields = []string{"regex", "min_len", "max_len", "types", "literal", "tainted"}
	guardFields      = []string{"kind", "values", "pattern", "max_len", "types", "functions", "strength", "fail_fast", "on_trigger", "multiplier", "arg"}
	adjustFields     = []string{"when", "arg", "factor", "reason"}
)

// Parse decodes one CUE rule document.
//
// A CUE syntax or evaluation error fails the whole document and returns a
// nil document. Errors in individual rules, guards or constraints are
// returned alongside the document; the offending entry is left out.
func Parse(ctx *cue.Context, filename string, src []byte) (*ir.RuleDocument, []error) {
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err, filename)}
	}
	return Decode(filename, v)
}

// Decode reads a rule document from an already-compiled CUE value.
func Decode(filename string, v cue.Value) (*ir.RuleDocument, []error) {
	doc := &ir.RuleDocument{
		File:        filename,
		Guards:      make(map[string]*ir.GuardSpec),
		Constraints: make(map[string]*ir.ConstraintSpec),
	}
	root := node{v: v}

	var errs []error
	if err := root.checkFields(topLevelFields); err != nil {
		errs = append(errs, err)
	}

	if c, ok := root.child("constraint"); ok {
		err := c.eachField(func(name string, n node) {
			spec, err := parseConstraint(name, n)
			if err != nil {
				errs = append(errs, err)
				return
			}
			doc.Constraints[name] = spec
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	if g, ok := root.child("guard"); ok {
		err := g.eachField(func(name string, n node) {
			spec, err := parseGuard(name, n)
			if err != nil {
				errs = append(errs, err)
				return
			}
			doc.Guards[name] = spec
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	if r, ok := root.child("rule"); ok {
		err := r.eachField(func(id string, n node) {
			n.rule = id
			spec, err := parseRule(id, n)
			if err != nil {
				errs = append(errs, err)
				return
			}
			doc.Rules = append(doc.Rules, spec)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	return doc, errs
}

func parseRule(id string, n node) (*ir.RuleSpec, error) {
	if err := n.checkFields(ruleFields); err != nil {
		return nil, err
	}
	spec := &ir.RuleSpec{ID: id, Span: spanOf(n.v.Pos())}

	var err error
	if spec.Description, _, err = n.str("description"); err != nil {
		return nil, err
	}
	if spec.CWE, err = n.strs("cwe"); err != nil {
		return nil, err
	}
	if spec.OWASP, _, err = n.str("owasp"); err != nil {
		return nil, err
	}
	if spec.Tags, err = n.strs("tags"); err != nil {
		return nil, err
	}

	sev, ok, err := n.str("severity")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, n.missing("severity")
	}
	spec.Severity = ir.Severity(sev)

	kind, ok, err := n.str("kind")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, n.missing("kind")
	}
	spec.Effect = ir.EffectKind(kind)

	conf, ok, err := n.number("confidence")
	if err != nil {
		return nil, err
	}
	if ok {
		spec.Confidence = &conf
	}

	trace, ok, err := n.str("trace")
	if err != nil {
		return nil, err
	}
	spec.Trace = ir.TraceNone
	if ok {
		spec.Trace = ir.TracePolicy(trace)
	}

	clauses, ok, err := n.list("match")
	if err != nil {
		return nil, err
	}
	if !ok || len(clauses) == 0 {
		return nil, n.missing("match")
	}
	for _, c := range clauses {
		clause, err := parseClause(c)
		if err != nil {
			return nil, err
		}
		spec.Clauses = append(spec.Clauses, clause)
	}
	return spec, nil
}

func parseClause(n node) (ir.MatchClauseSpec, error) {
	clause := ir.MatchClauseSpec{Entity: ir.EntityCall, Span: spanOf(n.v.Pos())}
	if err := n.checkFields(clauseFields); err != nil {
		return clause, err
	}

	entity, ok, err := n.str("entity")
	if err != nil {
		return clause, err
	}
	if ok {
		clause.Entity = ir.EntityKind(entity)
	}
	if clause.Type, _, err = n.str("type"); err != nil {
		return clause, err
	}
	if clause.Call, _, err = n.str("call"); err != nil {
		return clause, err
	}
	if clause.Guards, err = n.strs("guards"); err != nil {
		return clause, err
	}
	if clause.Taint, err = n.ints("taint"); err != nil {
		return clause, err
	}
	if clause.Fuzzy, _, err = n.integer("fuzzy"); err != nil {
		return clause, err
	}
	effect, _, err := n.str("kind")
	if err != nil {
		return clause, err
	}
	clause.Effect = ir.EffectKind(effect)

	args, _, err := n.list("args")
	if err != nil {
		return clause, err
	}
	for _, a := range args {
		spec, err := parseArgConstraint(a, false)
		if err != nil {
			return clause, err
		}
		clause.Args = append(clause.Args, spec)
	}

	kwargs, _, err := n.list("kwargs")
	if err != nil {
		return clause, err
	}
	for _, a := range kwargs {
		spec, err := parseArgConstraint(a, true)
		if err != nil {
			return clause, err
		}
		clause.Kwargs = append(clause.Kwargs, spec)
	}

	adjust, _, err := n.list("adjust")
	if err != nil {
		return clause, err
	}
	for _, a := range adjust {
		spec, err := parseAdjust(a)
		if err != nil {
			return clause, err
		}
		clause.Adjust = append(clause.Adjust, spec)
	}
	return clause, nil
}

func parseArgConstraint(n node, keyword bool) (ir.ArgConstraintSpec, error) {
	spec := ir.ArgConstraintSpec{Span: spanOf(n.v.Pos())}
	allowed := argFields
	if keyword {
		allowed = kwargFields
	}
	if err := n.checkFields(allowed); err != nil {
		return spec, err
	}

	if keyword {
		name, ok, err := n.str("name")
		if err != nil {
			return spec, err
		}
		if !ok || name == "" {
			return spec, n.missing("name")
		}
		spec.Name = name
	} else {
		pos, ok, err := n.integer("position")
		if err != nil {
			return spec, err
		}
		if !ok {
			return spec, n.missing("position")
		}
		spec.Position = pos
	}

	ref, _, err := n.str("constraint")
	if err != nil {
		return spec, err
	}
	spec.Ref = ref

	inline, err := decodeConstraint(n)
	if err != nil {
		return spec, err
	}
	if !inline.Empty() {
		spec.Inline = inline
	}
	if spec.Ref == "" && spec.Inline == nil {
		return spec, &CompileError{
			Code:    ErrEmptyClause,
			Field:   n.path,
			Message: "argument constraint has no constraint reference or inline fields",
			RuleID:  n.rule,
			Pos:     n.v.Pos(),
		}
	}
	return spec, nil
}

func parseConstraint(name string, n node) (*ir.ConstraintSpec, error) {
	if err := n.checkFields(constraintFields); err != nil {
		return nil, err
	}
	spec, err := decodeConstraint(n)
	if err != nil {
		return nil, err
	}
	spec.Name = name
	return spec, nil
}

// decodeConstraint reads the constraint fields shared by top-level
// constraints and inline argument constraints.
func decodeConstraint(n node) (*ir.ConstraintSpec, error) {
	spec := &ir.ConstraintSpec{Span: spanOf(n.v.Pos())}
	var err error
	if spec.Regex, _, err = n.str("regex"); err != nil {
		return nil, err
	}
	if spec.MinLen, _, err = n.integer("min_len"); err != nil {
		return nil, err
	}
	if spec.MaxLen, _, err = n.integer("max_len"); err != nil {
		return nil, err
	}
	if spec.Types, err = n.strs("types"); err != nil {
		return nil, err
	}
	if b, ok, err := n.boolean("literal"); err != nil {
		return nil, err
	} else if ok {
		spec.Literal = &b
	}
	if b, ok, err := n.boolean("tainted"); err != nil {
		return nil, err
	} else if ok {
		spec.Tainted = &b
	}
	return spec, nil
}

func parseGuard(name string, n node) (*ir.GuardSpec, error) {
	if err := n.checkFields(guardFields); err != nil {
		return nil, err
	}
	spec := &ir.GuardSpec{Name: name, Span: spanOf(n.v.Pos())}

	kind, ok, err := n.str("kind")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, n.missing("kind")
	}
	spec.Kind = ir.GuardKind(kind)

	if spec.Values, err = n.strs("values"); err != nil {
		return nil, err
	}
	if spec.Pattern, _, err = n.str("pattern"); err != nil {
		return nil, err
	}
	if spec.MaxLen, _, err = n.integer("max_len"); err != nil {
		return nil, err
	}
	if spec.Types, err = n.strs("types"); err != nil {
		return nil, err
	}
	if spec.Functions, err = n.strs("functions"); err != nil {
		return nil, err
	}
	strength, _, err := n.str("strength")
	if err != nil {
		return nil, err
	}
	spec.Strength = ir.Strength(strength)
	action, _, err := n.str("on_trigger")
	if err != nil {
		return nil, err
	}
	spec.OnTrigger = ir.GuardAction(action)

	if b, ok, err := n.boolean("fail_fast"); err != nil {
		return nil, err
	} else if ok {
		spec.FailFast = &b
	}
	if f, ok, err := n.number("multiplier"); err != nil {
		return nil, err
	} else if ok {
		spec.Multiplier = &f
	}
	if a, ok, err := n.integer("arg"); err != nil {
		return nil, err
	} else if ok {
		spec.Arg = &a
	}
	return spec, nil
}

func parseAdjust(n node) (ir.AdjustSpec, error) {
	spec := ir.AdjustSpec{Span: spanOf(n.v.Pos())}
	if err := n.checkFields(adjustFields); err != nil {
		return spec, err
	}
	when, ok, err := n.str("when")
	if err != nil {
		return spec, err
	}
	if !ok {
		return spec, n.missing("when")
	}
	spec.When = ir.AdjustCondition(when)

	factor, ok, err := n.number("factor")
	if err != nil {
		return spec, err
	}
	if !ok {
		return spec, n.missing("factor")
	}
	spec.Factor = factor

	if spec.Arg, _, err = n.integer("arg"); err != nil {
		return spec, err
	}
	if spec.Reason, _, err = n.str("reason"); err != nil {
		return spec, err
	}
	return spec, nil
}

// node is a CUE value with the field path used in error messages.
type node struct {
	v    cue.Value
	path string
	rule string
}

func (n node) at(name string) string {
	if n.path == "" {
		return name
	}
	return n.path + "." + name
}

func (n node) child(name string) (node, bool) {
	v := n.v.LookupPath(cue.MakePath(cue.Str(name)))
	if !v.Exists() {
		return node{}, false
	}
	return node{v: v, path: n.at(name), rule: n.rule}, true
}

func (n node) checkFields(allowed []string) error {
	iter, err := n.v.Fields()
	if err != nil {
		return n.wrongType("a struct")
	}
	for iter.Next() {
		name := selectorName(iter.Selector())
		if !slices.Contains(allowed, name) {
			return &CompileError{
				Code:    ErrUnknownField,
				Field:   n.at(name),
				Message: fmt.Sprintf("unknown field %q", name),
				RuleID:  n.rule,
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

func (n node) eachField(fn func(name string, child node)) error {
	iter, err := n.v.Fields()
	if err != nil {
		return n.wrongType("a struct")
	}
	for iter.Next() {
		name := selectorName(iter.Selector())
		fn(name, node{v: iter.Value(), path: n.at(name), rule: n.rule})
	}
	return nil
}

func (n node) str(name string) (string, bool, error) {
	c, ok := n.child(name)
	if !ok {
		return "", false, nil
	}
	s, err := c.v.String()
	if err != nil {
		return "", false, c.wrongType("a concrete string")
	}
	return s, true, nil
}

func (n node) integer(name string) (int, bool, error) {
	c, ok := n.child(name)
	if !ok {
		return 0, false, nil
	}
	i, err := c.v.Int64()
	if err != nil {
		return 0, false, c.wrongType("an integer")
	}
	return int(i), true, nil
}

func (n node) number(name string) (float64, bool, error) {
	c, ok := n.child(name)
	if !ok {
		return 0, false, nil
	}
	f, err := c.v.Float64()
	if err != nil {
		return 0, false, c.wrongType("a number")
	}
	return f, true, nil
}

func (n node) boolean(name string) (bool, bool, error) {
	c, ok := n.child(name)
	if !ok {
		return false, false, nil
	}
	b, err := c.v.Bool()
	if err != nil {
		return false, false, c.wrongType("a boolean")
	}
	return b, true, nil
}

func (n node) list(name string) ([]node, bool, error) {
	c, ok := n.child(name)
	if !ok {
		return nil, false, nil
	}
	iter, err := c.v.List()
	if err != nil {
		return nil, false, c.wrongType("a list")
	}
	var out []node
	for i := 0; iter.Next(); i++ {
		out = append(out, node{v: iter.Value(), path: fmt.Sprintf("%s[%d]", c.path, i), rule: n.rule})
	}
	return out, true, nil
}

func (n node) strs(name string) ([]string, error) {
	items, _, err := n.list(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, err := it.v.String()
		if err != nil {
			return nil, it.wrongType("a concrete string")
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (n node) ints(name string) ([]int, error) {
	items, _, err := n.list(name)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, it := range items {
		i, err := it.v.Int64()
		if err != nil {
			return nil, it.wrongType("an integer")
		}
		out = append(out, int(i))
	}
	return out, nil
}

func (n node) missing(name string) error {
	return &CompileError{
		Code:    ErrMissingRequired,
		Field:   n.at(name),
		Message: name + " is required",
		RuleID:  n.rule,
		Pos:     n.v.Pos(),
	}
}

func (n node) wrongType(want string) error {
	return &CompileError{
		Code:    ErrWrongType,
		Field:   n.path,
		Message: "must be " + want,
		RuleID:  n.rule,
		Pos:     n.v.Pos(),
	}
}

func selectorName(sel cue.Selector) string {
	if sel.LabelType() == cue.StringLabel && !sel.IsConstraint() {
		return sel.Unquoted()
	}
	return sel.String()
}
