package ir

import "fmt"

// EntityKind is the shape of a code construct a rule can match.
type EntityKind string

const (
	EntityCall   EntityKind = "call"
	EntityRead   EntityKind = "read"
	EntityAssign EntityKind = "assign"
)

// ValidEntityKinds defines allowed entity kinds.
var ValidEntityKinds = map[EntityKind]bool{
	EntityCall:   true,
	EntityRead:   true,
	EntityAssign: true,
}

// Arg is one argument of an entity, positional or keyword.
//
// Keyword arguments carry a non-empty Name. Wrappers lists the calls the
// value flowed through before reaching the entity, innermost first
// (e.g. ["html.escape"] for f(html.escape(x))).
type Arg struct {
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	Value        string   `json:"value" yaml:"value"`
	Literal      bool     `json:"literal,omitempty" yaml:"literal,omitempty"`
	TypeCategory string   `json:"type,omitempty" yaml:"type,omitempty"`
	Tainted      bool     `json:"tainted,omitempty" yaml:"tainted,omitempty"`
	Wrappers     []string `json:"wrappers,omitempty" yaml:"wrappers,omitempty"`
}

// Entity is the read-only view of a code construct produced by the
// upstream analysis pipeline.
//
// For read entities CallName is the property name; for assign entities it
// is the assigned member. Implementations must be safe for concurrent reads.
type Entity interface {
	ID() string
	Kind() EntityKind
	BaseType() (string, bool)
	CallName() (string, bool)
	Args() []Arg
}

// Positional returns the positional arguments of e, keyword args excluded.
func Positional(e Entity) []Arg {
	all := e.Args()
	out := make([]Arg, 0, len(all))
	for _, a := range all {
		if a.Name == "" {
			out = append(out, a)
		}
	}
	return out
}

// ArgAt returns the positional argument at pos.
func ArgAt(e Entity, pos int) (Arg, bool) {
	if pos < 0 {
		return Arg{}, false
	}
	i := 0
	for _, a := range e.Args() {
		if a.Name != "" {
			continue
		}
		if i == pos {
			return a, true
		}
		i++
	}
	return Arg{}, false
}

// Kwarg returns the keyword argument called name.
func Kwarg(e Entity, name string) (Arg, bool) {
	for _, a := range e.Args() {
		if a.Name == name {
			return a, true
		}
	}
	return Arg{}, false
}

// QualifiedName renders "base.name" for display, or just the name.
func QualifiedName(e Entity) string {
	name, _ := e.CallName()
	if base, ok := e.BaseType(); ok && base != "" {
		return fmt.Sprintf("%s.%s", base, name)
	}
	return name
}

// EntityFingerprint computes a content hash over everything a predicate or
// guard can observe. Two entities with the same ID and fingerprint are
// interchangeable for matching purposes.
func EntityFingerprint(e Entity) (string, error) {
	obj := IRObject{
		"id":   IRString(e.ID()),
		"kind": IRString(e.Kind()),
	}
	if base, ok := e.BaseType(); ok {
		obj["base_type"] = IRString(base)
	}
	if name, ok := e.CallName(); ok {
		obj["call_name"] = IRString(name)
	}

	args := e.Args()
	arr := make(IRArray, len(args))
	for i, a := range args {
		wrappers := make(IRArray, len(a.Wrappers))
		for j, w := range a.Wrappers {
			wrappers[j] = IRString(w)
		}
		arr[i] = IRObject{
			"name":     IRString(a.Name),
			"value":    IRString(a.Value),
			"literal":  IRBool(a.Literal),
			"type":     IRString(a.TypeCategory),
			"tainted":  IRBool(a.Tainted),
			"wrappers": wrappers,
		}
	}
	obj["args"] = arr

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EntityFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntity, canonical), nil
}
