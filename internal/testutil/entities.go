package testutil

import (
	"github.com/roach88/trcr/internal/corpus"
	"github.com/roach88/trcr/internal/ir"
)

// Call builds a method call entity typ.name(args...).
func Call(id, typ, name string, args ...ir.Arg) *corpus.Entity {
	return &corpus.Entity{EntityID: id, EntityKind: ir.EntityCall, Type: &typ, Name: &name, Arguments: args}
}

// Func builds a call entity with no receiver type, like eval(x).
func Func(id, name string, args ...ir.Arg) *corpus.Entity {
	return &corpus.Entity{EntityID: id, EntityKind: ir.EntityCall, Name: &name, Arguments: args}
}

// Read builds a property read typ.prop.
func Read(id, typ, prop string) *corpus.Entity {
	return &corpus.Entity{EntityID: id, EntityKind: ir.EntityRead, Type: &typ, Name: &prop}
}

// Assign builds an assignment typ.member = args[0].
func Assign(id, typ, member string, args ...ir.Arg) *corpus.Entity {
	return &corpus.Entity{EntityID: id, EntityKind: ir.EntityAssign, Type: &typ, Name: &member, Arguments: args}
}

// Tainted is a positional argument carrying untrusted data.
func Tainted(value string) ir.Arg {
	return ir.Arg{Value: value, Tainted: true}
}

// Literal is a positional constant argument of the given type category.
func Literal(value, typeCategory string) ir.Arg {
	return ir.Arg{Value: value, Literal: true, TypeCategory: typeCategory}
}

// Kw turns a into the keyword argument name=a.
func Kw(name string, a ir.Arg) ir.Arg {
	a.Name = name
	return a
}

// Wrapped records that a flowed through fns, innermost first.
func Wrapped(a ir.Arg, fns ...string) ir.Arg {
	a.Wrappers = append(append([]string(nil), a.Wrappers...), fns...)
	return a
}

// Entities converts builders to the ir.Entity view.
func Entities(es ...*corpus.Entity) []ir.Entity {
	return corpus.Entities(es)
}
