package index

import "github.com/roach88/trcr/internal/ir"

// fields are the normalized index keys of one entity.
type fields struct {
	kind    ir.EntityKind
	typ     string
	name    string
	hasType bool
	hasName bool
}

func extract(e ir.Entity) fields {
	f := fields{kind: e.Kind()}
	if t, ok := e.BaseType(); ok {
		f.typ, f.hasType = ir.NormalizeKey(t), true
	}
	if n, ok := e.CallName(); ok {
		f.name, f.hasName = ir.NormalizeKey(n), true
	}
	return f
}

// field returns the key for a generator field.
func (f fields) field(which ir.Field) (string, bool) {
	switch which {
	case ir.FieldType:
		return f.typ, f.hasType
	case ir.FieldName:
		return f.name, f.hasName
	default:
		return "", false
	}
}

// table is the position-addressed entity store the indexes post into.
// Positions only grow, so posting lists built by appending stay sorted.
type table struct {
	entities []ir.Entity
	fields   []fields
	dead     []bool
	live     int
}

func newTable(entities []ir.Entity) *table {
	t := &table{
		entities: entities,
		fields:   make([]fields, len(entities)),
		live:     len(entities),
	}
	for i, e := range entities {
		t.fields[i] = extract(e)
	}
	return t
}

func (t *table) append(e ir.Entity) int {
	t.entities = append(t.entities, e)
	t.fields = append(t.fields, extract(e))
	if t.dead != nil {
		t.dead = append(t.dead, false)
	}
	t.live++
	return len(t.entities) - 1
}

func (t *table) kill(pos int) {
	if t.dead == nil {
		t.dead = make([]bool, len(t.entities))
	}
	t.dead[pos] = true
	t.live--
}

func (t *table) alive(pos int) bool {
	return t.dead == nil || !t.dead[pos]
}

func (t *table) resolve(positions []int) []ir.Entity {
	out := make([]ir.Entity, 0, len(positions))
	for _, p := range positions {
		if t.alive(p) {
			out = append(out, t.entities[p])
		}
	}
	return out
}

// liveEntities returns the live entities in insertion order.
func (t *table) liveEntities() []ir.Entity {
	out := make([]ir.Entity, 0, t.live)
	for i, e := range t.entities {
		if t.alive(i) {
			out = append(out, e)
		}
	}
	return out
}
