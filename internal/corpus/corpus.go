// Package corpus loads entity fixtures from YAML.
//
// A corpus file stands in for the upstream analysis pipeline: it lists the
// calls, reads and assignments a rule set is matched against.
//
//	entities:
//	  - id: app.py:12:4
//	    kind: call
//	    type: sqlite3.Cursor
//	    name: execute
//	    args:
//	      - value: query
//	        tainted: true
package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/trcr/internal/ir"
)

// Entity is a fixture entity. It implements ir.Entity.
type Entity struct {
	EntityID   string        `yaml:"id"`
	EntityKind ir.EntityKind `yaml:"kind"`
	Type       *string       `yaml:"type,omitempty"`
	Name       *string       `yaml:"name,omitempty"`
	Arguments  []ir.Arg      `yaml:"args,omitempty"`
}

func (e *Entity) ID() string          { return e.EntityID }
func (e *Entity) Kind() ir.EntityKind { return e.EntityKind }
func (e *Entity) Args() []ir.Arg      { return e.Arguments }

func (e *Entity) BaseType() (string, bool) {
	if e.Type == nil {
		return "", false
	}
	return *e.Type, true
}

func (e *Entity) CallName() (string, bool) {
	if e.Name == nil {
		return "", false
	}
	return *e.Name, true
}

// File is the on-disk corpus layout.
type File struct {
	Entities []*Entity `yaml:"entities"`
}

// Load reads a corpus file.
func Load(path string) ([]ir.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	es, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("corpus %s: %w", path, err)
	}
	return es, nil
}

// Decode parses a corpus document. Unknown fields, missing ids, duplicate
// ids and unknown entity kinds are errors.
func Decode(r io.Reader) ([]ir.Entity, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse corpus: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	out := make([]ir.Entity, len(f.Entities))
	for i, e := range f.Entities {
		out[i] = e
	}
	return out, nil
}

// Validate checks entity ids and kinds.
func (f *File) Validate() error {
	seen := make(map[string]int, len(f.Entities))
	for i, e := range f.Entities {
		if e == nil {
			return fmt.Errorf("entities[%d]: empty entry", i)
		}
		if e.EntityID == "" {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		if prev, ok := seen[e.EntityID]; ok {
			return fmt.Errorf("entities[%d]: duplicate id %q (first at entities[%d])", i, e.EntityID, prev)
		}
		seen[e.EntityID] = i
		if e.EntityKind == "" {
			e.EntityKind = ir.EntityCall
		}
		if !ir.ValidEntityKinds[e.EntityKind] {
			return fmt.Errorf("entities[%d] %q: unknown kind %q", i, e.EntityID, e.EntityKind)
		}
	}
	return nil
}

// Encode writes entities in the corpus layout.
func Encode(w io.Writer, es []*Entity) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{Entities: es}); err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	return enc.Close()
}
