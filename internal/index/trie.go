package index

import (
	"slices"

	"github.com/roach88/trcr/internal/ir"
)

type trieNode struct {
	children map[rune]*trieNode
	here     []int
}

// trie indexes keys by prefix. A reversed trie stores keys back to front
// and so answers suffix queries.
type trie struct {
	root     *trieNode
	reversed bool
}

func newTrie(reversed bool) *trie {
	return &trie{root: &trieNode{}, reversed: reversed}
}

func (t *trie) runes(key string) []rune {
	r := []rune(key)
	if t.reversed {
		slices.Reverse(r)
	}
	return r
}

func (t *trie) insert(key string, pos int) {
	n := t.root
	for _, r := range t.runes(key) {
		next, ok := n.children[r]
		if !ok {
			if n.children == nil {
				n.children = make(map[rune]*trieNode)
			}
			next = &trieNode{}
			n.children[r] = next
		}
		n = next
	}
	n.here = appendPos(n.here, pos)
}

func (t *trie) delete(key string, pos int) {
	n := t.root
	path := []*trieNode{n}
	rs := t.runes(key)
	for _, r := range rs {
		next, ok := n.children[r]
		if !ok {
			return
		}
		n = next
		path = append(path, n)
	}
	n.here = removePos(n.here, pos)

	// Prune empty branches back toward the root.
	for i := len(rs) - 1; i >= 0; i-- {
		child := path[i+1]
		if len(child.here) > 0 || len(child.children) > 0 {
			break
		}
		delete(path[i].children, rs[i])
	}
}

// withPrefix returns the ascending positions of every key starting with
// prefix (ending with it, for a reversed trie).
func (t *trie) withPrefix(prefix string) []int {
	n := t.root
	for _, r := range t.runes(prefix) {
		next, ok := n.children[r]
		if !ok {
			return nil
		}
		n = next
	}
	var out []int
	stack := []*trieNode{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur.here...)
		for _, c := range cur.children {
			stack = append(stack, c)
		}
	}
	slices.Sort(out)
	return out
}

// triePair holds one trie per indexed field.
type triePair struct {
	typ  *trie
	name *trie
}

func newTriePair(reversed bool) *triePair {
	return &triePair{typ: newTrie(reversed), name: newTrie(reversed)}
}

func (p *triePair) insert(pos int, f fields) {
	if f.hasType {
		p.typ.insert(f.typ, pos)
	}
	if f.hasName {
		p.name.insert(f.name, pos)
	}
}

func (p *triePair) delete(pos int, f fields) {
	if f.hasType {
		p.typ.delete(f.typ, pos)
	}
	if f.hasName {
		p.name.delete(f.name, pos)
	}
}

func (p *triePair) lookup(_ *table, g ir.CandidateGeneratorIR) []int {
	switch g.Field {
	case ir.FieldType:
		return p.typ.withPrefix(ir.NormalizeKey(g.Key))
	case ir.FieldName:
		return p.name.withPrefix(ir.NormalizeKey(g.Key))
	default:
		return nil
	}
}
