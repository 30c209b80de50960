// Package optimizer turns per-clause ExecIRs into merged, immutable
// executables.
//
// The pipeline is fixed: Normalize, Prune, Reorder, Merge. Each pass is a
// pure function that copies any ExecIR it rewrites, so inputs are never
// mutated, and each pass is idempotent: applying it to its own output
// changes nothing.
package optimizer

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/trcr/internal/ir"
)

// Normalize categorizes raw wildcard patterns (collapsing runs of '*').
// Patterns that fail to parse are left raw; the compiler rejects them
// before they get here.
func Normalize(xs []*ir.TaintRuleExecIR) []*ir.TaintRuleExecIR {
	out := make([]*ir.TaintRuleExecIR, len(xs))
	for i, x := range xs {
		c := x.Clone()
		for j, p := range c.PredicateChain {
			c.PredicateChain[j] = normalizePredicate(p)
		}
		out[i] = c
	}
	return out
}

func normalizePredicate(p ir.PredicateIR) ir.PredicateIR {
	switch v := p.(type) {
	case ir.TypeMatches:
		if n, err := v.Pattern.Normalized(); err == nil {
			v.Pattern = n
		}
		return v
	case ir.NameMatches:
		if n, err := v.Pattern.Normalized(); err == nil {
			v.Pattern = n
		}
		return v
	default:
		return p
	}
}

// Prune drops predicates that are provably redundant: always-true checks
// and exact duplicates. The entity kind check is never dropped.
func Prune(xs []*ir.TaintRuleExecIR) []*ir.TaintRuleExecIR {
	out := make([]*ir.TaintRuleExecIR, len(xs))
	for i, x := range xs {
		c := x.Clone()
		seen := make(map[string]bool, len(c.PredicateChain))
		kept := c.PredicateChain[:0]
		for _, p := range c.PredicateChain {
			if _, isKind := p.(ir.KindIs); !isKind && ir.AlwaysTrue(p) {
				continue
			}
			if seen[p.Key()] {
				continue
			}
			seen[p.Key()] = true
			kept = append(kept, p)
		}
		c.PredicateChain = kept
		out[i] = c
	}
	return out
}

// Reorder sorts each chain by ascending cost, breaking ties by descending
// selectivity and then by key.
func Reorder(xs []*ir.TaintRuleExecIR) []*ir.TaintRuleExecIR {
	out := make([]*ir.TaintRuleExecIR, len(xs))
	for i, x := range xs {
		c := x.Clone()
		slices.SortStableFunc(c.PredicateChain, comparePredicates)
		out[i] = c
	}
	return out
}

func comparePredicates(a, b ir.PredicateIR) int {
	if c := cmp.Compare(a.Cost(), b.Cost()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Selectivity(), a.Selectivity()); c != 0 {
		return c
	}
	return strings.Compare(a.Key(), b.Key())
}

// Merge groups clauses that share a primary generator and fuzzy
// alternates into one executable dispatching to each clause's predicate
// chain, so the primary lookup runs once per group. The merged fallback
// alternates are those every clause in the group carries; scan ends
// every plan, so the fallback always covers each dispatched clause.
//
// Executables are ordered by best dispatched tier, then primary
// generator cost, then plan key; dispatch lists by atom id.
func Merge(xs []*ir.TaintRuleExecIR) ([]*ir.TaintRuleExecutableIR, error) {
	type group struct {
		primary ir.CandidateGeneratorIR
		fuzzy   []ir.CandidateGeneratorIR
		clauses []*ir.TaintRuleExecIR
	}
	groups := make(map[string]*group)
	var keys []string
	for _, x := range xs {
		primary := x.Primary()
		var fuzzy []ir.CandidateGeneratorIR
		for _, g := range x.CandidatePlan {
			if g.IsFuzzy() {
				fuzzy = append(fuzzy, g)
			}
		}
		slices.SortFunc(fuzzy, compareGenerators)

		key := ir.PlanKey(primary, fuzzy)
		grp, ok := groups[key]
		if !ok {
			grp = &group{primary: primary, fuzzy: fuzzy}
			groups[key] = grp
			keys = append(keys, key)
		}
		if !slices.ContainsFunc(grp.clauses, func(d *ir.TaintRuleExecIR) bool { return d.ID == x.ID }) {
			grp.clauses = append(grp.clauses, x)
		}
	}

	out := make([]*ir.TaintRuleExecutableIR, 0, len(groups))
	for _, key := range keys {
		grp := groups[key]
		slices.SortFunc(grp.clauses, func(a, b *ir.TaintRuleExecIR) int {
			return strings.Compare(a.ID, b.ID)
		})
		e := &ir.TaintRuleExecutableIR{
			Generator:  grp.primary,
			Alternates: append(sharedFallbacks(grp.primary, grp.clauses), grp.fuzzy...),
			Dispatch:   grp.clauses,
		}
		hashes := make([]string, len(e.Dispatch))
		for i, d := range e.Dispatch {
			h, err := ir.PlanHash(d)
			if err != nil {
				return nil, fmt.Errorf("merge %s: %w", d.ID, err)
			}
			hashes[i] = h
		}
		id, err := ir.ExecutableID(e.PlanKey(), hashes)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", key, err)
		}
		e.ID = id
		out = append(out, e)
	}

	slices.SortFunc(out, func(a, b *ir.TaintRuleExecutableIR) int {
		if c := cmp.Compare(a.Tier().Rank(), b.Tier().Rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Cost(), b.Cost()); c != 0 {
			return c
		}
		return strings.Compare(a.PlanKey(), b.PlanKey())
	})
	return out, nil
}

// sharedFallbacks returns the non-fuzzy generators other than primary
// that appear in every clause's plan, ordered by cost then id.
func sharedFallbacks(primary ir.CandidateGeneratorIR, clauses []*ir.TaintRuleExecIR) []ir.CandidateGeneratorIR {
	counts := make(map[string]int)
	byID := make(map[string]ir.CandidateGeneratorIR)
	for _, d := range clauses {
		seen := make(map[string]bool)
		for _, g := range d.CandidatePlan {
			id := g.ID()
			if g.IsFuzzy() || id == primary.ID() || seen[id] {
				continue
			}
			seen[id] = true
			counts[id]++
			byID[id] = g
		}
	}

	var out []ir.CandidateGeneratorIR
	for id, n := range counts {
		if n == len(clauses) {
			out = append(out, byID[id])
		}
	}
	slices.SortFunc(out, compareGenerators)
	return out
}

func compareGenerators(a, b ir.CandidateGeneratorIR) int {
	if c := cmp.Compare(a.Cost, b.Cost); c != 0 {
		return c
	}
	return strings.Compare(a.ID(), b.ID())
}

// Flatten returns the ExecIRs an executable set dispatches to, in order.
func Flatten(es []*ir.TaintRuleExecutableIR) []*ir.TaintRuleExecIR {
	var out []*ir.TaintRuleExecIR
	for _, e := range es {
		out = append(out, e.Dispatch...)
	}
	return out
}

// Passes runs Normalize, Prune and Reorder.
func Passes(xs []*ir.TaintRuleExecIR) []*ir.TaintRuleExecIR {
	return Reorder(Prune(Normalize(xs)))
}

// Run executes the full pipeline and validates every resulting ExecIR.
func Run(xs []*ir.TaintRuleExecIR) ([]*ir.TaintRuleExecutableIR, error) {
	optimized := Passes(xs)
	for _, x := range optimized {
		if err := x.Validate(); err != nil {
			return nil, err
		}
	}
	return Merge(optimized)
}
