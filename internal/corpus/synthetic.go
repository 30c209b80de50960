package corpus

import (
	"fmt"
	"math/rand/v2"

	"github.com/roach88/trcr/internal/ir"
)

var fillerVerbs = []string{"compute", "parse", "emit", "merge", "scale", "route", "fold", "notify"}

var fillerKinds = []ir.EntityKind{ir.EntityCall, ir.EntityCall, ir.EntityCall, ir.EntityRead, ir.EntityAssign}

// Synthetic returns n filler entities, identical for equal (n, seed).
//
// Filler names and types are drawn from a vocabulary that none of the core
// rules match, so a corpus can be padded to size without changing which
// entities a rule set reports.
func Synthetic(n int, seed uint64) []*Entity {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]*Entity, n)
	for i := range out {
		typ := fmt.Sprintf("pkg%02d.Widget%02d", rng.IntN(50), rng.IntN(20))
		name := fmt.Sprintf("%s_%d", fillerVerbs[rng.IntN(len(fillerVerbs))], rng.IntN(1000))
		e := &Entity{
			EntityID:   fmt.Sprintf("synthetic:%d", i),
			EntityKind: fillerKinds[rng.IntN(len(fillerKinds))],
			Type:       &typ,
			Name:       &name,
		}
		for j := range rng.IntN(3) {
			e.Arguments = append(e.Arguments, ir.Arg{
				Value:   fmt.Sprintf("v%d", j),
				Literal: rng.IntN(2) == 0,
				Tainted: rng.IntN(4) == 0,
			})
		}
		out[i] = e
	}
	return out
}

// Entities converts fixtures to the ir.Entity view.
func Entities(es []*Entity) []ir.Entity {
	out := make([]ir.Entity, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}
