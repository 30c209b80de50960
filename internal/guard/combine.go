package guard

import "github.com/roach88/trcr/internal/ir"

// Combined is the joint effect of a clause's guards.
type Combined struct {
	// Multiplier is the product of every applied guard's multiplier.
	Multiplier float64
	// Suppressed means a fail-fast guard removed the match.
	Suppressed bool
	// Downgraded means a fail-fast guard lowered the severity one level.
	Downgraded bool
	// Strong is set when a triggered guard was a strong sanitizer.
	Strong bool
	// FailFast is set when evaluation stopped at a fail-fast guard.
	FailFast bool
	// Applied lists every evaluated guard in order.
	Applied []Result
}

// Combine evaluates guards in order. Multipliers of triggered guards
// multiply together. The first triggered fail-fast guard stops the
// evaluation: with action suppress the match is dropped, with downgrade
// its multiplier still applies and the severity drops one level.
func Combine(guards []ir.GuardIR, ctx Context) Combined {
	out := Combined{Multiplier: 1}
	for _, g := range guards {
		r := Evaluate(g, ctx)
		out.Applied = append(out.Applied, r)
		if !r.Triggered {
			continue
		}
		if r.Strong {
			out.Strong = true
		}
		if r.FailFast {
			out.FailFast = true
			if r.Action == ir.ActionSuppress {
				out.Suppressed = true
				out.Multiplier = 0
				return out
			}
			out.Downgraded = true
			out.Multiplier *= r.Multiplier
			return out
		}
		out.Multiplier *= r.Multiplier
	}
	return out
}

// CombinedMultiplier is the confidence multiplier of guards on ctx.
func CombinedMultiplier(guards []ir.GuardIR, ctx Context) float64 {
	return Combine(guards, ctx).Multiplier
}

// HasStrongGuard reports whether any guard is a strong sanitizer.
func HasStrongGuard(guards []ir.GuardIR) bool {
	for _, g := range guards {
		if IsStrong(g) {
			return true
		}
	}
	return false
}

// HasFailFastGuard reports whether any guard short-circuits.
func HasFailFastGuard(guards []ir.GuardIR) bool {
	for _, g := range guards {
		if g.Meta().FailFast {
			return true
		}
	}
	return false
}
