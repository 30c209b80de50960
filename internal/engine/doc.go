// Package engine runs compiled taint rules against an indexed corpus.
//
// An Executor is built once and reused; it holds only configuration and
// an optional MatchCache, so concurrent Execute calls are safe as long as
// each uses its own MatchContext.
//
// Executables run in the order given; the optimizer puts tier1 first.
// For every executable the engine:
//
//  1. asks the index for candidates through the primary generator, or the
//     cheapest supported alternate, and unions in any fuzzy alternates
//  2. drops candidates of the wrong entity kind before anything else
//  3. consults the match cache, keyed by (entity id, atom id) and pinned
//     to the entity fingerprint and the clause plan hash
//  4. evaluates the predicate chain in order, stopping at the first miss
//  5. applies confidence adjustments and guard multipliers
//
// Results are deduplicated per (rule, entity), keeping the best ranked
// match, and returned in ranking order: specificity desc, confidence desc,
// then rule id, atom id and entity id. Equal inputs produce byte-identical
// canonical output regardless of map iteration or scheduling.
//
// Cancellation is checked between candidates. A cancelled run returns the
// matches found so far, ranked, together with an error wrapping ctx.Err().
package engine
