// Package index retrieves candidate entities for a candidate generator.
//
// Every index kind answers a CandidateGeneratorIR with the entities that
// might satisfy it, in entity insertion order:
//
//   - exact: (kind, type, name), (kind, name) and (kind, type) hash lookups
//   - prefix, suffix: rune tries over the type and name fields
//   - trigram: inverted trigram postings with substring verification
//   - fuzzy: name buckets by rune length, verified by edit distance
//   - scan: every entity
//
// MultiIndex is built once over a caller-owned entity slice and is safe
// for concurrent queries. IncrementalIndex accepts Add and Remove and
// always answers exactly what a rebuild over its live entities would.
package index
