// Package store persists runs and their ranked matches in SQLite.
//
// A run row records what was executed (rule set hash, corpus hash) and
// what came out (matches hash, count, status); match rows hold the ranked
// list in order. Together they let a later process audit a run or replay
// it and check that the same inputs still produce the same output.
//
// # Ordering
//
//   - Runs are ordered by seq, a logical counter assigned on write
//   - Matches are ordered by seq, their rank within the run
//   - Every query carries an explicit ORDER BY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// String lists (CWE ids, tags, taint positions) are stored as RFC 8785
// canonical JSON.
package store
