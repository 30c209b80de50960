// Package ir provides the canonical types shared by the TRCR compiler,
// optimizer, index layer and runtime.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps IR
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Spec, ExecIR and ExecutableIR values are immutable once built and are
//     shared read-only across concurrent executions
//   - PredicateIR and GuardIR are sealed unions; consumers dispatch with
//     exhaustive type switches
//   - Canonical serialization has no floats: confidence is encoded as
//     integer parts-per-million
//   - All JSON tags use snake_case
package ir
