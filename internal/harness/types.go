package harness

import (
	"github.com/roach88/trcr/internal/engine"
	"github.com/roach88/trcr/internal/ir"
	"github.com/roach88/trcr/internal/store"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// RunID identifies the first execution.
	RunID string `json:"run_id"`

	// Matches is the ranked match list of the first execution.
	Matches []ir.Match `json:"matches"`

	// CompileErrors are the rule compilation errors, rendered.
	CompileErrors []string `json:"compile_errors,omitempty"`

	// CompileCodes are the codes of CompileErrors, in the same order.
	CompileCodes []string `json:"-"`

	// Stats are the executor counters of the first execution.
	Stats engine.Stats `json:"stats"`

	// IndexQueries counts index queries per kind across both executions.
	IndexQueries map[ir.IndexKind]int64 `json:"index_queries"`

	// Replay compares the cached re-execution with the stored run.
	Replay *store.ReplayResult `json:"-"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:         true,
		Matches:      []ir.Match{},
		IndexQueries: make(map[ir.IndexKind]int64),
		Errors:       []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
