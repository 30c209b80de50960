package engine

import "fmt"

// candidateBudget counts candidate evaluations for one run and enforces
// the executor's limit. A limit of zero or less disables the check.
type candidateBudget struct {
	limit   int
	current int
}

func newCandidateBudget(limit int) *candidateBudget {
	return &candidateBudget{limit: limit}
}

// spend records one candidate evaluation for executable.
func (b *candidateBudget) spend(executable string) error {
	b.current++
	if b.limit > 0 && b.current > b.limit {
		return &BudgetExceededError{
			Executable: executable,
			Candidates: b.current,
			Limit:      b.limit,
		}
	}
	return nil
}

// BudgetExceededError is returned when a run evaluates more candidates
// than WithMaxCandidates allows. The matches found before the limit are
// still returned.
type BudgetExceededError struct {
	Executable string
	Candidates int
	Limit      int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("candidate budget exceeded: %d > %d (executable=%s)",
		e.Candidates, e.Limit, e.Executable)
}
