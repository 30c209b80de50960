package engine

import (
	"errors"
	"fmt"
)

// ExecutionError is a failure detected while running a rule set.
type ExecutionError struct {
	// Code identifies the error category.
	Code ExecutionErrorCode

	// Message is a human-readable description.
	Message string

	// AtomID identifies the offending clause, when there is one.
	AtomID string

	// Details contains additional context.
	Details map[string]string
}

// ExecutionErrorCode categorizes execution errors.
type ExecutionErrorCode string

const (
	// ErrCodeInvalidPlan means an executable failed structural validation.
	ErrCodeInvalidPlan ExecutionErrorCode = "INVALID_PLAN"

	// ErrCodeInvalidConfidence means a confidence computed to NaN or Inf.
	ErrCodeInvalidConfidence ExecutionErrorCode = "INVALID_CONFIDENCE"

	// ErrCodeContextReused means a MatchContext was passed to a second run.
	ErrCodeContextReused ExecutionErrorCode = "CONTEXT_REUSED"

	// ErrCodeBudgetExceeded means the run evaluated more candidates than allowed.
	ErrCodeBudgetExceeded ExecutionErrorCode = "BUDGET_EXCEEDED"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.AtomID != "" {
		return fmt.Sprintf("%s: %s (atom=%s)", e.Code, e.Message, e.AtomID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsExecutionError returns true if err wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsBudgetError returns true if the error is a candidate budget error.
// Matches both ExecutionError with ErrCodeBudgetExceeded and
// BudgetExceededError.
func IsBudgetError(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeBudgetExceeded
	}
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// ErrorCode returns the code of the ExecutionError wrapped by err, or "".
func ErrorCode(err error) ExecutionErrorCode {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var be *BudgetExceededError
	if errors.As(err, &be) {
		return ErrCodeBudgetExceeded
	}
	return ""
}
