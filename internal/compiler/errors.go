package compiler

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/trcr/internal/ir"
)

// Compilation error codes (E200-E299)
const (
	ErrSyntax              = "E200" // CUE syntax or evaluation error
	ErrUnknownField        = "E201" // field not part of the rule language
	ErrMissingRequired     = "E202" // required field absent
	ErrBadEnum             = "E203" // value outside an enumeration
	ErrBadPattern          = "E204" // malformed wildcard pattern
	ErrUndefinedGuard      = "E205" // guard reference not defined
	ErrUndefinedConstraint = "E206" // constraint reference not defined
	ErrBadRegex            = "E207" // regex does not compile
	ErrOutOfRange          = "E208" // number outside its allowed range
	ErrDuplicateID         = "E209" // rule id defined twice
	ErrFuzzyConfidence     = "E210" // fuzzy clause on a high-confidence rule
	ErrEmptyClause         = "E211" // clause constrains nothing
	ErrWrongType           = "E212" // value has the wrong CUE kind
)

// CompileError is a rule-author-facing error with a source position.
//
// Parse errors carry the CUE position in Pos. Semantic errors found after
// decoding carry the spec node's span in At instead.
type CompileError struct {
	Code    string
	Field   string
	Message string
	RuleID  string
	Pos     token.Pos
	At      ir.Span
}

func (e *CompileError) Error() string {
	if span := e.Span(); span.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: [%s] %s: %s",
			span.File, span.Line, span.Col, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Span returns the error location.
func (e *CompileError) Span() ir.Span {
	if e.Pos.IsValid() {
		return spanOf(e.Pos)
	}
	return e.At
}

// IsCompileError reports whether err wraps a CompileError.
func IsCompileError(err error) (*CompileError, bool) {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func spanOf(pos token.Pos) ir.Span {
	if !pos.IsValid() {
		return ir.Span{}
	}
	return ir.Span{File: pos.Filename(), Line: pos.Line(), Col: pos.Column()}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error, field string) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Code: ErrSyntax, Field: field, Message: err.Error()}
	}
	first := errs[0]
	ce := &CompileError{Code: ErrSyntax, Field: field, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
