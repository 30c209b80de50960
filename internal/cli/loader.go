package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/trcr/internal/compiler"
	"github.com/roach88/trcr/internal/corpus"
	"github.com/roach88/trcr/internal/ir"
)

// Error codes for failures outside the rule language. Rule errors carry
// the compiler's E2xx codes.
const (
	ErrCodeGeneric   = "E001" // unclassified failure
	ErrCodeNotFound  = "E002" // rule, corpus or database path missing
	ErrCodeReadError = "E003" // path exists but could not be read
	ErrCodeCorpus    = "E004" // corpus document invalid
	ErrCodeStore     = "E005" // database open, read or write failed
	ErrCodeNoRun     = "E006" // run id not in the database
	ErrCodeExecution = "E007" // engine refused or aborted the run
)

// LoadError is a failure to read rule or corpus inputs.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// CompileFlags are the compiler knobs shared by compile, validate, run
// and replay.
type CompileFlags struct {
	Tier1Min int
	Tier2Min int
}

func addCompileFlags(cmd *cobra.Command, f *CompileFlags) {
	cmd.Flags().IntVar(&f.Tier1Min, "tier1-min", compiler.DefaultTierThresholds.Tier1Min,
		"minimum specificity for tier1")
	cmd.Flags().IntVar(&f.Tier2Min, "tier2-min", compiler.DefaultTierThresholds.Tier2Min,
		"minimum specificity for tier2")
}

func (f CompileFlags) options() []compiler.Option {
	return []compiler.Option{compiler.WithTierThresholds(compiler.TierThresholds{
		Tier1Min: f.Tier1Min,
		Tier2Min: f.Tier2Min,
	})}
}

// LoadResult is a compiled rule set and where it came from.
type LoadResult struct {
	Paths    []string
	Sources  []compiler.Source
	Compiled *compiler.Result
}

// rulePaths defaults an empty argument list to the core rules.
func rulePaths(args []string) []string {
	if len(args) == 0 {
		return []string{compiler.CoreRules}
	}
	return args
}

// LoadRules reads and compiles the rule documents at paths. Rule errors
// are returned inside the result; the error return covers unreadable
// inputs and cancellation.
func LoadRules(ctx context.Context, paths []string, flags CompileFlags) (*LoadResult, error) {
	sources, err := compiler.ReadSources(paths...)
	if err != nil {
		code := ErrCodeReadError
		if errors.Is(err, fs.ErrNotExist) {
			code = ErrCodeNotFound
		}
		return nil, &LoadError{Code: code, Message: err.Error(), Err: err}
	}
	slog.Debug("rule sources read", "paths", paths, "sources", len(sources))

	compiled, err := compiler.CompileAll(ctx, sources, flags.options()...)
	if err != nil {
		return nil, err
	}
	slog.Debug("rules compiled",
		"rules", len(compiled.Rules),
		"executables", len(compiled.Executables),
		"errors", len(compiled.Errors))
	return &LoadResult{Paths: paths, Sources: sources, Compiled: compiled}, nil
}

// LoadCorpus reads a corpus file.
func LoadCorpus(path string) ([]ir.Entity, error) {
	es, err := corpus.Load(path)
	if err != nil {
		code := ErrCodeCorpus
		if errors.Is(err, fs.ErrNotExist) {
			code = ErrCodeNotFound
		}
		return nil, &LoadError{Code: code, Message: err.Error(), Err: err}
	}
	slog.Debug("corpus loaded", "path", path, "entities", len(es))
	return es, nil
}

func statFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		code := ErrCodeReadError
		if errors.Is(err, fs.ErrNotExist) {
			code = ErrCodeNotFound
		}
		return nil, &LoadError{Code: code, Message: err.Error(), Err: err}
	}
	return info, nil
}

// Issue is one rule error in output form.
type Issue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Col     int    `json:"col,omitempty"`
}

func issueOf(err error) Issue {
	ce, ok := compiler.IsCompileError(err)
	if !ok {
		return Issue{Code: ErrCodeGeneric, Message: err.Error()}
	}
	span := ce.Span()
	return Issue{
		Code:    ce.Code,
		Field:   ce.Field,
		RuleID:  ce.RuleID,
		Message: ce.Message,
		File:    span.File,
		Line:    span.Line,
		Col:     span.Col,
	}
}

func issuesOf(errs []error) []Issue {
	out := make([]Issue, len(errs))
	for i, err := range errs {
		out[i] = issueOf(err)
	}
	return out
}

// String renders the issue as "file:line:col: [code] field: message".
func (i Issue) String() string {
	msg := i.Message
	if i.Field != "" {
		msg = i.Field + ": " + msg
	}
	if i.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: [%s] %s", i.File, i.Line, i.Col, i.Code, msg)
	}
	return fmt.Sprintf("[%s] %s", i.Code, msg)
}

// loadErrorCode maps a load failure to its output code.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}

// commandError reports err through the formatter and returns the
// matching exit error. An empty code is taken from err.
func commandError(f *OutputFormatter, code, message string, err error) error {
	if code == "" {
		code = loadErrorCode(err)
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(ExitCommandError, message, err)
}
