package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	CompileFlags
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Rules  int     `json:"rules"`
	Errors []Issue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [rules...]",
		Short: "Check taint rules and report every error",
		Long: `Check CUE taint rules and report every rule error with its code and
source position. Rules that are valid still compile when others fail; this
command lists all failures instead of stopping at the first.

Exit codes:
  0 - All rules are valid
  1 - At least one rule has errors
  2 - Command error (path not found, etc.)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, rulePaths(args), cmd)
		},
	}

	addCompileFlags(cmd, &opts.CompileFlags)

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loaded, err := LoadRules(ctx, paths, opts.CompileFlags)
	if err != nil {
		return commandError(formatter, "", "failed to load rules", err)
	}
	formatter.VerboseLog("Validated %d rule document(s)", len(loaded.Sources))

	result := ValidationResult{
		Valid:  len(loaded.Compiled.Errors) == 0,
		Rules:  len(loaded.Compiled.Rules),
		Errors: issuesOf(loaded.Compiled.Errors),
	}

	if result.Valid {
		if formatter.JSON() {
			return formatter.Success(result)
		}
		fmt.Fprintf(formatter.Writer, "%s %d rule(s) valid\n", formatter.mark(true), result.Rules)
		return nil
	}

	msg := fmt.Sprintf("validation failed with %d error(s)", len(result.Errors))
	if formatter.JSON() {
		first := CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].String()}
		if err := formatter.Respond(CLIResponse{Status: "error", Error: &first, Data: result}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s %s (%d rule(s) valid)\n", formatter.mark(false), msg, result.Rules)
	fmt.Fprintln(w)
	for _, is := range result.Errors {
		fmt.Fprintf(w, "  %s\n", is)
	}
	return NewExitError(ExitFailure, msg)
}
