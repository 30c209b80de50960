package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/trcr/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	RulesDir string // resolves relative rule paths in scenarios
	Update   bool   // regenerate golden files
	Filter   string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario harness",
		Long: `Run YAML scenarios: each compiles its rules, executes them against its
corpus, checks expected matches and assertions, verifies that a cached
replay is identical, and compares the ranked matches with its golden file
when one exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  trcr test ./scenarios
  trcr test ./scenarios --rules-dir ./rules
  trcr test ./scenarios --filter "sqli*"
  trcr test ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RulesDir, "rules-dir", "", "directory for relative rule paths (default: scenario directory)")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx, cancel := signalContext(cmd)
	defer cancel()

	info, err := statFile(scenariosDir)
	if err != nil {
		return commandError(formatter, "", "scenarios directory not found", err)
	}
	if !info.IsDir() {
		return commandError(formatter, ErrCodeNotFound, "not a directory", fmt.Errorf("%s", scenariosDir))
	}
	if opts.RulesDir != "" {
		if _, err := statFile(opts.RulesDir); err != nil {
			return commandError(formatter, "", "rules directory not found", err)
		}
	}

	result, err := harness.RunSuite(ctx, scenariosDir, harness.SuiteOptions{
		RulesDir: opts.RulesDir,
		Filter:   opts.Filter,
		Update:   opts.Update,
	})
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, "failed to run scenarios", err)
	}

	if formatter.JSON() {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter, result)
}

func outputTestJSON(formatter *OutputFormatter, result *harness.SuiteResult) error {
	if result.Failed == 0 {
		return formatter.Success(result)
	}
	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	err := formatter.Respond(CLIResponse{
		Status: "error",
		Data:   result,
		Error:  &CLIError{Code: "E_TEST_FAILED", Message: msg},
	})
	if err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

func outputTestText(formatter *OutputFormatter, result *harness.SuiteResult) error {
	w := formatter.Writer

	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
	}
	for _, s := range result.Scenarios {
		mark := formatter.mark(s.Pass)
		golden := ""
		if s.Golden != "" && s.Golden != harness.GoldenNone {
			golden = " [golden " + s.Golden + "]"
		}
		fmt.Fprintf(w, "%s %s (%d match(es))%s\n", mark, s.Name, s.Matches, golden)
		formatter.VerboseLog("  %s", s.Path)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, formatter.mark(true), "All scenarios passed")
	return nil
}
