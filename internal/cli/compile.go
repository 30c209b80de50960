package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/trcr/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	CompileFlags
	OutputFile string
}

// CompileResult summarizes a compiled rule set.
type CompileResult struct {
	RuleSetHash string              `json:"ruleset_hash"`
	Rules       int                 `json:"rules"`
	Executables []ExecutableSummary `json:"executables"`
}

// ExecutableSummary describes one optimized executable.
type ExecutableSummary struct {
	ID         string          `json:"id"`
	Generator  string          `json:"generator"`
	Alternates []string        `json:"alternates,omitempty"`
	Clauses    []ClauseSummary `json:"clauses"`
}

// ClauseSummary describes one clause dispatched by an executable.
type ClauseSummary struct {
	ID            string        `json:"id"`
	Tier          ir.Tier       `json:"tier"`
	Specificity   int           `json:"specificity"`
	ConfidencePPM int64         `json:"confidence_ppm"`
	Effect        ir.EffectKind `json:"effect"`
	Severity      ir.Severity   `json:"severity"`
	Predicates    int           `json:"predicates"`
	Guards        int           `json:"guards"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [rules...]",
		Short: "Compile taint rules into executables",
		Long: `Compile CUE taint rules into optimized executables.

Each argument is a .cue file, a directory searched for .cue files, or
"@core" for the built-in rules. With no arguments the core rules are
compiled. Any rule error fails the command.

Examples:
  trcr compile
  trcr compile @core ./rules
  trcr compile ./rules -o rules.ir.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, rulePaths(args), cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "", "write canonical IR to file")
	addCompileFlags(cmd, &opts.CompileFlags)

	return cmd
}

func runCompile(opts *CompileOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loaded, err := LoadRules(ctx, paths, opts.CompileFlags)
	if err != nil {
		return commandError(formatter, "", "failed to load rules", err)
	}
	formatter.VerboseLog("Read %d rule document(s)", len(loaded.Sources))

	compiled := loaded.Compiled
	if len(compiled.Errors) > 0 {
		return outputCompileErrors(formatter, issuesOf(compiled.Errors))
	}

	hash, err := ir.RuleSetHash(compiled.Executables)
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, "failed to hash rule set", err)
	}

	result := CompileResult{
		RuleSetHash: hash,
		Rules:       len(compiled.Rules),
		Executables: summarizeExecutables(compiled.Executables),
	}

	if opts.OutputFile != "" {
		if err := writeIRToFile(hash, compiled.Executables, opts.OutputFile); err != nil {
			return commandError(formatter, ErrCodeGeneric, "failed to write output", err)
		}
		formatter.VerboseLog("Wrote canonical IR to %s", opts.OutputFile)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputCompileText(formatter, result, opts.OutputFile)
}

func summarizeExecutables(xs []*ir.TaintRuleExecutableIR) []ExecutableSummary {
	out := make([]ExecutableSummary, len(xs))
	for i, x := range xs {
		s := ExecutableSummary{
			ID:        x.ID,
			Generator: x.Generator.ID(),
			Clauses:   make([]ClauseSummary, len(x.Dispatch)),
		}
		for _, g := range x.Alternates {
			s.Alternates = append(s.Alternates, g.ID())
		}
		for j, d := range x.Dispatch {
			s.Clauses[j] = ClauseSummary{
				ID:            d.ID,
				Tier:          d.Tier,
				Specificity:   d.Specificity,
				ConfidencePPM: ir.PPM(d.Confidence.Base),
				Effect:        d.Effect.Kind,
				Severity:      d.Effect.Vulnerability.Severity,
				Predicates:    len(d.PredicateChain),
				Guards:        len(d.Guards),
			}
		}
		out[i] = s
	}
	return out
}

func outputCompileText(formatter *OutputFormatter, result CompileResult, outputFile string) error {
	w := formatter.Writer
	fmt.Fprintf(w, "%s Compiled %d rule(s) into %d executable(s)\n", formatter.mark(true), result.Rules, len(result.Executables))
	fmt.Fprintf(w, "Rule set: %s\n", result.RuleSetHash)
	fmt.Fprintln(w)

	for _, x := range result.Executables {
		fmt.Fprintf(w, "%s\n", x.Generator)
		for _, alt := range x.Alternates {
			fmt.Fprintf(w, "  + %s\n", alt)
		}
		for _, c := range x.Clauses {
			fmt.Fprintf(w, "  %s: %s spec=%d conf=%.3f %s/%s\n",
				c.ID, c.Tier, c.Specificity, float64(c.ConfidencePPM)/1e6, c.Effect, c.Severity)
		}
	}

	if outputFile != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Wrote canonical IR to %s\n", outputFile)
	}
	return nil
}

// outputCompileErrors reports rule errors. Compilation failures are
// command errors (exit code 2).
func outputCompileErrors(formatter *OutputFormatter, issues []Issue) error {
	msg := fmt.Sprintf("compilation failed with %d error(s)", len(issues))
	if formatter.JSON() {
		first := CLIError{Code: issues[0].Code, Message: issues[0].String()}
		if err := formatter.Respond(CLIResponse{Status: "error", Error: &first, Data: issues}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, msg)
	}

	w := formatter.Writer
	fmt.Fprintln(w, formatter.mark(false), "Compilation failed")
	fmt.Fprintln(w)
	for _, is := range issues {
		fmt.Fprintf(w, "  %s\n", is)
	}
	return NewExitError(ExitCommandError, msg)
}

// writeIRToFile writes the executables as canonical JSON.
func writeIRToFile(ruleSetHash string, xs []*ir.TaintRuleExecutableIR, filename string) error {
	execs := make(ir.IRArray, len(xs))
	for i, x := range xs {
		dispatch := make(ir.IRArray, len(x.Dispatch))
		for j, d := range x.Dispatch {
			dispatch[j] = d.Canonical()
		}
		execs[i] = ir.IRObject{
			"id":       ir.IRString(x.ID),
			"plan":     ir.IRString(x.PlanKey()),
			"dispatch": dispatch,
		}
	}
	data, err := ir.MarshalCanonical(ir.IRObject{
		"ir_version":   ir.IRString(ir.IRVersion),
		"ruleset_hash": ir.IRString(ruleSetHash),
		"executables":  execs,
	})
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
