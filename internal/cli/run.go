package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/trcr/internal/cache"
	"github.com/roach88/trcr/internal/engine"
	"github.com/roach88/trcr/internal/harness"
	"github.com/roach88/trcr/internal/index"
	"github.com/roach88/trcr/internal/ir"
	"github.com/roach88/trcr/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	CompileFlags
	Corpus        string
	Database      string
	MaxCandidates int
	CacheSize     int
	Strict        bool
	Stats         bool
}

// RunResult is the output of one run.
type RunResult struct {
	RunID        string          `json:"run_id"`
	Seq          int64           `json:"seq,omitempty"`
	Status       store.RunStatus `json:"status"`
	RuleSetHash  string          `json:"ruleset_hash"`
	CorpusHash   string          `json:"corpus_hash"`
	Entities     int             `json:"entities"`
	Executables  int             `json:"executables"`
	Matches      []ir.Match      `json:"matches"`
	Stats        engine.Stats    `json:"stats"`
	SkippedRules []Issue         `json:"skipped_rules,omitempty"`
	Metrics      []MetricPoint   `json:"metrics,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [rules...] --corpus <file>",
		Short: "Match taint rules against a corpus",
		Long: `Compile taint rules and execute them against a corpus of entities,
printing ranked findings.

Rules that fail to compile are skipped with a warning unless --strict is
set. With --db the run and its matches are persisted for replay and trace.
A run stopped by Ctrl-C or by the candidate budget prints the matches found
so far, is stored as partial, and exits with code 1.

Examples:
  trcr run --corpus entities.yaml
  trcr run @core ./rules --corpus entities.yaml --db trcr.db
  trcr run --corpus entities.yaml --max-candidates 100000 --stats`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(opts, rulePaths(args), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Corpus, "corpus", "", "path to corpus YAML (required)")
	_ = cmd.MarkFlagRequired("corpus")
	cmd.Flags().StringVar(&opts.Database, "db", "", "persist the run to this SQLite database")
	cmd.Flags().IntVar(&opts.MaxCandidates, "max-candidates", 0, "candidate budget per run (0 = unlimited)")
	cmd.Flags().IntVar(&opts.CacheSize, "cache-size", harness.DefaultCacheSize, "match cache entries")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail on any rule error")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "collect and print engine metrics")
	addCompileFlags(cmd, &opts.CompileFlags)

	return cmd
}

func runRules(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx, cancel := signalContext(cmd)
	defer cancel()

	var tel *telemetry
	if opts.Stats {
		tel = startTelemetry()
		defer func() {
			if err := tel.shutdown(context.Background()); err != nil {
				slog.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	loaded, err := LoadRules(ctx, paths, opts.CompileFlags)
	if err != nil {
		return commandError(formatter, "", "failed to load rules", err)
	}
	skipped := issuesOf(loaded.Compiled.Errors)
	if len(skipped) > 0 && opts.Strict {
		return outputCompileErrors(formatter, skipped)
	}
	for _, is := range skipped {
		slog.Warn("rule skipped", "error", is.String())
	}

	entities, err := LoadCorpus(opts.Corpus)
	if err != nil {
		return commandError(formatter, "", "failed to load corpus", err)
	}

	exec, err := executeRules(ctx, loaded.Compiled.Executables, entities, executeOptions{
		maxCandidates: opts.MaxCandidates,
		cacheSize:     opts.CacheSize,
	})
	if err != nil {
		return commandError(formatter, ErrCodeExecution, "failed to execute rules", err)
	}

	result := RunResult{
		RunID:        exec.RunID,
		Status:       exec.status(),
		RuleSetHash:  exec.RuleSetHash,
		CorpusHash:   exec.CorpusHash,
		Entities:     len(entities),
		Executables:  len(loaded.Compiled.Executables),
		Matches:      exec.Matches,
		Stats:        exec.Stats,
		SkippedRules: skipped,
	}
	if exec.Err != nil {
		result.Error = exec.Err.Error()
	}

	if opts.Database != "" {
		stored, err := persistRun(ctx, opts.Database, exec, len(entities), len(loaded.Compiled.Executables))
		if err != nil {
			return commandError(formatter, ErrCodeStore, "failed to persist run", err)
		}
		result.Seq = stored.Seq
		formatter.VerboseLog("Persisted run %s as #%d to %s", stored.ID, stored.Seq, opts.Database)
	}

	if tel != nil {
		if result.Metrics, err = tel.collect(context.Background()); err != nil {
			slog.Warn("metrics unavailable", "error", err)
		}
	}

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputRunText(formatter, result, opts.Database)
	}

	if exec.Err != nil {
		return WrapExitError(ExitFailure, "run incomplete", exec.Err)
	}
	return nil
}

// signalContext derives a context from the command's that is cancelled
// on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

type executeOptions struct {
	maxCandidates int
	cacheSize     int
}

// execution is one Execute call and the hashes that identify its inputs.
type execution struct {
	RunID       string
	RuleSetHash string
	CorpusHash  string
	Matches     []ir.Match
	Stats       engine.Stats
	// Err is a cancellation or budget error; Matches holds what was found
	// before it.
	Err error
}

func (e *execution) status() store.RunStatus {
	if e.Err != nil {
		return store.StatusPartial
	}
	return store.StatusComplete
}

// executeRules indexes entities and runs rules over them once. Errors that
// leave no usable result are returned; interruptions are kept in
// execution.Err.
func executeRules(ctx context.Context, rules []*ir.TaintRuleExecutableIR, entities []ir.Entity, o executeOptions) (*execution, error) {
	ruleSetHash, err := ir.RuleSetHash(rules)
	if err != nil {
		return nil, fmt.Errorf("hash rule set: %w", err)
	}
	corpusHash, err := ir.CorpusHash(entities)
	if err != nil {
		return nil, fmt.Errorf("hash corpus: %w", err)
	}

	idx, err := index.NewMultiIndex(ctx, entities)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	engineOpts := []engine.Option{engine.WithMaxCandidates(o.maxCandidates)}
	if o.cacheSize > 0 {
		c, err := cache.New(o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create match cache: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithCache(c))
	}

	mc := engine.NewMatchContext(idx)
	slog.Info("run starting", "executables", len(rules), "entities", len(entities))
	matches, err := engine.New(engineOpts...).Execute(ctx, rules, mc)
	if err != nil && !interrupted(err) {
		return nil, err
	}
	slog.Info("run finished", "run_id", mc.RunID(), "matches", len(matches), "partial", err != nil)

	return &execution{
		RunID:       mc.RunID(),
		RuleSetHash: ruleSetHash,
		CorpusHash:  corpusHash,
		Matches:     matches,
		Stats:       mc.Stats(),
		Err:         err,
	}, nil
}

func interrupted(err error) bool {
	return engine.IsBudgetError(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func persistRun(ctx context.Context, path string, exec *execution, entities, executables int) (store.Run, error) {
	st, err := store.Open(path)
	if err != nil {
		return store.Run{}, err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// The run is persisted even when ctx was cancelled mid-run.
	return st.WriteRun(context.WithoutCancel(ctx), store.Run{
		ID:          exec.RunID,
		RuleSetHash: exec.RuleSetHash,
		CorpusHash:  exec.CorpusHash,
		Entities:    entities,
		Executables: executables,
		Status:      exec.status(),
	}, exec.Matches)
}

func outputRunText(formatter *OutputFormatter, result RunResult, database string) {
	w := formatter.Writer

	mark := formatter.mark(true)
	if result.Status == store.StatusPartial {
		mark = formatter.warn("!")
	}
	fmt.Fprintf(w, "%s Run %s: %d match(es) over %d entities, %d executable(s) [%s]\n",
		mark, result.RunID, len(result.Matches), result.Entities, result.Executables, result.Status)
	if result.Error != "" {
		fmt.Fprintf(w, "  stopped: %s\n", result.Error)
	}
	if len(result.SkippedRules) > 0 {
		fmt.Fprintf(w, "  %d rule error(s) skipped\n", len(result.SkippedRules))
	}
	fmt.Fprintln(w)

	if len(result.Matches) == 0 {
		fmt.Fprintln(w, "  (no matches)")
	}
	for i, m := range result.Matches {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, formatMatch(formatter, m))
	}
	fmt.Fprintln(w)

	s := result.Stats
	fmt.Fprintf(w, "Candidates: %d  Predicates: %d/%d  Suppressed: %d  Cache: %d hit(s), %d miss(es)\n",
		s.Candidates, s.PredicatesPassed, s.PredicatesEvaluated, s.Suppressed, s.CacheHits, s.CacheMisses)

	if formatter.Verbose {
		for _, is := range result.SkippedRules {
			fmt.Fprintf(w, "  skipped: %s\n", is)
		}
	}
	if len(result.Metrics) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Metrics:")
		for _, p := range result.Metrics {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	if database != "" {
		fmt.Fprintf(w, "Stored as run #%d in %s\n", result.Seq, database)
	}
}

// formatMatch renders one ranked match on a single line.
func formatMatch(f *OutputFormatter, m ir.Match) string {
	line := fmt.Sprintf("%s %s %.3f %s @ %s", f.severity(m.Severity), m.Tier, m.Confidence, m.RuleID, m.EntityID)
	if len(m.CWE) > 0 {
		line += " (" + strings.Join(m.CWE, ", ") + ")"
	}
	return line
}
