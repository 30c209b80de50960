package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/trcr/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	CompileFlags
	Database string
	Corpus   string
	RunID    string // optional - defaults to the latest run
}

// ReplayOutput is the result of re-executing a stored run.
type ReplayOutput struct {
	RunID          string   `json:"run_id"`
	Seq            int64    `json:"seq"`
	Identical      bool     `json:"identical"`
	RuleSetChanged bool     `json:"ruleset_changed"`
	CorpusChanged  bool     `json:"corpus_changed"`
	StoredHash     string   `json:"stored_matches_hash"`
	ReplayedHash   string   `json:"replayed_matches_hash"`
	Diffs          []string `json:"diffs,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [rules...] --db <file> --corpus <file>",
		Short: "Re-execute a stored run and verify its matches",
		Long: `Re-execute the rules of a stored run against a corpus and compare the
ranked matches with the stored ones, field by field.

Changed rule or corpus hashes are reported separately, since they explain a
differing result.

Exit codes:
  0 - Replay is identical to the stored run
  1 - Matches differ from the stored run
  2 - Command error (database not found, unknown run, etc.)

Examples:
  trcr replay --db trcr.db --corpus entities.yaml
  trcr replay ./rules --db trcr.db --corpus entities.yaml --run 0192c0de-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, rulePaths(args), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Corpus, "corpus", "", "path to corpus YAML (required)")
	_ = cmd.MarkFlagRequired("corpus")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to replay (default: latest)")
	addCompileFlags(cmd, &opts.CompileFlags)

	return cmd
}

func runReplay(opts *ReplayOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx, cancel := signalContext(cmd)
	defer cancel()

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return commandError(formatter, "", "failed to open database", err)
	}
	defer st.Close()

	stored, err := selectRun(ctx, st, opts.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return commandError(formatter, ErrCodeNoRun, "run not found", err)
		}
		return commandError(formatter, ErrCodeStore, "failed to read run", err)
	}
	formatter.VerboseLog("Replaying run %s (#%d, %d matches)", stored.ID, stored.Seq, stored.MatchCount)

	loaded, err := LoadRules(ctx, paths, opts.CompileFlags)
	if err != nil {
		return commandError(formatter, "", "failed to load rules", err)
	}
	for _, is := range issuesOf(loaded.Compiled.Errors) {
		slog.Warn("rule skipped", "error", is.String())
	}
	entities, err := LoadCorpus(opts.Corpus)
	if err != nil {
		return commandError(formatter, "", "failed to load corpus", err)
	}

	exec, err := executeRules(ctx, loaded.Compiled.Executables, entities, executeOptions{})
	if err != nil {
		return commandError(formatter, ErrCodeExecution, "failed to execute rules", err)
	}
	if exec.Err != nil {
		return commandError(formatter, ErrCodeExecution, "replay incomplete", exec.Err)
	}

	cmp, err := st.CompareRun(ctx, stored.ID, exec.RuleSetHash, exec.CorpusHash, exec.Matches)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to compare run", err)
	}

	out := ReplayOutput{
		RunID:          stored.ID,
		Seq:            stored.Seq,
		Identical:      cmp.Identical,
		RuleSetChanged: cmp.RuleSetChanged,
		CorpusChanged:  cmp.CorpusChanged,
		StoredHash:     stored.MatchesHash,
		ReplayedHash:   cmp.MatchesHash,
		Diffs:          make([]string, len(cmp.Diffs)),
	}
	for i, d := range cmp.Diffs {
		out.Diffs[i] = d.String()
	}

	if formatter.JSON() {
		return outputReplayJSON(formatter, out)
	}
	return outputReplayText(formatter, out)
}

// openExistingStore opens path without creating it, so a mistyped
// database path is an error rather than an empty store.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := statFile(path); err != nil {
		return nil, err
	}
	return store.Open(path)
}

func selectRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	if id == "" {
		return st.LatestRun(ctx)
	}
	return st.ReadRun(ctx, id)
}

func outputReplayJSON(formatter *OutputFormatter, out ReplayOutput) error {
	if out.Identical {
		return formatter.Success(out)
	}
	err := formatter.Respond(CLIResponse{
		Status: "error",
		Data:   out,
		Error: &CLIError{
			Code:    "E_REPLAY_DIVERGED",
			Message: fmt.Sprintf("replay differs from run %s in %d place(s)", out.RunID, len(out.Diffs)),
		},
	})
	if err != nil {
		return err
	}
	return NewExitError(ExitFailure, "determinism verification failed")
}

func outputReplayText(formatter *OutputFormatter, out ReplayOutput) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay of run %s (#%d)\n", out.RunID, out.Seq)
	if out.RuleSetChanged {
		fmt.Fprintln(w, "  rule set changed since the run was stored")
	}
	if out.CorpusChanged {
		fmt.Fprintln(w, "  corpus changed since the run was stored")
	}
	if formatter.Verbose {
		fmt.Fprintf(w, "  stored:   %s\n", out.StoredHash)
		fmt.Fprintf(w, "  replayed: %s\n", out.ReplayedHash)
	}

	if out.Identical {
		fmt.Fprintln(w, formatter.mark(true), "Matches identical")
		return nil
	}

	fmt.Fprintf(w, "%s %d difference(s):\n", formatter.mark(false), len(out.Diffs))
	for _, d := range out.Diffs {
		fmt.Fprintf(w, "  %s\n", d)
	}
	return NewExitError(ExitFailure, "determinism verification failed")
}
