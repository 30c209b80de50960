package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/trcr/internal/ir"
	"github.com/roach88/trcr/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database      string
	Entity        string
	RunID         string
	Rule          string
	CWE           string
	Tier          string
	MinSeverity   string
	MinConfidence float64
	Limit         int
}

// query builds the match filter from the flags.
func (o *TraceOptions) query() store.MatchQuery {
	return store.MatchQuery{
		RunID:         o.RunID,
		RuleID:        o.Rule,
		EntityID:      o.Entity,
		CWE:           o.CWE,
		Tier:          ir.Tier(o.Tier),
		MinSeverity:   ir.Severity(o.MinSeverity),
		MinConfidence: o.MinConfidence,
		Limit:         o.Limit,
	}
}

// filtered reports whether any match filter beyond --entity and --run is set.
func (o *TraceOptions) filtered() bool {
	return o.Rule != "" || o.CWE != "" || o.Tier != "" || o.MinSeverity != "" ||
		o.MinConfidence > 0 || o.Limit > 0
}

// RecordView is a stored match in output form.
type RecordView struct {
	RunID       string        `json:"run_id"`
	Rank        int64         `json:"rank"`
	RuleID      string        `json:"rule_id"`
	AtomID      string        `json:"atom_id"`
	EntityID    string        `json:"entity_id"`
	Confidence  float64       `json:"confidence"`
	Specificity int           `json:"specificity"`
	EffectKind  ir.EffectKind `json:"effect_kind"`
	Tier        ir.Tier       `json:"tier"`
	Severity    ir.Severity   `json:"severity"`
	CWE         []string      `json:"cwe,omitempty"`
}

// RunView is a stored run in output form.
type RunView struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Status      store.RunStatus `json:"status"`
	Matches     int             `json:"matches"`
	Entities    int             `json:"entities"`
	Executables int             `json:"executables"`
	RuleSetHash string          `json:"ruleset_hash"`
	CorpusHash  string          `json:"corpus_hash"`
	MatchesHash string          `json:"matches_hash"`
	Engine      string          `json:"engine_version"`
}

// TraceResult holds what the trace command found.
type TraceResult struct {
	Entity  string       `json:"entity,omitempty"`
	Query   bool         `json:"query,omitempty"`
	Run     *RunView     `json:"run,omitempty"`
	Runs    []RunView    `json:"runs,omitempty"`
	Matches []RecordView `json:"matches,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace --db <file> [--entity <id> | --run <id>]",
		Short: "Show stored runs and match history",
		Long: `Query the run database.

With --entity, list every stored match for that entity across runs, oldest
run first. With --run, show one run and its ranked matches. Match filters
narrow either view; given alone they search matches across all runs. With
no flags, list all runs.

Examples:
  trcr trace --db trcr.db
  trcr trace --db trcr.db --run 0192c0de-...
  trcr trace --db trcr.db --entity app.py:10:4 --format json
  trcr trace --db trcr.db --min-severity high --cwe CWE-89`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity id to trace")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show")
	cmd.MarkFlagsMutuallyExclusive("entity", "run")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "only matches of this rule")
	cmd.Flags().StringVar(&opts.CWE, "cwe", "", "only matches tagged with this CWE")
	cmd.Flags().StringVar(&opts.Tier, "tier", "", "only matches of this tier (tier1|tier2|tier3)")
	cmd.Flags().StringVar(&opts.MinSeverity, "min-severity", "", "only matches at or above this severity")
	cmd.Flags().Float64Var(&opts.MinConfidence, "min-confidence", 0, "only matches at or above this confidence")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum matches to show (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx, cancel := signalContext(cmd)
	defer cancel()

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return commandError(formatter, "", "failed to open database", err)
	}
	defer st.Close()

	q := opts.query()
	if err := q.Validate(); err != nil {
		return commandError(formatter, ErrCodeGeneric, "invalid match filter", err)
	}

	var result TraceResult
	switch {
	case opts.RunID != "":
		run, err := st.ReadRun(ctx, opts.RunID)
		if errors.Is(err, sql.ErrNoRows) {
			return commandError(formatter, ErrCodeNoRun, "run not found", fmt.Errorf("%s: %w", opts.RunID, err))
		}
		if err != nil {
			return commandError(formatter, ErrCodeStore, "failed to read run", err)
		}
		view := runView(run)
		result.Run = &view
		if result.Matches, err = findMatches(ctx, st, q); err != nil {
			return commandError(formatter, ErrCodeStore, "failed to read matches", err)
		}

	case opts.Entity != "":
		result.Entity = opts.Entity
		if result.Matches, err = findMatches(ctx, st, q); err != nil {
			return commandError(formatter, ErrCodeStore, "failed to read entity history", err)
		}

	case opts.filtered():
		result.Query = true
		if result.Matches, err = findMatches(ctx, st, q); err != nil {
			return commandError(formatter, ErrCodeStore, "failed to query matches", err)
		}

	default:
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return commandError(formatter, ErrCodeStore, "failed to list runs", err)
		}
		result.Runs = make([]RunView, len(runs))
		for i, r := range runs {
			result.Runs[i] = runView(r)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter, result)
	return nil
}

func findMatches(ctx context.Context, st *store.Store, q store.MatchQuery) ([]RecordView, error) {
	recs, err := st.FindMatches(ctx, q)
	if err != nil {
		return nil, err
	}
	return recordViews(recs), nil
}

func runView(r store.Run) RunView {
	return RunView{
		ID:          r.ID,
		Seq:         r.Seq,
		Status:      r.Status,
		Matches:     r.MatchCount,
		Entities:    r.Entities,
		Executables: r.Executables,
		RuleSetHash: r.RuleSetHash,
		CorpusHash:  r.CorpusHash,
		MatchesHash: r.MatchesHash,
		Engine:      r.EngineVersion,
	}
}

func recordViews(recs []ir.MatchRecord) []RecordView {
	out := make([]RecordView, len(recs))
	for i, r := range recs {
		out[i] = RecordView{
			RunID:       r.RunID,
			Rank:        r.Seq + 1,
			RuleID:      r.RuleID,
			AtomID:      r.AtomID,
			EntityID:    r.EntityID,
			Confidence:  float64(r.ConfidencePPM) / 1e6,
			Specificity: r.Specificity,
			EffectKind:  r.EffectKind,
			Tier:        r.Tier,
			Severity:    r.Severity,
			CWE:         r.CWE,
		}
	}
	return out
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) {
	w := formatter.Writer

	switch {
	case result.Entity != "":
		fmt.Fprintf(w, "History for entity: %s\n", result.Entity)
		if len(result.Matches) == 0 {
			fmt.Fprintln(w, "  (no stored matches)")
		}
		for _, m := range result.Matches {
			fmt.Fprintf(w, "  %s #%d  %s %s %.3f %s\n",
				truncateID(m.RunID), m.Rank, formatter.severity(m.Severity), m.Tier, m.Confidence, m.RuleID)
		}

	case result.Query:
		if len(result.Matches) == 0 {
			fmt.Fprintln(w, "No matching findings.")
		}
		for _, m := range result.Matches {
			fmt.Fprintf(w, "%s #%d  %s\n", truncateID(m.RunID), m.Rank, formatRecord(formatter, m))
		}

	case result.Run != nil:
		r := result.Run
		fmt.Fprintf(w, "Run %s (#%d) [%s]\n", r.ID, r.Seq, r.Status)
		fmt.Fprintf(w, "  %d match(es), %d entities, %d executable(s), engine %s\n",
			r.Matches, r.Entities, r.Executables, r.Engine)
		if formatter.Verbose {
			fmt.Fprintf(w, "  rule set: %s\n  corpus:   %s\n  matches:  %s\n",
				r.RuleSetHash, r.CorpusHash, r.MatchesHash)
		}
		fmt.Fprintln(w)
		for _, m := range result.Matches {
			fmt.Fprintf(w, "  [%d] %s\n", m.Rank, formatRecord(formatter, m))
		}

	default:
		if len(result.Runs) == 0 {
			fmt.Fprintln(w, "No runs found in database.")
			return
		}
		for _, r := range result.Runs {
			fmt.Fprintf(w, "#%d %s [%s] %d match(es)\n", r.Seq, r.ID, r.Status, r.Matches)
		}
	}
}

func formatRecord(f *OutputFormatter, m RecordView) string {
	line := fmt.Sprintf("%s %s %.3f %s @ %s", f.severity(m.Severity), m.Tier, m.Confidence, m.RuleID, m.EntityID)
	if len(m.CWE) > 0 {
		line += " (" + strings.Join(m.CWE, ", ") + ")"
	}
	return line
}

// truncateID shortens long ids for text output.
func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12] + "…"
	}
	return id
}
