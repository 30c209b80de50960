package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/trcr/internal/ir"
)

// RunStatus says whether a run covered the whole rule set.
type RunStatus string

const (
	// StatusComplete is a run that evaluated every executable.
	StatusComplete RunStatus = "complete"
	// StatusPartial is a run stopped by cancellation or its budget.
	StatusPartial RunStatus = "partial"
)

// Run is the persisted summary of one Execute call.
type Run struct {
	ID            string
	Seq           int64
	RuleSetHash   string
	CorpusHash    string
	MatchesHash   string
	Entities      int
	Executables   int
	MatchCount    int
	Status        RunStatus
	EngineVersion string
	IRVersion     string
}

// WriteRun stores run and its ranked matches in one transaction and
// returns the run as stored: Seq is assigned, MatchesHash and MatchCount
// are computed from matches, and empty versions default to the current
// ones.
//
// Writing a run id that already exists is a no-op that returns the
// stored run, so retries are idempotent.
func (s *Store) WriteRun(ctx context.Context, run Run, matches []ir.Match) (Run, error) {
	if run.ID == "" {
		return Run{}, fmt.Errorf("write run: empty run id")
	}
	if run.Status == "" {
		run.Status = StatusComplete
	}
	if run.EngineVersion == "" {
		run.EngineVersion = ir.EngineVersion
	}
	if run.IRVersion == "" {
		run.IRVersion = ir.IRVersion
	}
	hash, err := persistedHash(matches)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}
	run.MatchesHash = hash
	run.MatchCount = len(matches)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, run.ID).Scan(&existing); err != nil {
		return Run{}, fmt.Errorf("write run: check existing: %w", err)
	}
	if existing > 0 {
		if err := tx.Commit(); err != nil {
			return Run{}, fmt.Errorf("write run: commit: %w", err)
		}
		return s.ReadRun(ctx, run.ID)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return Run{}, fmt.Errorf("write run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, ruleset_hash, corpus_hash, matches_hash, entities, executables, match_count, status, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Seq,
		run.RuleSetHash,
		run.CorpusHash,
		run.MatchesHash,
		run.Entities,
		run.Executables,
		run.MatchCount,
		string(run.Status),
		run.EngineVersion,
		run.IRVersion,
	)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO matches
		(run_id, seq, rule_id, atom_id, entity_id, confidence_ppm, specificity, effect_kind, tier, severity, cwe, tags, taint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return Run{}, fmt.Errorf("write run: prepare matches: %w", err)
	}
	defer stmt.Close()

	for i, m := range matches {
		if err := insertMatch(ctx, stmt, ir.RecordOf(run.ID, int64(i), m)); err != nil {
			return Run{}, fmt.Errorf("write run: match %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("write run: commit: %w", err)
	}
	return run, nil
}

func insertMatch(ctx context.Context, stmt *sql.Stmt, rec ir.MatchRecord) error {
	cwe, err := marshalStrings(rec.CWE)
	if err != nil {
		return err
	}
	tags, err := marshalStrings(rec.Tags)
	if err != nil {
		return err
	}
	taint, err := marshalInts(rec.Taint)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		rec.RunID,
		rec.Seq,
		rec.RuleID,
		rec.AtomID,
		rec.EntityID,
		rec.ConfidencePPM,
		rec.Specificity,
		string(rec.EffectKind),
		string(rec.Tier),
		string(rec.Severity),
		cwe,
		tags,
		taint,
	)
	return err
}
