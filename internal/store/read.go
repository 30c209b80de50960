package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/trcr/internal/ir"
)

const runColumns = `id, seq, ruleset_hash, corpus_hash, matches_hash, entities, executables, match_count, status, engine_version, ir_version`

const matchColumns = `run_id, seq, rule_id, atom_id, entity_id, confidence_ppm, specificity, effect_kind, tier, severity, cwe, tags, taint`

// ReadRun retrieves a single run by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestRun returns the run with the highest seq.
// Returns sql.ErrNoRows if the store is empty.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq DESC LIMIT 1`)
	return scanRun(row)
}

// ListRuns returns every run ordered by seq.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadMatches returns the ranked matches of a run, in rank order.
// Returns an empty slice (not nil) for an unknown run or a run without
// matches.
func (s *Store) ReadMatches(ctx context.Context, runID string) ([]ir.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	return scanMatches(rows)
}

// EntityHistory returns every stored match for an entity, oldest run
// first and by rank within a run.
func (s *Store) EntityHistory(ctx context.Context, entityID string) ([]ir.MatchRecord, error) {
	return s.FindMatches(ctx, MatchQuery{EntityID: entityID})
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var status string
	if err := row.Scan(
		&r.ID, &r.Seq, &r.RuleSetHash, &r.CorpusHash, &r.MatchesHash,
		&r.Entities, &r.Executables, &r.MatchCount, &status,
		&r.EngineVersion, &r.IRVersion,
	); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Status = RunStatus(status)
	return r, nil
}

func scanMatches(rows *sql.Rows) ([]ir.MatchRecord, error) {
	defer rows.Close()

	out := []ir.MatchRecord{}
	for rows.Next() {
		var rec ir.MatchRecord
		var effect, tier, severity, cwe, tags, taint string
		if err := rows.Scan(
			&rec.RunID, &rec.Seq, &rec.RuleID, &rec.AtomID, &rec.EntityID,
			&rec.ConfidencePPM, &rec.Specificity, &effect, &tier, &severity,
			&cwe, &tags, &taint,
		); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		rec.EffectKind = ir.EffectKind(effect)
		rec.Tier = ir.Tier(tier)
		rec.Severity = ir.Severity(severity)

		var err error
		if rec.CWE, err = unmarshalStrings(cwe); err != nil {
			return nil, err
		}
		if rec.Tags, err = unmarshalStrings(tags); err != nil {
			return nil, err
		}
		if rec.Taint, err = unmarshalInts(taint); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}
