package store

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/trcr/internal/ir"
)

// persistedHash hashes a match list as it is persisted: traces and
// entity references are dropped and confidence is taken at ppm
// resolution, so a replay served from the match cache hashes the same as
// a cold run.
func persistedHash(matches []ir.Match) (string, error) {
	plain := make([]ir.Match, len(matches))
	for i, m := range matches {
		plain[i] = ir.RecordOf("", int64(i), m).Match()
	}
	return ir.MatchesHash(plain)
}

// Diff is one difference between a stored run and its replay.
type Diff struct {
	Seq      int64
	Field    string
	Stored   string
	Replayed string
}

// String renders the diff for CLI output.
func (d Diff) String() string {
	return fmt.Sprintf("#%d %s: stored=%s replayed=%s", d.Seq, d.Field, d.Stored, d.Replayed)
}

// ReplayResult compares a stored run with a fresh execution.
type ReplayResult struct {
	Stored         Run
	MatchesHash    string
	Identical      bool
	RuleSetChanged bool
	CorpusChanged  bool
	Diffs          []Diff
}

// CompareRun checks a fresh execution against the stored run runID.
// ruleSetHash and corpusHash describe the inputs of the fresh execution;
// a mismatch there explains a differing output but is reported
// separately from the match diffs.
//
// Returns sql.ErrNoRows if the run does not exist.
func (s *Store) CompareRun(ctx context.Context, runID, ruleSetHash, corpusHash string, matches []ir.Match) (*ReplayResult, error) {
	stored, err := s.ReadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	records, err := s.ReadMatches(ctx, runID)
	if err != nil {
		return nil, err
	}
	hash, err := persistedHash(matches)
	if err != nil {
		return nil, fmt.Errorf("compare run: %w", err)
	}

	res := &ReplayResult{
		Stored:         stored,
		MatchesHash:    hash,
		Identical:      hash == stored.MatchesHash,
		RuleSetChanged: ruleSetHash != stored.RuleSetHash,
		CorpusChanged:  corpusHash != stored.CorpusHash,
	}
	for i := 0; i < max(len(records), len(matches)); i++ {
		seq := int64(i)
		switch {
		case i >= len(matches):
			res.Diffs = append(res.Diffs, Diff{Seq: seq, Field: "match", Stored: describe(records[i]), Replayed: "-"})
		case i >= len(records):
			rec := ir.RecordOf(runID, seq, matches[i])
			res.Diffs = append(res.Diffs, Diff{Seq: seq, Field: "match", Stored: "-", Replayed: describe(rec)})
		default:
			res.Diffs = append(res.Diffs, diffRecords(records[i], ir.RecordOf(runID, seq, matches[i]))...)
		}
	}
	return res, nil
}

func describe(r ir.MatchRecord) string {
	return r.AtomID + "@" + r.EntityID
}

func diffRecords(a, b ir.MatchRecord) []Diff {
	var out []Diff
	add := func(field, x, y string) {
		if x != y {
			out = append(out, Diff{Seq: a.Seq, Field: field, Stored: x, Replayed: y})
		}
	}
	add("rule_id", a.RuleID, b.RuleID)
	add("atom_id", a.AtomID, b.AtomID)
	add("entity_id", a.EntityID, b.EntityID)
	add("confidence_ppm", strconv.FormatInt(a.ConfidencePPM, 10), strconv.FormatInt(b.ConfidencePPM, 10))
	add("specificity", strconv.Itoa(a.Specificity), strconv.Itoa(b.Specificity))
	add("effect_kind", string(a.EffectKind), string(b.EffectKind))
	add("tier", string(a.Tier), string(b.Tier))
	add("severity", string(a.Severity), string(b.Severity))
	if !slices.Equal(a.CWE, b.CWE) {
		add("cwe", fmt.Sprint(a.CWE), fmt.Sprint(b.CWE))
	}
	if !slices.Equal(a.Tags, b.Tags) {
		add("tags", fmt.Sprint(a.Tags), fmt.Sprint(b.Tags))
	}
	if !slices.Equal(a.Taint, b.Taint) {
		add("taint", fmt.Sprint(a.Taint), fmt.Sprint(b.Taint))
	}
	return out
}

// LastSeq returns the highest run seq, or 0 for an empty store.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}
