package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/trcr/internal/cache"
	"github.com/roach88/trcr/internal/compiler"
	"github.com/roach88/trcr/internal/corpus"
	"github.com/roach88/trcr/internal/engine"
	"github.com/roach88/trcr/internal/index"
	"github.com/roach88/trcr/internal/ir"
	"github.com/roach88/trcr/internal/store"
	"github.com/roach88/trcr/internal/testutil"
)

// DefaultCacheSize bounds the match cache of a scenario run.
const DefaultCacheSize = 4096

// Harness holds the per-scenario pipeline state.
type Harness struct {
	store    *store.Store
	executor *engine.Executor
	index    *index.MultiIndex
	counters *index.Counters
	rules    []*ir.TaintRuleExecutableIR
	entities []ir.Entity
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Compile the rule documents; errors are recorded, not fatal
//  2. Load the corpus and build the index
//  3. Execute, rank and persist the run
//  4. Re-execute through the warm cache and compare with the stored run
//  5. Evaluate expectations and assertions
//
// The returned error covers setup failures (unreadable rules or corpus,
// database errors). Rule and match problems are reported in Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	result := NewResult()

	sources, err := compiler.ReadSources(scenario.Rules...)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	compiled, err := compiler.CompileAll(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}
	for _, e := range compiled.Errors {
		result.CompileErrors = append(result.CompileErrors, e.Error())
		code := ""
		if ce, ok := compiler.IsCompileError(e); ok {
			code = ce.Code
		}
		result.CompileCodes = append(result.CompileCodes, code)
	}

	entities, err := scenarioEntities(scenario)
	if err != nil {
		return nil, err
	}

	size := scenario.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	mc, err := cache.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create match cache: %w", err)
	}

	counters := &index.Counters{}
	idx, err := index.NewMultiIndex(ctx, entities, index.WithCounters(counters))
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	h := &Harness{
		store: st,
		executor: engine.New(
			engine.WithCache(mc),
			engine.WithMaxCandidates(scenario.MaxCandidates),
			engine.WithRunIDGenerator(testutil.NewSequentialRunIDs(scenario.Name)),
		),
		index:    idx,
		counters: counters,
		rules:    compiled.Executables,
		entities: entities,
	}

	if err := h.execute(ctx, result); err != nil {
		return nil, err
	}
	for k, n := range counters.Snapshot() {
		result.IndexQueries[k] = n
	}

	for _, msg := range checkExpectations(result.Matches, scenario.Expect) {
		result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	slog.Debug("scenario executed",
		"scenario", scenario.Name,
		"run_id", result.RunID,
		"matches", len(result.Matches),
		"pass", result.Pass)
	return result, nil
}

// execute runs the rule set twice: a cold run that is persisted, then a
// replay served from the match cache that must hash the same.
func (h *Harness) execute(ctx context.Context, result *Result) error {
	ruleSetHash, err := ir.RuleSetHash(h.rules)
	if err != nil {
		return fmt.Errorf("failed to hash rule set: %w", err)
	}
	corpusHash, err := ir.CorpusHash(h.entities)
	if err != nil {
		return fmt.Errorf("failed to hash corpus: %w", err)
	}

	first := engine.NewMatchContext(h.index)
	matches, execErr := h.executor.Execute(ctx, h.rules, first)
	result.RunID = first.RunID()
	result.Stats = first.Stats()
	result.Matches = matches
	if execErr != nil {
		result.AddError(fmt.Sprintf("execution failed: %v", execErr))
	}

	status := store.StatusComplete
	if execErr != nil {
		status = store.StatusPartial
	}
	_, err = h.store.WriteRun(ctx, store.Run{
		ID:          result.RunID,
		RuleSetHash: ruleSetHash,
		CorpusHash:  corpusHash,
		Entities:    h.index.Size(),
		Executables: len(h.rules),
		Status:      status,
	}, matches)
	if err != nil {
		return fmt.Errorf("failed to persist run: %w", err)
	}
	if execErr != nil {
		return nil
	}

	replayed, err := h.executor.Execute(ctx, h.rules, engine.NewMatchContext(h.index))
	if err != nil {
		result.AddError(fmt.Sprintf("replay failed: %v", err))
		return nil
	}
	cmp, err := h.store.CompareRun(ctx, result.RunID, ruleSetHash, corpusHash, replayed)
	if err != nil {
		return fmt.Errorf("failed to compare replay: %w", err)
	}
	result.Replay = cmp
	if !cmp.Identical {
		result.AddError(fmt.Sprintf("replay diverged from %s: %d difference(s)", result.RunID, len(cmp.Diffs)))
		for _, d := range cmp.Diffs {
			result.AddError("  " + d.String())
		}
	}
	return nil
}

// scenarioEntities loads the corpus file and appends inline entities.
func scenarioEntities(s *Scenario) ([]ir.Entity, error) {
	var out []ir.Entity
	if s.Corpus != "" {
		es, err := corpus.Load(s.Corpus)
		if err != nil {
			return nil, fmt.Errorf("failed to load corpus: %w", err)
		}
		out = append(out, es...)
	}
	inline := &corpus.File{Entities: s.Entities}
	if err := inline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid entities: %w", err)
	}
	seen := make(map[string]bool, len(out))
	for _, e := range out {
		seen[e.ID()] = true
	}
	for _, e := range s.Entities {
		if seen[e.ID()] {
			return nil, fmt.Errorf("invalid entities: %q is also defined in %s", e.ID(), s.Corpus)
		}
		out = append(out, e)
	}
	return out, nil
}
