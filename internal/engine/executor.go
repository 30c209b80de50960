package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/trcr/internal/cache"
	"github.com/roach88/trcr/internal/ir"
)

// DefaultCancelCheckEvery is how many candidates are evaluated between
// context checks unless WithCancelCheckEvery says otherwise.
const DefaultCancelCheckEvery = 64

// Executor runs executables against the index held by a MatchContext.
type Executor struct {
	cache         *cache.MatchCache
	maxCandidates int
	cancelEvery   int
	runIDs        RunIDGenerator
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache memoizes per-(entity, clause) outcomes across runs.
func WithCache(c *cache.MatchCache) Option {
	return func(x *Executor) {
		x.cache = c
	}
}

// WithMaxCandidates bounds the candidate evaluations of one run. Zero
// means unbounded.
func WithMaxCandidates(n int) Option {
	return func(x *Executor) {
		x.maxCandidates = n
	}
}

// WithCancelCheckEvery sets how many candidates are evaluated between
// context checks.
func WithCancelCheckEvery(n int) Option {
	return func(x *Executor) {
		x.cancelEvery = n
	}
}

// WithRunIDGenerator sets the generator used for contexts without a run id.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(x *Executor) {
		x.runIDs = g
	}
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	x := &Executor{
		cancelEvery: DefaultCancelCheckEvery,
		runIDs:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.cancelEvery < 1 {
		x.cancelEvery = 1
	}
	return x
}

// Cache returns the executor's match cache, or nil.
func (x *Executor) Cache() *cache.MatchCache {
	return x.cache
}

// Execute runs rules against the index of mc and returns ranked matches.
//
// Every executable is validated before any candidate is evaluated; an
// invalid plan fails the whole run with ErrCodeInvalidPlan. When ctx is
// cancelled or the candidate budget runs out, the matches found so far
// are returned, ranked, together with the error.
func (x *Executor) Execute(ctx context.Context, rules []*ir.TaintRuleExecutableIR, mc *MatchContext) ([]ir.Match, error) {
	if mc == nil || mc.index == nil {
		return nil, errors.New("execute: match context has no index")
	}
	if !mc.used.CompareAndSwap(false, true) {
		return nil, &ExecutionError{
			Code:    ErrCodeContextReused,
			Message: "match context already used by a previous run",
			Details: map[string]string{"run_id": mc.runID},
		}
	}
	if mc.runID == "" {
		mc.runID = x.runIDs.Generate()
	}

	r, err := x.prepare(rules, mc)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("trcr.run_id", mc.runID),
		attribute.Int("trcr.executables", len(rules)),
		attribute.Int("trcr.entities", mc.index.Size()),
	))
	defer span.End()

	start := time.Now()
	runErr := r.execute(ctx, rules)
	matches := r.results()
	mc.stats.Matches = len(matches)

	outcome := "ok"
	switch {
	case runErr == nil:
	case IsBudgetError(runErr):
		outcome = "budget"
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	span.SetAttributes(
		attribute.Int("trcr.candidates", mc.stats.Candidates),
		attribute.Int("trcr.matches", len(matches)),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	effects := make(map[string]int)
	for _, m := range matches {
		effects[string(m.EffectKind)]++
	}
	recordRun(ctx, outcome, time.Since(start), &mc.stats, effects)

	slog.Info("rules executed",
		"run_id", mc.runID,
		"outcome", outcome,
		"executables", len(rules),
		"candidates", mc.stats.Candidates,
		"matches", len(matches),
		"cache_hits", mc.stats.CacheHits)

	if runErr != nil {
		return matches, runErr
	}
	return matches, nil
}

// prepare validates every clause and pins its plan hash.
func (x *Executor) prepare(rules []*ir.TaintRuleExecutableIR, mc *MatchContext) (*run, error) {
	r := &run{
		x:            x,
		mc:           mc,
		budget:       newCandidateBudget(x.maxCandidates),
		planHashes:   make(map[string]string),
		fingerprints: make(map[string]string),
		best:         make(map[matchKey]ir.Match),
	}
	for i, e := range rules {
		if e == nil || len(e.Dispatch) == 0 {
			id := ""
			if e != nil {
				id = e.ID
			}
			return nil, &ExecutionError{
				Code:    ErrCodeInvalidPlan,
				Message: "executable dispatches to no clause",
				Details: map[string]string{"executable": id, "position": fmt.Sprint(i)},
			}
		}
		for _, d := range e.Dispatch {
			if err := d.Validate(); err != nil {
				return nil, &ExecutionError{Code: ErrCodeInvalidPlan, Message: err.Error(), AtomID: d.ID}
			}
			if x.cache == nil {
				continue
			}
			h, err := ir.PlanHash(d)
			if err != nil {
				return nil, &ExecutionError{Code: ErrCodeInvalidPlan, Message: err.Error(), AtomID: d.ID}
			}
			r.planHashes[d.ID] = h
		}
	}
	return r, nil
}

type matchKey struct {
	rule, entity string
}

// run is the state of one Execute call.
type run struct {
	x            *Executor
	mc           *MatchContext
	budget       *candidateBudget
	planHashes   map[string]string
	fingerprints map[string]string
	best         map[matchKey]ir.Match
	steps        int
}

func (r *run) execute(ctx context.Context, rules []*ir.TaintRuleExecutableIR) error {
	for _, e := range rules {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		if err := r.executable(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) executable(ctx context.Context, e *ir.TaintRuleExecutableIR) error {
	r.mc.stats.Executables++
	cands := r.candidates(e)
	for _, c := range cands {
		r.steps++
		if r.steps%r.x.cancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("execute %s: %w", e.ID, err)
			}
		}
		if err := r.budget.spend(e.ID); err != nil {
			return err
		}
		r.mc.stats.Candidates++
		for _, d := range e.Dispatch {
			if err := r.evaluate(e, d, c, len(cands)); err != nil {
				return err
			}
		}
	}
	slog.Debug("executable evaluated",
		"executable", e.ID,
		"generator", e.Generator.ID(),
		"dispatch", len(e.Dispatch),
		"candidates", len(cands))
	return nil
}

// evaluate runs one clause against one candidate, going through the
// cache when one is configured.
func (r *run) evaluate(e *ir.TaintRuleExecutableIR, d *ir.TaintRuleExecIR, c candidate, n int) error {
	if k, ok := kindPredicate(d); ok && !k.Accepts(c.entity) {
		r.mc.stats.KindRejected++
		return nil
	}

	memo := r.x.cache
	key := cache.Key{EntityID: c.entity.ID(), RuleID: d.ID}
	fp := ""
	if memo != nil {
		fp = r.fingerprint(c.entity)
		if fp != "" {
			if entry, ok := memo.Get(key); ok && entry.Valid(fp, r.planHashes[d.ID]) {
				r.mc.stats.CacheHits++
				if entry.Matched {
					r.keep(reuse(entry.Match, e, c, n))
				}
				return nil
			}
			r.mc.stats.CacheMisses++
		}
	}

	m, ok, err := r.match(e, d, c, n)
	if err != nil {
		return err
	}
	if memo != nil && fp != "" {
		memo.Set(key, cache.Entry{
			Fingerprint: fp,
			PlanHash:    r.planHashes[d.ID],
			Matched:     ok,
			Match:       m,
		})
	}
	if ok {
		r.keep(cloneMatch(m))
	}
	return nil
}

// fingerprint memoizes entity fingerprints for the run. An entity that
// cannot be fingerprinted is evaluated without the cache.
func (r *run) fingerprint(e ir.Entity) string {
	if fp, ok := r.fingerprints[e.ID()]; ok {
		return fp
	}
	fp, err := ir.EntityFingerprint(e)
	if err != nil {
		slog.Warn("entity fingerprint failed, bypassing cache", "entity", e.ID(), "error", err)
		fp = ""
	}
	r.fingerprints[e.ID()] = fp
	return fp
}

// keep records m unless a better ranked match for the same rule and
// entity is already held.
func (r *run) keep(m ir.Match) {
	k := matchKey{rule: m.RuleID, entity: m.EntityID}
	if prev, ok := r.best[k]; ok && ir.CompareMatches(prev, m) <= 0 {
		return
	}
	r.best[k] = m
}

func (r *run) results() []ir.Match {
	out := make([]ir.Match, 0, len(r.best))
	for _, m := range r.best {
		out = append(out, m)
	}
	ir.SortMatches(out)
	return out
}
