package compiler

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"cuelang.org/go/cue/cuecontext"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/trcr/internal/ir"
	"github.com/roach88/trcr/internal/optimizer"
)

// Source is one rule document to compile.
type Source struct {
	Filename string
	Data     []byte
}

// Result is the outcome of compiling one or more rule documents.
//
// A rule with errors is left out of Rules, ExecIRs and Executables; the
// rest of the batch still compiles. Errors are CompileErrors in source
// order.
type Result struct {
	Rules       []*ir.RuleSpec
	ExecIRs     []*ir.TaintRuleExecIR
	Executables []*ir.TaintRuleExecutableIR
	Errors      []error
}

// Err joins all compilation errors, or returns nil.
func (r *Result) Err() error {
	return errors.Join(r.Errors...)
}

// Option configures compilation.
type Option func(*config)

type config struct {
	thresholds TierThresholds
}

// WithTierThresholds overrides the specificity buckets used for tiering.
func WithTierThresholds(t TierThresholds) Option {
	return func(c *config) {
		c.thresholds = t
	}
}

func newConfig(opts []Option) config {
	cfg := config{thresholds: DefaultTierThresholds}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Compile compiles a single rule document into executables.
func Compile(filename string, src []byte, opts ...Option) *Result {
	cfg := newConfig(opts)
	if err := cfg.thresholds.Validate(); err != nil {
		return &Result{Errors: []error{err}}
	}
	res := compileSource(Source{Filename: filename, Data: src}, cfg)
	optimize(res)
	return res
}

// CompileAll compiles independent documents in parallel, each with its
// own CUE context, then optimizes the union once. A rule id already
// defined by an earlier source is rejected with E209.
//
// The returned error is non-nil only when ctx is cancelled.
func CompileAll(ctx context.Context, sources []Source, opts ...Option) (*Result, error) {
	cfg := newConfig(opts)
	if err := cfg.thresholds.Validate(); err != nil {
		return &Result{Errors: []error{err}}, nil
	}

	partials := make([]*Result, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[i] = compileSource(src, cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Result{}
	seen := make(map[string]*ir.RuleSpec)
	for _, p := range partials {
		merged.Errors = append(merged.Errors, p.Errors...)
		dropped := make(map[string]bool)
		for _, r := range p.Rules {
			if first, ok := seen[r.ID]; ok {
				merged.Errors = append(merged.Errors, semErr(ErrDuplicateID, r.ID, "rule."+r.ID, r.Span,
					"rule id already defined at %s", first.Span))
				dropped[r.ID] = true
				continue
			}
			seen[r.ID] = r
			merged.Rules = append(merged.Rules, r)
		}
		for _, x := range p.ExecIRs {
			if !dropped[x.RuleID] {
				merged.ExecIRs = append(merged.ExecIRs, x)
			}
		}
	}
	optimize(merged)

	slog.Debug("rule sources compiled",
		"sources", len(sources),
		"rules", len(merged.Rules),
		"executables", len(merged.Executables),
		"errors", len(merged.Errors))
	return merged, nil
}

func optimize(res *Result) {
	execs, err := optimizer.Run(res.ExecIRs)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}
	res.Executables = execs
}

// compileSource parses, validates and lowers one document. It does not
// run the optimizer.
func compileSource(src Source, cfg config) *Result {
	res := &Result{}
	doc, errs := Parse(cuecontext.New(), src.Filename, src.Data)
	res.Errors = append(res.Errors, errs...)
	if doc == nil {
		return res
	}

	sym := symbols{
		guards:      make(map[string]ir.GuardIR),
		constraints: make(map[string]ir.ConstraintIR),
	}
	for _, name := range slices.Sorted(maps.Keys(doc.Constraints)) {
		spec := doc.Constraints[name]
		if verrs := ValidateConstraint(spec); len(verrs) > 0 {
			res.Errors = append(res.Errors, verrs...)
			delete(doc.Constraints, name)
			continue
		}
		con, err := ir.CompileConstraint(spec)
		if err != nil {
			res.Errors = append(res.Errors, semErr(ErrBadRegex, "", "constraint."+name, spec.Span, "%v", err))
			delete(doc.Constraints, name)
			continue
		}
		sym.constraints[name] = con
	}
	for _, name := range slices.Sorted(maps.Keys(doc.Guards)) {
		spec := doc.Guards[name]
		if verrs := ValidateGuard(spec); len(verrs) > 0 {
			res.Errors = append(res.Errors, verrs...)
			delete(doc.Guards, name)
			continue
		}
		g, err := ir.BuildGuard(spec)
		if err != nil {
			res.Errors = append(res.Errors, semErr(ErrBadEnum, "", "guard."+name, spec.Span, "%v", err))
			delete(doc.Guards, name)
			continue
		}
		sym.guards[name] = g
	}

	for _, r := range doc.Rules {
		if verrs := ValidateRule(r, doc); len(verrs) > 0 {
			res.Errors = append(res.Errors, verrs...)
			continue
		}
		xs, err := BuildExecIRs(r, sym, cfg.thresholds)
		if err != nil {
			res.Errors = append(res.Errors, semErr(ErrOutOfRange, r.ID, "rule."+r.ID, r.Span, "%v", err))
			continue
		}
		res.Rules = append(res.Rules, r)
		res.ExecIRs = append(res.ExecIRs, xs...)
	}

	slog.Debug("rule source compiled",
		"file", src.Filename,
		"rules", len(res.Rules),
		"errors", len(res.Errors))
	return res
}
