package pipeline

import (
	"context"
	"errors"
	"fmt"

	"ggp/artifact"
	"ggp/checker"
	"ggp/config"
	"ggp/engine"
	"ggp/hypothesis"
	"ggp/metrics"
	"ggp/playout"
	"ggp/refine"
	"ggp/rules"
	"ggp/trace"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Deps are the collaborators of a run. Every field is optional except
// Supplier for the external and hybrid methods.
type Deps struct {
	Supplier hypothesis.Supplier
	Metrics  metrics.Collector
	Registry *artifact.Registry
}

type Result struct {
	RunID      uuid.UUID
	Artifact   *artifact.Artifact
	Generation *hypothesis.Generation
	Attempt    *refine.Attempt
	Attempts   []*refine.Attempt
	// Version is the registry version of the artifact, zero when no
	// registry is configured.
	Version int
}

type stages struct {
	cfg       config.Config
	store     *trace.Store
	exec      *engine.Local
	checker   *checker.Checker
	validator *playout.Validator
	metrics   metrics.Collector
	registry  *artifact.Registry
}

func newStages(cfg config.Config, store *trace.Store, deps Deps) (*stages, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := store.Game()
	if g.Name() != cfg.Game {
		return nil, fmt.Errorf("traces are for %s but the config names %s", g.Name(), cfg.Game)
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NewDummyCollector()
	}
	exec := engine.NewLocal(g)
	opts := append(playout.FromConfig(cfg.Validation, cfg.Workers), playout.WithMetrics(collector))
	return &stages{
		cfg:       cfg,
		store:     store,
		exec:      exec,
		checker:   checker.New(g, exec, checker.WithWorkers(cfg.Workers)),
		validator: playout.New(g, exec, opts...),
		metrics:   collector,
		registry:  deps.Registry,
	}, nil
}

// Run induces a rule set from the traces in store, validates it by
// playouts and returns the resulting artifact. When no candidate becomes
// consistent the error is a *refine.NoConsistentRuleSet and the result
// still carries the best candidate as a draft artifact.
func Run(ctx context.Context, cfg config.Config, store *trace.Store, deps Deps) (*Result, error) {
	s, err := newStages(cfg, store, deps)
	if err != nil {
		return nil, err
	}
	res := &Result{RunID: uuid.New()}
	s.metrics.Start()
	log.Info().Str("run", res.RunID.String()).Msgf("inducing %s rules from %d traces with %s", cfg.Game, store.Len(), cfg.Generator.Method)

	strategy, err := hypothesis.New(cfg.Generator, hypothesis.Deps{
		Game:     store.Game(),
		Checker:  s.checker,
		Supplier: deps.Supplier,
		Metrics:  s.metrics,
	})
	if err != nil {
		return nil, err
	}
	gen, err := strategy.Generate(ctx, store, cfg.Generator.MaxExpansions)
	res.Generation = gen
	if err != nil {
		return res, fmt.Errorf("failed to generate candidates: %w", err)
	}

	loop := refine.New(store.Game(), s.checker, store, cfg.Refinement, refine.WithMetrics(s.metrics))
	attempt, err := loop.Run(ctx, gen.Candidates)
	if err != nil {
		var failed *refine.NoConsistentRuleSet
		if errors.As(err, &failed) {
			res.Attempts = failed.Attempts
			if failed.Best != nil {
				res.Attempt = failed.Best
				res.Artifact = artifact.New(res.RunID, failed.Best.Rules, failed.Best.Report, failed.Best.History)
				if err := s.save(res); err != nil {
					return res, err
				}
			}
		}
		return res, fmt.Errorf("failed to refine candidates: %w", err)
	}
	res.Attempt = attempt
	res.Artifact = artifact.New(res.RunID, attempt.Rules, attempt.Report, attempt.History)

	if err := s.validate(ctx, res.Artifact); err != nil {
		return res, err
	}
	if err := s.save(res); err != nil {
		return res, err
	}
	return res, nil
}

// Revalidate checks an existing artifact against store and validates it
// again. Finalized artifacts are left untouched and a derived artifact is
// returned instead.
func Revalidate(ctx context.Context, cfg config.Config, store *trace.Store, a *artifact.Artifact, deps Deps) (*Result, error) {
	s, err := newStages(cfg, store, deps)
	if err != nil {
		return nil, err
	}
	res := &Result{RunID: uuid.New()}
	s.metrics.Start()
	report, err := s.checker.Check(ctx, a.RuleSet, store.Traces())
	if err != nil {
		return nil, err
	}

	target := a
	if a.Final() {
		target = a.Derive(res.RunID, report)
	} else if err := a.Recheck(report); err != nil {
		return nil, err
	}
	res.Artifact = target
	if target.Status != artifact.Consistent {
		if err := s.save(res); err != nil {
			return res, err
		}
		return res, fmt.Errorf("%w: %d discrepancies", artifact.ErrNotConsistent, report.Count())
	}
	if err := s.validate(ctx, target); err != nil {
		return res, err
	}
	if err := s.save(res); err != nil {
		return res, err
	}
	return res, nil
}

// Check reports the discrepancies of rs on the traces in store.
func Check(ctx context.Context, cfg config.Config, store *trace.Store, rs *rules.RuleSet) (*checker.Report, error) {
	s, err := newStages(cfg, store, Deps{})
	if err != nil {
		return nil, err
	}
	return s.checker.Check(ctx, rs, store.Traces())
}

func (s *stages) validate(ctx context.Context, a *artifact.Artifact) error {
	sample := s.store.Sample(s.cfg.Validation.SampleSize, s.cfg.Validation.Seed)
	report, err := s.validator.Validate(ctx, a.RuleSet, s.cfg.Validation.Playouts, sample)
	if err != nil {
		return fmt.Errorf("failed to validate rule set: %w", err)
	}
	if err := a.Finalize(report); err != nil {
		return err
	}
	log.Info().Str("artifact", a.ID.String()).Msgf("rule set %s", a.Status)
	return nil
}

func (s *stages) save(res *Result) error {
	if s.registry == nil || res.Artifact == nil {
		return nil
	}
	version, err := s.registry.Save(res.Artifact)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	res.Version = version
	log.Info().Str("artifact", res.Artifact.ID.String()).Msgf("saved as %s version %d", res.Artifact.RuleSet.Game, version)
	return nil
}
