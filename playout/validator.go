package playout

import (
	"context"
	"errors"
	"fmt"

	"ggp/config"
	"ggp/engine"
	"ggp/game"
	"ggp/metrics"
	"ggp/rules"
	"ggp/trace"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// Validator plays games under a rule set and compares their statistics
// with the observed traces.
type Validator struct {
	game       game.Game
	exec       engine.Executor
	policy     Policy
	stepCap    int
	workers    int
	seed       uint64
	tolerances Tolerances
	metrics    metrics.Collector
}

type Option func(*Validator)

func WithPolicy(p Policy) Option {
	return func(v *Validator) {
		v.policy = p
	}
}

func WithStepCap(n int) Option {
	return func(v *Validator) {
		v.stepCap = n
	}
}

func WithWorkers(n int) Option {
	return func(v *Validator) {
		v.workers = n
	}
}

// WithSeed sets the base seed; playout i is seeded with seed+i.
func WithSeed(seed uint64) Option {
	return func(v *Validator) {
		v.seed = seed
	}
}

func WithTolerances(t Tolerances) Option {
	return func(v *Validator) {
		v.tolerances = t
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(v *Validator) {
		v.metrics = c
	}
}

// FromConfig turns the validation settings into options.
func FromConfig(cfg config.Validation, workers int) []Option {
	return []Option{
		WithStepCap(cfg.StepCap),
		WithWorkers(workers),
		WithSeed(cfg.Seed),
		WithPolicy(PolicyFromConfig(cfg)),
		WithTolerances(TolerancesFrom(cfg)),
	}
}

func New(g game.Game, exec engine.Executor, opts ...Option) *Validator {
	d := config.Default()
	v := &Validator{
		game:       g,
		exec:       exec,
		policy:     UniformRandom(),
		stepCap:    d.Validation.StepCap,
		workers:    d.Workers,
		seed:       d.Validation.Seed,
		tolerances: TolerancesFrom(d.Validation),
		metrics:    metrics.NewDummyCollector(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.stepCap < 1 {
		panic("step cap must be at least 1")
	}
	if v.workers < 1 {
		panic("number of workers must be at least 1")
	}
	return v
}

// Validate runs n playouts of rs and judges them against the sample.
func (v *Validator) Validate(ctx context.Context, rs *rules.RuleSet, n int, sample []*trace.Trace) (*Report, error) {
	if n < 1 {
		return nil, fmt.Errorf("need at least one playout, got %d", n)
	}
	if len(sample) == 0 {
		return nil, errors.New("validation needs a non-empty trace sample")
	}
	compiled, err := rules.Compile(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule set: %w", err)
	}
	policy := v.policy
	if p, ok := policy.(Planner); ok {
		if policy, err = p.Plan(v.game, v.exec, compiled); err != nil {
			return nil, fmt.Errorf("failed to plan playout policy: %w", err)
		}
	}

	results := make([]Result, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range n {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := v.play(compiled, policy, i)
			if err != nil {
				return fmt.Errorf("playout %d: %w", i, err)
			}
			results[i] = r
			v.metrics.AddPlayout(r.Length, r.Terminating())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := summarize(results, trace.Summarize(sample), v.tolerances)
	log.Info().Msgf("%d playouts: %d terminal, %d non-terminating, %d illegal, %d unscored, verdict %s",
		report.Playouts, report.Terminal, report.NonTerminating, report.Illegal, report.Unscored, report.Verdict)
	if report.Verdict == Rejected {
		log.Warn().Strs("failing", report.Failing).Msg("rule set rejected by playouts")
	}
	return report, nil
}

// play follows the policy from the initial state until the rules declare
// the state terminal, no action is predicted legal, an action fails to
// apply or the step cap is reached.
func (v *Validator) play(compiled *rules.Compiled, policy Policy, index int) (Result, error) {
	r := Result{Index: index}
	rng := rand.New(rand.NewSource(v.seed + uint64(index)))
	state := v.game.Initial()
	for {
		terminal, scores, err := v.exec.Evaluate(state, compiled)
		if err != nil {
			return r, err
		}
		if terminal {
			r.Terminal = true
			if scores == nil {
				r.Unscored = true
			} else {
				r.Class = game.ScoreClass(scores)
			}
			return r, nil
		}
		if r.Length >= v.stepCap {
			r.Capped = true
			return r, nil
		}
		legal, err := v.exec.Legal(state, compiled)
		if err != nil {
			return r, err
		}
		if len(legal) == 0 {
			r.Stuck = true
			return r, nil
		}
		a := policy.Choose(state, legal, rng)
		next, err := v.exec.Apply(state, a, compiled)
		if err != nil {
			log.Debug().Msgf("playout %d: %s is predicted legal but fails: %v", index, a, err)
			r.Illegal = true
			return r, nil
		}
		state = next
		r.Length++
	}
}
