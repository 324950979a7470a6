package refine

import (
	"context"
	"fmt"
	"time"

	"ggp/checker"
	"ggp/config"
	"ggp/game"
	"ggp/hypothesis"
	"ggp/metrics"
	"ggp/rules"
	"ggp/trace"

	"github.com/rs/zerolog/log"
)

// maxStalls is the number of consecutive iterations without improvement
// after which a candidate is considered converged.
const maxStalls = 2

type State string

const (
	Generated State = "generated"
	Checked   State = "checked"
	Refining  State = "refining"
	Converged State = "converged"
	Abandoned State = "abandoned"
)

// Step records one refinement iteration.
type Step struct {
	Iteration    int    `json:"iteration"`
	Edit         string `json:"edit"`
	Generalizing bool   `json:"generalizing"`
	Before       int    `json:"before"`
	After        int    `json:"after"`
	Parent       string `json:"parent"`
	Hash         string `json:"hash"`
	Applied      bool   `json:"applied"`
}

// Attempt is the outcome of refining one candidate. Increases counts the
// generalizing edits applied although they raised the discrepancy count.
type Attempt struct {
	Candidate  int             `json:"candidate"`
	Rules      *rules.RuleSet  `json:"rules"`
	Report     *checker.Report `json:"-"`
	State      State           `json:"state"`
	Reason     string          `json:"reason"`
	Iterations int             `json:"iterations"`
	Increases  int             `json:"increases"`
	History    []Step          `json:"history,omitempty"`
}

func (a *Attempt) Count() int {
	if a.Report == nil {
		return -1
	}
	return a.Report.Count()
}

// Consistent reports whether the attempt converged with no discrepancy left.
func (a *Attempt) Consistent() bool {
	return a.State == Converged && a.Report != nil && a.Report.Empty()
}

// NoConsistentRuleSet is returned when no candidate converges to zero
// discrepancies. Best is the attempt with the fewest discrepancies.
type NoConsistentRuleSet struct {
	Best     *Attempt
	Attempts []*Attempt
}

func (e *NoConsistentRuleSet) Error() string {
	if e.Best == nil {
		return "no candidate to refine"
	}
	return fmt.Sprintf("no consistent rule set after %d candidates (best has %d discrepancies, %s)",
		len(e.Attempts), e.Best.Count(), e.Best.State)
}

// Loop refines candidates against the trace store until they are
// consistent, stuck or out of budget.
type Loop struct {
	game          game.Game
	checker       *checker.Checker
	traces        []*trace.Trace
	evidence      *hypothesis.Evidence
	maxCandidates int
	maxIterations int
	maxEdits      int
	divergence    int
	edits         EditSource
	metrics       metrics.Collector
}

// EditSource enumerates the edits tried on a rule set with discrepancies,
// most promising first.
type EditSource func(rs *rules.RuleSet, report *checker.Report) ([]hypothesis.Edit, error)

type Option func(*Loop)

// WithEdits replaces the built-in edit enumeration.
func WithEdits(src EditSource) Option {
	return func(l *Loop) {
		l.edits = src
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(l *Loop) {
		l.metrics = c
	}
}

func New(g game.Game, c *checker.Checker, store *trace.Store, cfg config.Refinement, opts ...Option) *Loop {
	if cfg.MaxCandidates < 1 || cfg.MaxIterations < 1 || cfg.MaxEdits < 1 || cfg.DivergenceLimit < 1 {
		panic("refinement budgets must be at least 1")
	}
	traces := store.Traces()
	l := &Loop{
		game:          g,
		checker:       c,
		traces:        traces,
		evidence:      hypothesis.NewEvidence(g, traces),
		maxCandidates: cfg.MaxCandidates,
		maxIterations: cfg.MaxIterations,
		maxEdits:      cfg.MaxEdits,
		divergence:    cfg.DivergenceLimit,
		metrics:       metrics.NewDummyCollector(),
	}
	l.edits = l.Edits
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run refines candidates in order, at most MaxCandidates of them, and
// returns the first that converges to a consistent rule set.
func (l *Loop) Run(ctx context.Context, candidates []*rules.RuleSet) (*Attempt, error) {
	var attempts []*Attempt
	for i, rs := range candidates {
		if i >= l.maxCandidates {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := l.Refine(ctx, i, rs)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
		if a.Consistent() {
			log.Info().Int("candidate", i).Msgf("candidate consistent after %d iterations", a.Iterations)
			return a, nil
		}
		log.Info().Int("candidate", i).Msgf("candidate %s with %d discrepancies: %s", a.State, a.Count(), a.Reason)
	}

	var best *Attempt
	for _, a := range attempts {
		if best == nil || a.Count() < best.Count() {
			best = a
		}
	}
	return nil, &NoConsistentRuleSet{Best: best, Attempts: attempts}
}

type evaluated struct {
	edit   hypothesis.Edit
	rules  *rules.RuleSet
	report *checker.Report
	count  int
	delta  int
	order  int
}

func (e *evaluated) before(o *evaluated) bool {
	if e.count != o.count {
		return e.count < o.count
	}
	if e.delta != o.delta {
		return e.delta < o.delta
	}
	return e.order < o.order
}

// Refine drives one candidate to Converged or Abandoned.
func (l *Loop) Refine(ctx context.Context, candidate int, rs *rules.RuleSet) (*Attempt, error) {
	a := &Attempt{Candidate: candidate, Rules: rs, State: Generated}
	report, err := l.check(ctx, rs)
	if err != nil {
		return nil, err
	}
	a.Report = report
	a.State = Checked

	stalls, increases := 0, 0
	for {
		count := a.Report.Count()
		if count == 0 {
			a.State, a.Reason = Converged, "consistent"
			return a, nil
		}
		if a.Iterations >= l.maxIterations {
			a.State, a.Reason = Abandoned, "iteration budget exhausted"
			return a, nil
		}
		a.State = Refining
		a.Iterations++

		edits, err := l.edits(a.Rules, a.Report)
		if err != nil {
			return nil, err
		}
		if len(edits) == 0 {
			a.State, a.Reason = Converged, "no applicable edit"
			return a, nil
		}

		best, bestGeneral, err := l.evaluate(ctx, a.Rules, edits)
		if err != nil {
			return nil, err
		}
		logger := log.With().Int("candidate", candidate).Int("iteration", a.Iterations).Logger()

		var chosen *evaluated
		switch {
		case best == nil:
		case best.count < count:
			chosen = best
			stalls, increases = 0, 0
		case best.count > count && bestGeneral != nil:
			chosen = bestGeneral
			stalls = 0
			increases++
			a.Increases++
			logger.Warn().Msgf("applying %q raises discrepancies from %d to %d", chosen.edit.Description, count, chosen.count)
		}

		if chosen == nil {
			stalls++
			increases = 0
			a.History = append(a.History, l.step(a, best, count, false))
			l.metrics.AddIteration(false)
			logger.Debug().Msgf("no improvement on %d discrepancies", count)
			if stalls >= maxStalls {
				a.State, a.Reason = Converged, "no improvement"
				return a, nil
			}
			continue
		}

		a.History = append(a.History, l.step(a, chosen, count, true))
		l.metrics.AddIteration(true)
		logger.Debug().Msgf("%s: %d -> %d discrepancies", chosen.edit.Description, count, chosen.count)
		a.Rules, a.Report = chosen.rules, chosen.report
		a.State = Checked
		if increases >= l.divergence {
			a.State, a.Reason = Abandoned, "discrepancies kept increasing"
			return a, nil
		}
	}
}

func (l *Loop) step(a *Attempt, e *evaluated, before int, applied bool) Step {
	s := Step{Iteration: a.Iterations, Before: before, After: before, Parent: a.Rules.StructuralHash(), Applied: applied}
	if e != nil {
		s.Edit = e.edit.Description
		s.Generalizing = e.edit.Generalizing
		s.After = e.count
		s.Hash = e.rules.StructuralHash()
	}
	return s
}

func (l *Loop) check(ctx context.Context, rs *rules.RuleSet) (*checker.Report, error) {
	start := time.Now()
	report, err := l.checker.Check(ctx, rs, l.traces)
	if err != nil {
		return nil, err
	}
	l.metrics.AddCheck(time.Since(start))
	return report, nil
}

// evaluate checks up to maxEdits distinct edits of rs and returns the best
// one overall and the best generalizing one.
func (l *Loop) evaluate(ctx context.Context, rs *rules.RuleSet, edits []hypothesis.Edit) (best, bestGeneral *evaluated, err error) {
	seen := map[string]bool{rs.StructuralHash(): true}
	complexity := rs.Complexity()
	n := 0
	for _, e := range edits {
		if n >= l.maxEdits {
			break
		}
		child := e.On(rs)
		h := child.StructuralHash()
		if seen[h] {
			continue
		}
		seen[h] = true
		if err := child.Validate(); err != nil {
			log.Debug().Msgf("skipping %q: %v", e.Description, err)
			continue
		}
		report, err := l.check(ctx, child)
		if err != nil {
			return nil, nil, err
		}
		delta := child.Complexity() - complexity
		if delta < 0 {
			delta = -delta
		}
		ev := &evaluated{edit: e, rules: child, report: report, count: report.Count(), delta: delta, order: n}
		n++
		if best == nil || ev.before(best) {
			best = ev
		}
		if e.Generalizing && (bestGeneral == nil || ev.before(bestGeneral)) {
			bestGeneral = ev
		}
	}
	return best, bestGeneral, nil
}
