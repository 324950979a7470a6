package checker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ggp/engine"
	"ggp/game"
	"ggp/rules"
	"ggp/trace"

	"github.com/rs/zerolog/log"
)

// Checker replays traces against a rule set and collects every point of
// disagreement. It holds no state between checks.
type Checker struct {
	game    game.Game
	exec    engine.Executor
	workers int
}

type Option func(*Checker)

func WithWorkers(n int) Option {
	return func(c *Checker) {
		c.workers = n
	}
}

func New(g game.Game, exec engine.Executor, opts ...Option) *Checker {
	c := &Checker{game: g, exec: exec, workers: 1}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers < 1 {
		panic("checker needs at least one worker")
	}
	return c
}

// Check compiles the rule set and replays every trace through it. The same
// inputs always produce the same report.
func (c *Checker) Check(ctx context.Context, rs *rules.RuleSet, traces []*trace.Trace) (*Report, error) {
	compiled, err := rules.Compile(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule set: %w", err)
	}
	return c.CheckCompiled(ctx, compiled, traces)
}

func (c *Checker) CheckCompiled(ctx context.Context, compiled *rules.Compiled, traces []*trace.Trace) (*Report, error) {
	tasks := make(chan int, len(traces))
	for i := range traces {
		tasks <- i
	}
	close(tasks)

	results := make([][]Discrepancy, len(traces))
	var wg sync.WaitGroup
	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				if ctx.Err() != nil {
					continue
				}
				results[i] = c.checkTrace(compiled, traces[i])
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{Traces: len(traces), Entries: make(map[int][]Discrepancy)}
	for i, ds := range results {
		report.Transitions += traces[i].Len()
		if len(ds) == 0 {
			continue
		}
		sort.SliceStable(ds, func(a, b int) bool { return less(ds[a], ds[b]) })
		report.Entries[traces[i].Index] = ds
	}
	log.Debug().Msgf("checked %d traces: %d discrepancies", len(traces), report.Count())
	return report, nil
}

func (c *Checker) checkTrace(compiled *rules.Compiled, t *trace.Trace) []Discrepancy {
	var ds []Discrepancy
	for step, tr := range t.Transitions {
		ds = append(ds, c.checkStep(compiled, t.Index, step, tr)...)
	}

	final := t.Final()
	class := t.Outcome.Class()
	env := game.StateEnv(c.game, final)
	terminal, scores, err := c.exec.Evaluate(final, compiled)
	if err != nil {
		log.Warn().Msgf("failed to evaluate final state of trace %d: %v", t.Index, err)
	}
	if !terminal {
		ds = append(ds, Discrepancy{
			Trace: t.Index, Step: t.Len(), Kind: TerminalFalseNegative, Class: class,
			Expected: "terminal", Predicted: "non-terminal",
		})
	}
	switch {
	case scores == nil:
		ds = append(ds, Discrepancy{
			Trace: t.Index, Step: t.Len(), Kind: ScoreMismatch, Class: class,
			Expected: class, Predicted: "unscored",
		})
	case !game.SameScores(scores, t.Outcome.Scores):
		ds = append(ds, Discrepancy{
			Trace: t.Index, Step: t.Len(), Kind: ScoreMismatch, Class: class,
			Expected: class, Predicted: game.ScoreClass(scores),
			Predicate: compiled.Name(compiled.First(rules.Score, env)),
		})
	}
	return ds
}

func (c *Checker) checkStep(compiled *rules.Compiled, index, step int, tr trace.Transition) []Discrepancy {
	var ds []Discrepancy
	env := game.StateEnv(c.game, tr.State)
	if i := compiled.First(rules.Terminal, env); i >= 0 {
		ds = append(ds, Discrepancy{
			Trace: index, Step: step, Kind: TerminalFalsePositive,
			Expected: "non-terminal", Predicted: "terminal", Predicate: compiled.Name(i),
		})
	}

	legal, err := c.exec.Legal(tr.State, compiled)
	if err != nil {
		log.Warn().Msgf("failed to list legal moves of trace %d step %d: %v", index, step, err)
	}
	if !game.Contains(legal, tr.Action) {
		ds = append(ds, Discrepancy{
			Trace: index, Step: step, Kind: LegalFalseNegative,
			Action: tr.Action.String(), ActionKey: tr.Action.Hash(),
			Expected: "legal", Predicted: "illegal",
		})
	}
	for _, a := range legal {
		if _, err := c.exec.Apply(tr.State, a, compiled); err != nil {
			ds = append(ds, Discrepancy{
				Trace: index, Step: step, Kind: LegalFalsePositive,
				Action: a.String(), ActionKey: a.Hash(),
				Expected: "inapplicable", Predicted: "legal",
				Predicate: compiled.Name(compiled.First(rules.LegalMove, game.MoveEnv(c.game, tr.State, a))),
			})
		}
	}

	next, err := c.game.Next(tr.State, tr.Action)
	if err != nil || !next.Equal(tr.Next) {
		predicted := "inapplicable"
		if err == nil {
			predicted = next.String()
		}
		ds = append(ds, Discrepancy{
			Trace: index, Step: step, Kind: TransitionMismatch,
			Action: tr.Action.String(), ActionKey: tr.Action.Hash(),
			Expected: tr.Next.String(), Predicted: predicted,
		})
	}
	return ds
}
