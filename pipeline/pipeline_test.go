package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"ggp/artifact"
	"ggp/config"
	"ggp/engine"
	"ggp/game"
	"ggp/hypothesis"
	"ggp/metrics"
	"ggp/playout"
	"ggp/refine"
	"ggp/rules"
	"ggp/trace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func store(t *testing.T, names ...string) *trace.Store {
	t.Helper()
	traces, err := trace.TicTacToeExamples(names...)
	require.NoError(t, err)
	return trace.NewStore(game.TicTacToe{}, traces)
}

// contradictoryStore holds the same game twice with opposite outcomes.
func contradictoryStore(t *testing.T) *trace.Store {
	t.Helper()
	g := game.TicTacToe{}
	actions, _, err := g.Play(trace.TicTacToeGames["horizontal"]...)
	require.NoError(t, err)
	won, err := trace.Record(g, actions, trace.Outcome{Scores: map[string]float64{"x": 1, "o": 0}})
	require.NoError(t, err)
	lost, err := trace.Record(g, actions, trace.Outcome{Scores: map[string]float64{"x": 0, "o": 1}})
	require.NoError(t, err)
	return trace.NewStore(g, []*trace.Trace{won, lost})
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Validation.Playouts = 50
	return cfg
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("reference games yield a validated rule set", func(t *testing.T) {
		reg, err := artifact.Open(filepath.Join(t.TempDir(), "registry.db"))
		require.NoError(t, err)
		defer reg.Close()
		collector := metrics.NewCollector(prometheus.NewRegistry())

		res, err := Run(ctx, testConfig(), store(t, "horizontal", "vertical", "draw"), Deps{Registry: reg, Metrics: collector})
		require.NoError(t, err)
		a := res.Artifact
		require.Equal(t, artifact.Validated, a.Status)
		require.Empty(t, a.Discrepancies)
		require.Equal(t, 50, a.Validation.Playouts)
		require.Zero(t, a.Validation.NonTerminating)
		require.Equal(t, res.RunID, a.RunID)
		require.Equal(t, 1, res.Version)

		run := collector.Complete()
		require.Equal(t, 50, run.Playouts)
		require.LessOrEqual(t, run.Expansions, testConfig().Generator.MaxExpansions)
		require.Positive(t, run.Candidates)

		entries, err := reg.List(game.TicTacToeName)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, a.ID.String(), entries[0].ID)
	})

	t.Run("without a drawn game the rules never end a full board", func(t *testing.T) {
		cfg := testConfig()
		cfg.Validation.Playouts = 100
		res, err := Run(ctx, cfg, store(t, "horizontal", "vertical"), Deps{})
		require.NoError(t, err)
		a := res.Artifact
		require.Equal(t, artifact.Rejected, a.Status)
		require.Positive(t, a.Validation.NonTerminating)
		require.Contains(t, a.Validation.Failing, playout.NonTerminatingRate)
	})

	t.Run("malformed external drafts are dropped and the run goes on", func(t *testing.T) {
		var logs bytes.Buffer
		previous := log.Logger
		log.Logger = zerolog.New(&logs)
		defer func() { log.Logger = previous }()

		drafts := `{"predicates":[{"kind":"terminal","expr":"line_x || line_o || full"},{"kind":"score","expr":"line_x","scores":{"x":1,"o":0}}]}
{"predicates":[{"kind":"legal_move","expr":"cell_empty"},{"kind":"terminal","expr":"line_x || line_o || full"},{"kind":"score","expr":"line_x","scores":{"x":1,"o":0}},{"kind":"score","expr":"line_o","scores":{"x":0,"o":1}},{"kind":"score","expr":"full","scores":{"x":0.5,"o":0.5}}]}
`
		supplier, err := hypothesis.NewFileSupplier(strings.NewReader(drafts))
		require.NoError(t, err)
		cfg := testConfig()
		cfg.Generator.Method = config.ExternalSuggestion

		res, err := Run(ctx, cfg, store(t, "horizontal", "vertical", "draw"), Deps{Supplier: supplier})
		require.NoError(t, err)
		require.Len(t, res.Generation.Dropped, 1)
		require.Equal(t, artifact.Validated, res.Artifact.Status)
		require.Equal(t, "external-suggestion", res.Artifact.RuleSet.Provenance.Generator)
		require.Contains(t, logs.String(), "no legal_move predicate")
	})

	t.Run("contradictory traces leave a draft and a typed error", func(t *testing.T) {
		res, err := Run(ctx, testConfig(), contradictoryStore(t), Deps{})
		var failed *refine.NoConsistentRuleSet
		require.ErrorAs(t, err, &failed)
		require.NotNil(t, res.Artifact)
		require.Equal(t, artifact.Draft, res.Artifact.Status)
		require.NotEmpty(t, res.Artifact.Discrepancies)
		require.LessOrEqual(t, len(failed.Attempts), testConfig().Refinement.MaxCandidates)
	})

	t.Run("the configured search policy drives validation playouts", func(t *testing.T) {
		cfg := testConfig()
		cfg.Validation.Playouts = 10
		cfg.Validation.Policy = config.SearchPolicy
		cfg.Validation.SearchEpisodes = 8
		res, err := Run(ctx, cfg, store(t, "horizontal", "vertical", "draw"), Deps{})
		require.NoError(t, err)
		require.Empty(t, res.Artifact.Discrepancies)
		require.Equal(t, 10, res.Artifact.Validation.Playouts)
		require.Equal(t, 10, res.Artifact.Validation.Terminal)
		require.Zero(t, res.Artifact.Validation.Illegal)
	})

	t.Run("mismatched games are refused", func(t *testing.T) {
		cfg := testConfig()
		cfg.Game = "chess"
		_, err := Run(ctx, cfg, store(t, "horizontal"), Deps{})
		require.Error(t, err)
	})

	t.Run("external methods need a supplier", func(t *testing.T) {
		cfg := testConfig()
		cfg.Generator.Method = config.Hybrid
		_, err := Run(ctx, cfg, store(t, "horizontal"), Deps{})
		require.Error(t, err)
	})
}

func TestRevalidate(t *testing.T) {
	ctx := context.Background()
	s := store(t, "horizontal", "vertical", "draw")
	res, err := Run(ctx, testConfig(), s, Deps{})
	require.NoError(t, err)
	original := res.Artifact

	t.Run("finalized artifacts produce a derived artifact", func(t *testing.T) {
		again, err := Revalidate(ctx, testConfig(), s, original, Deps{})
		require.NoError(t, err)
		require.NotEqual(t, original.ID, again.Artifact.ID)
		require.Equal(t, original.ID.String(), again.Artifact.Parent)
		require.Equal(t, artifact.Validated, again.Artifact.Status)
		require.Equal(t, artifact.Validated, original.Status)
	})

	t.Run("drafts are rechecked in place", func(t *testing.T) {
		rs := original.RuleSet.Clone()
		draft := artifact.New(res.RunID, rs, nil, nil)
		require.Equal(t, artifact.Draft, draft.Status)

		again, err := Revalidate(ctx, testConfig(), s, draft, Deps{})
		require.NoError(t, err)
		require.Equal(t, draft.ID, again.Artifact.ID)
		require.Equal(t, artifact.Validated, draft.Status)
	})

	t.Run("stored drafts are rechecked in place in the registry", func(t *testing.T) {
		reg, err := artifact.Open(filepath.Join(t.TempDir(), "registry.db"))
		require.NoError(t, err)
		defer reg.Close()

		draft := artifact.New(res.RunID, original.RuleSet.Clone(), nil, nil)
		v, err := reg.Save(draft)
		require.NoError(t, err)

		again, err := Revalidate(ctx, testConfig(), s, draft, Deps{Registry: reg})
		require.NoError(t, err)
		require.Equal(t, v, again.Version)
		entries, err := reg.List(game.TicTacToeName)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, artifact.Validated, entries[0].Status)
	})

	t.Run("drafts left by a failed run can be rechecked against the same registry", func(t *testing.T) {
		reg, err := artifact.Open(filepath.Join(t.TempDir(), "registry.db"))
		require.NoError(t, err)
		defer reg.Close()

		contradictory := contradictoryStore(t)
		failed, err := Run(ctx, testConfig(), contradictory, Deps{Registry: reg})
		require.Error(t, err)
		require.Equal(t, 1, failed.Version)

		again, err := Revalidate(ctx, testConfig(), contradictory, failed.Artifact, Deps{Registry: reg})
		require.ErrorIs(t, err, artifact.ErrNotConsistent)
		require.Equal(t, 1, again.Version)
		entries, err := reg.List(game.TicTacToeName)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, artifact.Draft, entries[0].Status)
	})

	t.Run("inconsistent rule sets are not validated", func(t *testing.T) {
		rs := original.RuleSet.Clone()
		rs.Remove(rs.Indices(rules.Score)[0])
		draft := artifact.New(res.RunID, rs, nil, nil)
		again, err := Revalidate(ctx, testConfig(), s, draft, Deps{})
		require.ErrorIs(t, err, artifact.ErrNotConsistent)
		require.Equal(t, artifact.Draft, again.Artifact.Status)
		require.Nil(t, again.Artifact.Validation)
	})
}

func TestCheck(t *testing.T) {
	rs := &rules.RuleSet{Game: game.TicTacToeName}
	rs.Add(rules.Predicate{Kind: rules.LegalMove, Expr: "cell_empty"})
	report, err := Check(context.Background(), testConfig(), store(t, "horizontal", "vertical", "draw"), rs)
	require.NoError(t, err)
	require.Equal(t, 6, report.Count(), "Each game is neither ended nor scored")
}

// randomGames plays n uniformly random tic-tac-toe games to the end.
func randomGames(t *testing.T, n int, seed uint64) []*trace.Trace {
	t.Helper()
	g := game.TicTacToe{}
	rng := rand.New(rand.NewSource(seed))
	traces := make([]*trace.Trace, 0, n)
	for len(traces) < n {
		var s game.State = g.Initial()
		var actions []game.Action
		for {
			if done, scores := g.Referee(s); done {
				tr, err := trace.Record(g, actions, trace.Outcome{Scores: scores})
				require.NoError(t, err)
				traces = append(traces, tr)
				break
			}
			var open []game.Action
			for _, a := range g.Moves(s) {
				if _, err := g.Next(s, a); err == nil {
					open = append(open, a)
				}
			}
			a := open[rng.Intn(len(open))]
			next, err := g.Next(s, a)
			require.NoError(t, err)
			actions = append(actions, a)
			s = next
		}
	}
	return traces
}

func TestSoundness(t *testing.T) {
	g := game.TicTacToe{}
	reference, err := trace.TicTacToeExamples("horizontal", "vertical", "draw")
	require.NoError(t, err)
	s := trace.NewStore(g, append(reference, randomGames(t, 10, 3)...))

	res, err := Run(context.Background(), testConfig(), s, Deps{})
	require.NoError(t, err)
	require.Empty(t, res.Artifact.Discrepancies)

	compiled, err := rules.Compile(res.Artifact.RuleSet)
	require.NoError(t, err)
	exec := engine.NewLocal(g)

	for _, tr := range s.Traces() {
		var state game.State = g.Initial()
		for step, move := range tr.Transitions {
			require.True(t, state.Equal(move.State), "trace %d step %d", tr.Index, step)
			terminal, _, err := exec.Evaluate(state, compiled)
			require.NoError(t, err)
			require.False(t, terminal, "trace %d step %d", tr.Index, step)

			legal, err := exec.Legal(state, compiled)
			require.NoError(t, err)
			require.True(t, game.Contains(legal, move.Action), "trace %d step %d", tr.Index, step)
			for _, a := range legal {
				_, err := exec.Apply(state, a, compiled)
				require.NoError(t, err, "Every predicted legal move can be applied")
			}

			next, err := exec.Apply(state, move.Action, compiled)
			require.NoError(t, err)
			require.True(t, next.Equal(move.Next), "trace %d step %d", tr.Index, step)
			state = next
		}
		terminal, scores, err := exec.Evaluate(state, compiled)
		require.NoError(t, err)
		require.True(t, terminal, "trace %d ends", tr.Index)
		require.True(t, game.SameScores(tr.Outcome.Scores, scores), "trace %d is scored %v", tr.Index, scores)
	}
}
