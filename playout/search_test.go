package playout

import (
	"context"
	"math"
	"testing"

	"ggp/config"
	"ggp/engine"
	"ggp/game"
	"ggp/rules"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestUCTEvaluate(t *testing.T) {
	t.Run("computing UCT value", func(t *testing.T) {
		policy := newUCT(2.0, 100)
		got := policy.evaluate(5.0, 10)

		expected := 5.0/10 + math.Sqrt(2.0*math.Log(100)/10.0)
		require.InDelta(t, expected, got, 0.0001,
			"Should compute q/n + sqrt(c^2*ln(N)/n)")
	})

	t.Run("panics with zero visits", func(t *testing.T) {
		require.Panics(t, func() { newUCT(2.0, 0) }, "Should panic when N is 0")
		require.Panics(t, func() { newUCT(2.0, 100).evaluate(5.0, 0) }, "Should panic when n is 0")
	})

	t.Run("exploration term increases with parent visits", func(t *testing.T) {
		require.Greater(t, newUCT(2.0, 1000).evaluate(5.0, 10), newUCT(2.0, 100).evaluate(5.0, 10))
	})

	t.Run("exploration term decreases with child visits", func(t *testing.T) {
		policy := newUCT(2.0, 100)
		require.Greater(t, policy.evaluate(5.0, 10), policy.evaluate(5.0, 20))
	})
}

// silent hides the player to move.
type silent struct {
	game.Game
}

func planned(t *testing.T, rs *rules.RuleSet, opts ...SearchOption) Policy {
	t.Helper()
	g := game.TicTacToe{}
	compiled, err := rules.Compile(rs)
	require.NoError(t, err)
	p, err := NewMCTS(opts...).Plan(g, engine.NewLocal(g), compiled)
	require.NoError(t, err)
	return p
}

func legalMarks(t *testing.T, b game.Board) []game.Action {
	t.Helper()
	compiled, err := rules.Compile(reference())
	require.NoError(t, err)
	legal, err := engine.NewLocal(game.TicTacToe{}).Legal(b, compiled)
	require.NoError(t, err)
	return legal
}

func TestMCTS(t *testing.T) {
	t.Run("search takes an immediate win", func(t *testing.T) {
		b, err := game.ParseBoard("xx.oo....", game.PlayerX)
		require.NoError(t, err)
		policy := planned(t, reference(), WithEpisodes(200))

		a := policy.Choose(b, legalMarks(t, b), rand.New(rand.NewSource(1)))
		require.Equal(t, game.Mark{Player: game.PlayerX, Cell: 2}, a)
	})

	t.Run("choices are reproducible for a seed", func(t *testing.T) {
		b := game.NewBoard()
		policy := planned(t, reference(), WithEpisodes(30))
		legal := legalMarks(t, b)
		once := policy.Choose(b, legal, rand.New(rand.NewSource(9)))
		again := policy.Choose(b, legal, rand.New(rand.NewSource(9)))
		require.Equal(t, once, again)
	})

	t.Run("a single legal action is played without searching", func(t *testing.T) {
		b := game.NewBoard()
		only := []game.Action{game.Mark{Player: game.PlayerX, Cell: 4}}
		require.Equal(t, only[0], planned(t, reference()).Choose(b, only, nil))
	})

	t.Run("actions the rules refuse never score", func(t *testing.T) {
		b, err := game.ParseBoard("xx.oo....", game.PlayerX)
		require.NoError(t, err)
		policy := planned(t, reference(), WithEpisodes(50))
		occupied := game.Mark{Player: game.PlayerX, Cell: 0}
		open := game.Mark{Player: game.PlayerX, Cell: 5}
		require.Equal(t, open, policy.Choose(b, []game.Action{occupied, open}, rand.New(rand.NewSource(1))))
	})

	t.Run("unplanned searches and bad settings panic", func(t *testing.T) {
		b := game.NewBoard()
		require.Panics(t, func() { NewMCTS().Choose(b, legalMarks(t, b), rand.New(rand.NewSource(1))) })
		require.Panics(t, func() { NewMCTS(WithEpisodes(0)) })
		require.Panics(t, func() { NewMCTS(WithCutoff(0)) })
		require.Panics(t, func() { NewMCTS(WithExploration(0)) })
	})

	t.Run("games without a player to move cannot be searched", func(t *testing.T) {
		g := silent{game.TicTacToe{}}
		compiled, err := rules.Compile(reference())
		require.NoError(t, err)
		_, err = NewMCTS().Plan(g, engine.NewLocal(g), compiled)
		require.ErrorContains(t, err, "player to move")
	})
}

func TestSearchPlayouts(t *testing.T) {
	ctx := context.Background()
	search := NewMCTS(WithEpisodes(16))

	t.Run("reference rules play out to the end under search", func(t *testing.T) {
		report, err := newValidator(WithPolicy(search)).Validate(ctx, reference(), 10, sample(t))
		require.NoError(t, err)
		require.Equal(t, 10, report.Terminal)
		require.Zero(t, report.NonTerminating)
		require.Zero(t, report.Illegal)
		require.Zero(t, report.Unscored)
	})

	t.Run("search results do not depend on the number of workers", func(t *testing.T) {
		one, err := newValidator(WithWorkers(1), WithPolicy(search)).Validate(ctx, reference(), 6, sample(t))
		require.NoError(t, err)
		many, err := newValidator(WithWorkers(4), WithPolicy(search)).Validate(ctx, reference(), 6, sample(t))
		require.NoError(t, err)
		require.Equal(t, one.Results, many.Results)
	})

	t.Run("stuck searched playouts count as non-terminating", func(t *testing.T) {
		rs := ruleSet("cell_empty", "line_x || line_o", xScore, oScore)
		report, err := newValidator(WithPolicy(search)).Validate(ctx, rs, 6, sample(t))
		require.NoError(t, err)
		require.Positive(t, report.Terminal+report.Stuck)
		require.Equal(t, report.Stuck, report.NonTerminating)
	})

	t.Run("planning errors fail validation", func(t *testing.T) {
		g := silent{game.TicTacToe{}}
		_, err := New(g, engine.NewLocal(g), WithPolicy(search)).Validate(ctx, reference(), 1, sample(t))
		require.ErrorContains(t, err, "failed to plan playout policy")
	})

	t.Run("the configured policy is used", func(t *testing.T) {
		cfg := config.Default().Validation
		require.Equal(t, UniformRandom(), PolicyFromConfig(cfg))

		cfg.Policy = config.SearchPolicy
		cfg.SearchEpisodes = 8
		p, ok := PolicyFromConfig(cfg).(*MCTS)
		require.True(t, ok)
		require.Equal(t, 8, p.episodes)
		require.Equal(t, cfg.SearchCutoff, p.cutoff)
	})
}
