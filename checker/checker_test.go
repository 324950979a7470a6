package checker

import (
	"context"
	"testing"

	"ggp/engine"
	"ggp/game"
	"ggp/rules"
	"ggp/trace"

	"github.com/stretchr/testify/require"
)

func ticTacToeRules() *rules.RuleSet {
	rs := &rules.RuleSet{Game: game.TicTacToeName}
	rs.Add(rules.Predicate{Kind: rules.LegalMove, Atoms: []rules.Atom{rules.Is("cell_empty")}})
	rs.Add(rules.Predicate{Kind: rules.Terminal, Atoms: []rules.Atom{rules.Is("line_x")}})
	rs.Add(rules.Predicate{Kind: rules.Terminal, Atoms: []rules.Atom{rules.Is("line_o")}})
	rs.Add(rules.Predicate{Kind: rules.Terminal, Atoms: []rules.Atom{rules.Is("full")}})
	rs.Add(rules.Predicate{Kind: rules.Score, Atoms: []rules.Atom{rules.Is("line_x")}, Scores: map[string]float64{"x": 1, "o": 0}})
	rs.Add(rules.Predicate{Kind: rules.Score, Atoms: []rules.Atom{rules.Is("line_o")}, Scores: map[string]float64{"x": 0, "o": 1}})
	rs.Add(rules.Predicate{Kind: rules.Score, Atoms: []rules.Atom{rules.Is("full")}, Scores: map[string]float64{"x": 0.5, "o": 0.5}})
	return rs
}

func setup(t *testing.T, workers int) (*Checker, []*trace.Trace) {
	t.Helper()
	traces, err := trace.TicTacToeExamples("horizontal", "vertical", "draw")
	require.NoError(t, err)
	store := trace.NewStore(game.TicTacToe{}, traces)
	g := game.TicTacToe{}
	return New(g, engine.NewLocal(g), WithWorkers(workers)), store.Traces()
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	c, traces := setup(t, 4)

	t.Run("correct rules produce an empty report", func(t *testing.T) {
		report, err := c.Check(ctx, ticTacToeRules(), traces)
		require.NoError(t, err)
		require.True(t, report.Empty())
		require.Equal(t, 3, report.Traces)
		require.Equal(t, 20, report.Transitions)
	})

	t.Run("checking is idempotent and independent of worker count", func(t *testing.T) {
		rs := ticTacToeRules()
		rs.Remove(3)
		first, err := c.Check(ctx, rs, traces)
		require.NoError(t, err)
		second, err := c.Check(ctx, rs, traces)
		require.NoError(t, err)
		require.Equal(t, first, second)

		serial, _ := setup(t, 1)
		third, err := serial.Check(ctx, rs, traces)
		require.NoError(t, err)
		require.Equal(t, first, third)
	})

	t.Run("missing draw terminal is a terminal false negative", func(t *testing.T) {
		rs := ticTacToeRules()
		rs.Remove(3)
		report, err := c.Check(ctx, rs, traces)
		require.NoError(t, err)
		require.Equal(t, 1, report.Count())
		d := report.Entries[2][0]
		require.Equal(t, TerminalFalseNegative, d.Kind)
		require.Equal(t, 9, d.Step)
		require.Equal(t, "o=0.5,x=0.5", d.Class)
	})

	t.Run("permissive legality yields false positives on occupied cells", func(t *testing.T) {
		rs := ticTacToeRules()
		rs.Predicates[0].Atoms = nil
		report, err := c.Check(ctx, rs, traces)
		require.NoError(t, err)
		counts := report.ByKind()
		// every non-final state offers as many occupied cells as moves made
		require.Equal(t, (0+1+2+3+4)+(0+1+2+3+4+5)+(0+1+2+3+4+5+6+7+8), counts[LegalFalsePositive])
		require.Equal(t, 1, len(counts))
		require.Equal(t, "legal_move_1", report.All()[0].Predicate)
	})

	t.Run("no legal predicate firing misses every observed move", func(t *testing.T) {
		rs := ticTacToeRules()
		rs.Predicates[0].Atoms = []rules.Atom{rules.Is("full")}
		report, err := c.Check(ctx, rs, traces)
		require.NoError(t, err)
		require.Equal(t, map[Kind]int{LegalFalseNegative: 20}, report.ByKind())
	})

	t.Run("terminal predicates firing early are false positives", func(t *testing.T) {
		rs := ticTacToeRules()
		rs.Add(rules.Predicate{Kind: rules.Terminal, Atoms: []rules.Atom{rules.Eq("turn", "o")}})
		report, err := c.Check(ctx, rs, traces)
		require.NoError(t, err)
		for _, d := range report.All() {
			require.Equal(t, TerminalFalsePositive, d.Kind)
			require.Equal(t, "terminal_4", d.Predicate)
		}
		require.Equal(t, 2+3+4, report.Count())
	})

	t.Run("score order follows first match", func(t *testing.T) {
		rs := ticTacToeRules()
		rs.Add(rules.Predicate{Kind: rules.Score, Scores: map[string]float64{"x": 0, "o": 0}})
		rs.MoveBefore(7, 4)
		report, err := c.Check(ctx, rs, traces)
		require.NoError(t, err)
		require.Equal(t, map[Kind]int{ScoreMismatch: 3}, report.ByKind())
		require.Equal(t, "score_4", report.All()[0].Predicate)
		require.Equal(t, "o=0,x=0", report.All()[0].Predicted)
	})

	t.Run("recorded transitions the game disagrees with are reported", func(t *testing.T) {
		bad := *traces[0]
		bad.Transitions = append([]trace.Transition(nil), traces[0].Transitions...)
		bad.Transitions[0].Next = game.NewBoard()
		report, err := c.Check(ctx, ticTacToeRules(), []*trace.Trace{&bad})
		require.NoError(t, err)
		require.Equal(t, map[Kind]int{TransitionMismatch: 1}, report.ByKind())
	})

	t.Run("cancelled checks return the context error", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Check(cancelled, ticTacToeRules(), traces)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestGroups(t *testing.T) {
	report := &Report{Entries: map[int][]Discrepancy{
		0: {
			{Trace: 0, Step: 5, Kind: ScoreMismatch, Class: "a"},
			{Trace: 0, Step: 5, Kind: TerminalFalseNegative, Class: "a"},
		},
		1: {
			{Trace: 1, Step: 0, Kind: LegalFalseNegative},
			{Trace: 1, Step: 1, Kind: LegalFalseNegative},
		},
	}}
	groups := report.Groups()
	require.Len(t, groups, 3)
	require.Equal(t, LegalFalseNegative, groups[0].Kind)
	require.Equal(t, 2, groups[0].Weight())
	require.Equal(t, TerminalFalseNegative, groups[1].Kind, "Ties resolve termination before scoring")
	require.Equal(t, ScoreMismatch, groups[2].Kind)
	require.Equal(t, 4, report.Weight())
}
