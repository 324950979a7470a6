package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTicTacToeNext(t *testing.T) {
	g := TicTacToe{}

	t.Run("placing a mark on an empty cell flips the turn", func(t *testing.T) {
		next, err := g.Next(g.Initial(), Mark{Player: PlayerX, Cell: 4})
		require.NoError(t, err)
		require.Equal(t, "....x..../o", next.String())
	})

	t.Run("occupied cells cannot be marked", func(t *testing.T) {
		_, states, err := g.Play(4)
		require.NoError(t, err)
		_, err = g.Next(states[1], Mark{Player: PlayerO, Cell: 4})
		require.ErrorIs(t, err, ErrOccupied)
	})

	t.Run("marks outside the board and out of turn are rejected", func(t *testing.T) {
		_, err := g.Next(g.Initial(), Mark{Player: PlayerX, Cell: 12})
		require.ErrorIs(t, err, ErrOutOfBoard)
		_, err = g.Next(g.Initial(), Mark{Player: PlayerO, Cell: 0})
		require.ErrorIs(t, err, ErrWrongTurn)
	})

	t.Run("the original state is left untouched", func(t *testing.T) {
		initial := g.Initial()
		_, err := g.Next(initial, Mark{Player: PlayerX, Cell: 0})
		require.NoError(t, err)
		require.True(t, initial.Equal(NewBoard()))
	})
}

func TestTicTacToeMoves(t *testing.T) {
	g := TicTacToe{}
	_, states, err := g.Play(0, 4)
	require.NoError(t, err)

	moves := g.Moves(states[2])
	require.Len(t, moves, 9, "Vocabulary should include occupied cells")
	require.True(t, Contains(moves, Mark{Player: PlayerX, Cell: 4}))
	require.False(t, Contains(moves, Mark{Player: PlayerO, Cell: 4}), "Only the player to move is offered marks")
	require.False(t, Contains(moves, Mark{Player: PlayerX, Cell: 12}))
}

func TestTicTacToeFeatures(t *testing.T) {
	g := TicTacToe{}

	t.Run("horizontal win sets line_x", func(t *testing.T) {
		_, states, err := g.Play(0, 3, 1, 4, 2)
		require.NoError(t, err)
		final := states[len(states)-1]
		features := g.StateFeatures(final)
		require.Equal(t, true, features["line_x"])
		require.Equal(t, false, features["line_o"])
		require.Equal(t, false, features["full"])
		require.Equal(t, 4, features["empty_count"])
		require.Equal(t, PlayerO, features["turn"])

		done, scores := g.Referee(final)
		require.True(t, done)
		require.Equal(t, map[string]float64{PlayerX: 1, PlayerO: 0}, scores)
	})

	t.Run("draw fills the board without lines", func(t *testing.T) {
		_, states, err := g.Play(4, 0, 2, 6, 3, 5, 1, 7, 8)
		require.NoError(t, err)
		final := states[len(states)-1]
		features := g.StateFeatures(final)
		require.Equal(t, true, features["full"])
		require.Equal(t, false, features["line_x"])
		require.Equal(t, false, features["line_o"])
	})

	t.Run("action features report cell occupancy", func(t *testing.T) {
		_, states, err := g.Play(4)
		require.NoError(t, err)
		env := MoveEnv(g, states[1], Mark{Player: PlayerO, Cell: 4})
		require.Equal(t, false, env["cell_empty"])
		require.Equal(t, 4, env["cell"])
		require.Equal(t, PlayerO, env["turn"])
	})
}

func TestTicTacToeCodec(t *testing.T) {
	g := TicTacToe{}
	_, states, err := g.Play(0, 4)
	require.NoError(t, err)

	raw, err := g.EncodeState(states[2])
	require.NoError(t, err)
	require.JSONEq(t, `{"board":"x...o....","turn":"x"}`, string(raw))

	decoded, err := g.DecodeState(raw)
	require.NoError(t, err)
	require.True(t, decoded.Equal(states[2]))
	require.Equal(t, states[2].Hash(), decoded.Hash())

	_, err = g.DecodeState(json.RawMessage(`{"board":"xx","turn":"o"}`))
	require.Error(t, err)

	_, err = g.DecodeAction(json.RawMessage(`{"mark":"x"}`))
	require.Error(t, err, "A mark without a cell cannot be decoded")
}

func TestScoreClass(t *testing.T) {
	require.Equal(t, "o=0,x=1", ScoreClass(map[string]float64{"x": 1, "o": 0}))
	require.Equal(t, "o=0.5,x=0.5", ScoreClass(map[string]float64{"x": 0.5, "o": 0.5}))
	require.True(t, SameScores(map[string]float64{"x": 1, "o": 0}, map[string]float64{"o": 0, "x": 1}))
	require.False(t, SameScores(map[string]float64{"x": 1}, map[string]float64{"x": 1, "o": 0}))
}

func TestLookup(t *testing.T) {
	g, err := Lookup(TicTacToeName)
	require.NoError(t, err)
	require.Equal(t, TicTacToeName, g.Name())

	_, err = Lookup("chess")
	require.Error(t, err)
}
