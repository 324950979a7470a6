package trace

import (
	"fmt"

	"ggp/game"
)

// TicTacToeGames are reference move sequences: a horizontal win for x, a
// vertical win for o and a draw.
var TicTacToeGames = map[string][]int{
	"horizontal": {0, 3, 1, 4, 2},
	"vertical":   {0, 1, 2, 4, 8, 7},
	"draw":       {4, 0, 2, 6, 3, 5, 1, 7, 8},
}

// TicTacToeExamples records the named reference games in the order given,
// scored by the tic-tac-toe referee.
func TicTacToeExamples(names ...string) ([]*Trace, error) {
	g := game.TicTacToe{}
	traces := make([]*Trace, 0, len(names))
	for _, name := range names {
		cells, ok := TicTacToeGames[name]
		if !ok {
			return nil, fmt.Errorf("unknown example game %q", name)
		}
		actions, states, err := g.Play(cells...)
		if err != nil {
			return nil, fmt.Errorf("failed to play %s: %w", name, err)
		}
		done, scores := g.Referee(states[len(states)-1])
		if !done {
			return nil, fmt.Errorf("example %s does not finish", name)
		}
		t, err := Record(g, actions, Outcome{Scores: scores})
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, nil
}
