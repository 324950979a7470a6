package engine

import (
	"fmt"

	"ggp/game"
	"ggp/rules"
)

// Local executes rule sets in process against a game's physics.
type Local struct {
	game game.Game
}

func NewLocal(g game.Game) *Local {
	if g == nil {
		panic("engine needs a game")
	}
	return &Local{game: g}
}

func (l *Local) Game() game.Game {
	return l.game
}

func (l *Local) Apply(state game.State, action game.Action, rs *rules.Compiled) (game.State, error) {
	if !rs.Legal(game.MoveEnv(l.game, state, action)) {
		return nil, fmt.Errorf("%w: %s", ErrIllegalAction, action)
	}
	next, err := l.game.Next(state, action)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInapplicable, action, err)
	}
	return next, nil
}

func (l *Local) Evaluate(state game.State, rs *rules.Compiled) (bool, map[string]float64, error) {
	env := game.StateEnv(l.game, state)
	return rs.Terminal(env), rs.Score(env), nil
}

func (l *Local) Legal(state game.State, rs *rules.Compiled) ([]game.Action, error) {
	var legal []game.Action
	for _, a := range l.game.Moves(state) {
		if rs.Legal(game.MoveEnv(l.game, state, a)) {
			legal = append(legal, a)
		}
	}
	return legal, nil
}
