package engine

import (
	"errors"

	"ggp/game"
	"ggp/rules"
)

var (
	// ErrIllegalAction is returned by Apply when no legal_move predicate
	// allows the action.
	ErrIllegalAction = errors.New("action is not legal under the rule set")
	// ErrInapplicable is returned by Apply when the game cannot carry out an
	// action the rules allow.
	ErrInapplicable = errors.New("action cannot be applied")
)

// Executor runs a compiled rule set over a game.
type Executor interface {
	// Apply plays a legal action and returns the successor state.
	Apply(state game.State, action game.Action, rs *rules.Compiled) (game.State, error)
	// Evaluate reports whether the state is terminal and the score vector of
	// the first matching score predicate, nil when none matches.
	Evaluate(state game.State, rs *rules.Compiled) (terminal bool, scores map[string]float64, err error)
	// Legal lists the actions of the move vocabulary allowed by the rules.
	Legal(state game.State, rs *rules.Compiled) ([]game.Action, error)
}
