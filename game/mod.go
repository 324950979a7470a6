package game

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Hash identifies a state or action. Equal values always produce equal hashes.
type Hash uint64

// State is an opaque game position. Implementations are immutable: Next
// always returns a new value.
type State interface {
	Hash() Hash
	Equal(State) bool
	String() string
}

// Action is an opaque move made by the player to act.
type Action interface {
	Hash() Hash
	Equal(Action) bool
	String() string
}

// Game supplies the payload behind states and actions. It knows how moves
// change the board but not which of them the rules allow, when the game is
// over, or who won.
type Game interface {
	Name() string
	Players() []string
	Initial() State

	DecodeState(raw json.RawMessage) (State, error)
	DecodeAction(raw json.RawMessage) (Action, error)
	EncodeState(State) (json.RawMessage, error)
	EncodeAction(Action) (json.RawMessage, error)

	// Moves lists every action the player to move could physically express,
	// whether or not it can be applied.
	Moves(State) []Action
	// Next applies an action. It fails when the action cannot be carried out
	// on the given state.
	Next(State, Action) (State, error)

	StateFeatures(State) map[string]any
	ActionFeatures(State, Action) map[string]any
}

// Mover is implemented by games where one player acts at a time.
type Mover interface {
	Mover(State) string
}

// StateEnv is the evaluation environment of a state.
func StateEnv(g Game, s State) map[string]any {
	env := make(map[string]any)
	for k, v := range g.StateFeatures(s) {
		env[k] = v
	}
	return env
}

// MoveEnv merges the state and action features. Action features win on
// name clashes.
func MoveEnv(g Game, s State, a Action) map[string]any {
	env := StateEnv(g, s)
	for k, v := range g.ActionFeatures(s, a) {
		env[k] = v
	}
	return env
}

func Contains(actions []Action, a Action) bool {
	for _, b := range actions {
		if b.Hash() == a.Hash() && b.Equal(a) {
			return true
		}
	}
	return false
}

// ScoreClass is the canonical listing of a score vector, e.g. "o=0,x=1".
func ScoreClass(scores map[string]float64) string {
	players := make([]string, 0, len(scores))
	for p := range scores {
		players = append(players, p)
	}
	sort.Strings(players)

	parts := make([]string, len(players))
	for i, p := range players {
		parts[i] = p + "=" + strconv.FormatFloat(scores[p], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// SameScores reports whether two score vectors agree for every player.
func SameScores(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for p, v := range a {
		w, ok := b[p]
		if !ok || math.Abs(v-w) > 1e-9 {
			return false
		}
	}
	return true
}

var registry = map[string]func() Game{
	TicTacToeName: func() Game { return TicTacToe{} },
}

// Lookup returns the game registered under name.
func Lookup(name string) (Game, error) {
	newGame, ok := registry[name]
	if !ok {
		names := make([]string, 0, len(registry))
		for n := range registry {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown game %q (available: %s)", name, strings.Join(names, ", "))
	}
	return newGame(), nil
}
