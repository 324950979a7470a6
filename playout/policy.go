package playout

import (
	"ggp/config"
	"ggp/engine"
	"ggp/game"
	"ggp/rules"

	"golang.org/x/exp/rand"
)

// Policy picks the next action of a playout among the actions the rule set
// predicts legal.
type Policy interface {
	Choose(s game.State, legal []game.Action, rng *rand.Rand) game.Action
}

// Planner is a policy that looks ahead under the rules being validated. The
// validator plans it once per rule set and plays the returned policy.
type Planner interface {
	Policy
	Plan(g game.Game, exec engine.Executor, compiled *rules.Compiled) (Policy, error)
}

type PolicyFunc func(s game.State, legal []game.Action, rng *rand.Rand) game.Action

func (f PolicyFunc) Choose(s game.State, legal []game.Action, rng *rand.Rand) game.Action {
	return f(s, legal, rng)
}

type uniformRandom struct{}

// UniformRandom picks every legal action with equal probability.
func UniformRandom() Policy {
	return uniformRandom{}
}

func (uniformRandom) Choose(s game.State, legal []game.Action, rng *rand.Rand) game.Action {
	return legal[rng.Intn(len(legal))]
}

// PolicyFromConfig returns the configured playout policy.
func PolicyFromConfig(cfg config.Validation) Policy {
	if cfg.Policy == config.SearchPolicy {
		return NewMCTS(
			WithEpisodes(cfg.SearchEpisodes),
			WithCutoff(cfg.SearchCutoff),
			WithExploration(cfg.Exploration),
		)
	}
	return UniformRandom()
}
