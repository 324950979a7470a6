package playout

import (
	"fmt"

	"ggp/config"
	"ggp/engine"
	"ggp/game"
	"ggp/rules"

	"golang.org/x/exp/rand"
)

// MCTS chooses each playout action by a short Monte Carlo tree search under
// the rules being validated. Rollouts are uniformly random and the action
// visited most often is played.
type MCTS struct {
	episodes int
	cutoff   int
	cSquared float64

	mover game.Mover
	exec  engine.Executor
	rules *rules.Compiled
}

type SearchOption func(*MCTS)

func WithEpisodes(episodes int) SearchOption {
	return func(m *MCTS) {
		m.episodes = episodes
	}
}

// WithCutoff bounds the number of rollout actions. Rollouts cut off score
// nothing for every player.
func WithCutoff(depth int) SearchOption {
	return func(m *MCTS) {
		m.cutoff = depth
	}
}

func WithExploration(cSquared float64) SearchOption {
	return func(m *MCTS) {
		m.cSquared = cSquared
	}
}

func NewMCTS(options ...SearchOption) *MCTS {
	d := config.Default().Validation
	m := &MCTS{
		episodes: d.SearchEpisodes,
		cutoff:   d.SearchCutoff,
		cSquared: d.Exploration,
	}
	for _, option := range options {
		option(m)
	}
	if m.episodes < 1 {
		panic("Must specify search episodes")
	}
	if m.cutoff < 1 {
		panic("rollout cutoff must be at least 1")
	}
	if m.cSquared <= 0 {
		panic("exploration constant must be positive")
	}
	return m
}

// Plan binds a copy of the search to a compiled rule set.
func (m *MCTS) Plan(g game.Game, exec engine.Executor, compiled *rules.Compiled) (Policy, error) {
	mover, ok := g.(game.Mover)
	if !ok {
		return nil, fmt.Errorf("search needs to know the player to move, %s does not tell", g.Name())
	}
	planned := *m
	planned.mover = mover
	planned.exec = exec
	planned.rules = compiled
	return &planned, nil
}

func (m *MCTS) Choose(s game.State, legal []game.Action, rng *rand.Rand) game.Action {
	if m.exec == nil {
		panic("search policy used before it was planned")
	}
	if len(legal) == 1 {
		return legal[0]
	}
	root := &decision{state: s, actions: legal}
	for range m.episodes {
		m.simulate(root, rng)
	}
	return root.mostVisited()
}

func (m *MCTS) simulate(root *decision, rng *rand.Rand) {
	node := m.selectThenExpand(root)
	scores := m.rollout(node, rng)
	for node != nil {
		node = node.backup(scores)
	}
}

func (m *MCTS) selectThenExpand(root *decision) *decision {
	node := root
	for !node.leaf() {
		if node.expandable() {
			return m.expand(node)
		}
		node = node.children[node.pickChild(m.cSquared)]
	}
	return node
}

// expand adds the child of the next untried action. Actions the executor
// refuses become dead children that never score.
func (m *MCTS) expand(parent *decision) *decision {
	a := parent.actions[len(parent.children)]
	child := &decision{parent: parent, player: m.mover.Mover(parent.state)}
	parent.children = append(parent.children, child)

	next, err := m.exec.Apply(parent.state, a, m.rules)
	if err != nil {
		child.dead = true
		return child
	}
	child.state = next
	if child.terminal, child.scores, err = m.exec.Evaluate(next, m.rules); err != nil {
		child.dead = true
		return child
	}
	if !child.terminal {
		if child.actions, err = m.exec.Legal(next, m.rules); err != nil {
			child.dead = true
		}
	}
	return child
}

// rollout plays random actions from the node until the rules end the game.
// Stuck, refused and cut off rollouts return no scores.
func (m *MCTS) rollout(node *decision, rng *rand.Rand) map[string]float64 {
	switch {
	case node.dead:
		return nil
	case node.terminal:
		return node.scores
	}
	state, legal := node.state, node.actions
	for depth := 0; depth < m.cutoff; depth++ {
		if len(legal) == 0 {
			return nil
		}
		next, err := m.exec.Apply(state, legal[rng.Intn(len(legal))], m.rules)
		if err != nil {
			return nil
		}
		terminal, scores, err := m.exec.Evaluate(next, m.rules)
		if err != nil {
			return nil
		}
		if terminal {
			return scores
		}
		if legal, err = m.exec.Legal(next, m.rules); err != nil {
			return nil
		}
		state = next
	}
	return nil
}
