package playout

import (
	"math"

	"ggp/game"
)

type uct struct {
	numerator float64
}

func newUCT(cSquared float64, N float64) *uct {
	if N == 0 {
		panic("N cannot be 0")
	}
	return &uct{numerator: cSquared * math.Log(N)}
}

func (u uct) evaluate(q float64, n float64) float64 {
	if n == 0 {
		panic("n cannot be 0")
	}
	// UCT = q/n + sqrt(c^2*ln(N)/n)
	return q/n + math.Sqrt(u.numerator/n)
}

// decision is a search tree node. Rewards are credited to the player whose
// action led into it.
type decision struct {
	parent   *decision
	player   string
	state    game.State
	actions  []game.Action
	children []*decision
	terminal bool
	dead     bool
	scores   map[string]float64
	rewards  float64
	visits   float64
}

// expandable reports whether some action has no child yet.
func (d *decision) expandable() bool {
	return len(d.children) < len(d.actions)
}

// leaf nodes end the game under the rules or have no way forward.
func (d *decision) leaf() bool {
	return d.terminal || d.dead || len(d.actions) == 0
}

// pickChild returns the index of the child with the highest UCT value.
func (d *decision) pickChild(cSquared float64) int {
	if d.visits == 0 {
		panic("node has children but no visits")
	}
	policy := newUCT(cSquared, d.visits)
	best, bestScore := -1, math.Inf(-1)
	for i, child := range d.children {
		if score := policy.evaluate(child.rewards, child.visits); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func (d *decision) backup(scores map[string]float64) *decision {
	d.rewards += scores[d.player]
	d.visits++
	return d.parent
}

// mostVisited is the action to play once the search is over.
func (d *decision) mostVisited() game.Action {
	if len(d.children) == 0 {
		panic("node has no children")
	}
	best := 0
	for i, child := range d.children[1:] {
		if child.visits > d.children[best].visits {
			best = i + 1
		}
	}
	return d.actions[best]
}
