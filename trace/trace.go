package trace

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	"ggp/game"
)

type Outcome struct {
	Scores map[string]float64 `json:"scores"`
	Winner string             `json:"winner,omitempty"`
}

// Class is the outcome type, e.g. "o=0,x=1" for a win by x.
func (o Outcome) Class() string {
	return game.ScoreClass(o.Scores)
}

func (o Outcome) validate(players []string) error {
	if len(o.Scores) == 0 {
		return fmt.Errorf("outcome has no scores")
	}
	known := make(map[string]struct{}, len(players))
	for _, p := range players {
		known[p] = struct{}{}
	}
	for p := range o.Scores {
		if _, ok := known[p]; !ok {
			return fmt.Errorf("outcome scores unknown player %q", p)
		}
	}
	if o.Winner == "" {
		return nil
	}
	best, ok := o.Scores[o.Winner]
	if !ok {
		return fmt.Errorf("winner %q has no score", o.Winner)
	}
	for p, s := range o.Scores {
		if p != o.Winner && s >= best {
			return fmt.Errorf("winner %q does not have the highest score", o.Winner)
		}
	}
	return nil
}

// Transition is one recorded move. Extra holds any unrecognised fields of
// the input line, untouched.
type Transition struct {
	State  game.State
	Action game.Action
	Next   game.State
	Extra  map[string]json.RawMessage
	Line   int
}

// Trace is one finished game. It is never modified after loading.
type Trace struct {
	Index       int
	Transitions []Transition
	Outcome     Outcome
}

func (t *Trace) Len() int {
	return len(t.Transitions)
}

// Final is the last recorded state.
func (t *Trace) Final() game.State {
	return t.Transitions[len(t.Transitions)-1].Next
}

// Hash identifies the move sequence and outcome.
func (t *Trace) Hash() game.Hash {
	hasher := fnv.New64a()
	for _, tr := range t.Transitions {
		binary.Write(hasher, binary.LittleEndian, uint64(tr.State.Hash()))
		binary.Write(hasher, binary.LittleEndian, uint64(tr.Action.Hash()))
	}
	hasher.Write([]byte(t.Outcome.Class()))
	return game.Hash(hasher.Sum64())
}

type Stats struct {
	Traces      int            `json:"traces"`
	Transitions int            `json:"transitions"`
	MeanLength  float64        `json:"mean_length"`
	Outcomes    map[string]int `json:"outcomes"`
}

// Classes lists the outcome classes in canonical order.
func (s Stats) Classes() []string {
	classes := make([]string, 0, len(s.Outcomes))
	for c := range s.Outcomes {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}

// Summarize computes statistics over any slice of traces.
func Summarize(traces []*Trace) Stats {
	s := Stats{Traces: len(traces), Outcomes: make(map[string]int)}
	for _, t := range traces {
		s.Transitions += t.Len()
		s.Outcomes[t.Outcome.Class()]++
	}
	if s.Traces > 0 {
		s.MeanLength = float64(s.Transitions) / float64(s.Traces)
	}
	return s
}
