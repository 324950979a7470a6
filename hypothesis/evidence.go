package hypothesis

import (
	"fmt"
	"sort"

	"ggp/game"
	"ggp/rules"
	"ggp/trace"
)

const maxValuesPerFeature = 32

// Example is one feature environment drawn from the traces.
type Example struct {
	Trace     int
	Step      int
	ActionKey game.Hash
	Class     string
	Env       map[string]any
}

type exampleKey struct {
	trace  int
	step   int
	action game.Hash
}

// Evidence indexes the traces by the roles their states and moves play when
// learning guards.
type Evidence struct {
	// Moves are the observed moves at non-final states.
	Moves []Example
	// Inapplicable are vocabulary moves the game refuses at observed states.
	Inapplicable []Example
	// NonFinal are the observed non-final states.
	NonFinal []Example
	// Finals are the final states, tagged with their outcome class.
	Finals []Example
	// Classes maps outcome classes to their score vectors.
	Classes map[string]map[string]float64
	// Atoms is the candidate literal vocabulary, simplest first.
	Atoms []rules.Atom

	moves        map[exampleKey]int
	inapplicable map[exampleKey]int
	nonFinal     map[exampleKey]int
	finals       map[int]int
}

func NewEvidence(g game.Game, traces []*trace.Trace) *Evidence {
	ev := &Evidence{
		Classes:      make(map[string]map[string]float64),
		moves:        make(map[exampleKey]int),
		inapplicable: make(map[exampleKey]int),
		nonFinal:     make(map[exampleKey]int),
		finals:       make(map[int]int),
	}
	for _, t := range traces {
		for step, tr := range t.Transitions {
			ev.nonFinal[exampleKey{t.Index, step, 0}] = len(ev.NonFinal)
			ev.NonFinal = append(ev.NonFinal, Example{Trace: t.Index, Step: step, Env: game.StateEnv(g, tr.State)})

			key := exampleKey{t.Index, step, tr.Action.Hash()}
			ev.moves[key] = len(ev.Moves)
			ev.Moves = append(ev.Moves, Example{
				Trace: t.Index, Step: step, ActionKey: key.action,
				Env: game.MoveEnv(g, tr.State, tr.Action),
			})

			for _, a := range g.Moves(tr.State) {
				if _, err := g.Next(tr.State, a); err == nil {
					continue
				}
				key := exampleKey{t.Index, step, a.Hash()}
				ev.inapplicable[key] = len(ev.Inapplicable)
				ev.Inapplicable = append(ev.Inapplicable, Example{
					Trace: t.Index, Step: step, ActionKey: key.action,
					Env: game.MoveEnv(g, tr.State, a),
				})
			}
		}

		class := t.Outcome.Class()
		ev.Classes[class] = t.Outcome.Scores
		ev.finals[t.Index] = len(ev.Finals)
		ev.Finals = append(ev.Finals, Example{
			Trace: t.Index, Step: t.Len(), Class: class,
			Env: game.StateEnv(g, t.Final()),
		})
	}
	ev.Atoms = mineAtoms(ev.Moves, ev.Inapplicable, ev.NonFinal, ev.Finals)
	return ev
}

func (ev *Evidence) Move(trace, step int, action game.Hash) (Example, bool) {
	if i, ok := ev.moves[exampleKey{trace, step, action}]; ok {
		return ev.Moves[i], true
	}
	if i, ok := ev.inapplicable[exampleKey{trace, step, action}]; ok {
		return ev.Inapplicable[i], true
	}
	return Example{}, false
}

func (ev *Evidence) State(trace, step int) (Example, bool) {
	i, ok := ev.nonFinal[exampleKey{trace, step, 0}]
	if !ok {
		return Example{}, false
	}
	return ev.NonFinal[i], true
}

func (ev *Evidence) Final(trace int) (Example, bool) {
	i, ok := ev.finals[trace]
	if !ok {
		return Example{}, false
	}
	return ev.Finals[i], true
}

// FinalsOf splits the final states into those of the class and the rest.
func (ev *Evidence) FinalsOf(class string) (in, out []Example) {
	for _, f := range ev.Finals {
		if f.Class == class {
			in = append(in, f)
		} else {
			out = append(out, f)
		}
	}
	return in, out
}

// ClassNames lists outcome classes in canonical order.
func (ev *Evidence) ClassNames() []string {
	names := make([]string, 0, len(ev.Classes))
	for c := range ev.Classes {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

func Envs(examples []Example) []map[string]any {
	envs := make([]map[string]any, len(examples))
	for i, e := range examples {
		envs[i] = e.Env
	}
	return envs
}

// mineAtoms builds is/not atoms for boolean features and eq atoms for every
// observed value of the others.
func mineAtoms(sets ...[]Example) []rules.Atom {
	type featureValues struct {
		boolean bool
		values  map[string]any
	}
	features := make(map[string]*featureValues)
	for _, set := range sets {
		for _, e := range set {
			for name, v := range e.Env {
				f, ok := features[name]
				if !ok {
					f = &featureValues{boolean: true, values: make(map[string]any)}
					features[name] = f
				}
				if _, isBool := v.(bool); !isBool {
					f.boolean = false
				}
				if len(f.values) < maxValuesPerFeature {
					f.values[fmt.Sprint(v)] = v
				}
			}
		}
	}

	var atoms []rules.Atom
	for name, f := range features {
		if f.boolean {
			atoms = append(atoms, rules.Is(name), rules.Not(name))
			continue
		}
		for _, v := range f.values {
			switch v.(type) {
			case string, int, int64, float64:
				atoms = append(atoms, rules.Eq(name, v))
			}
		}
	}
	sort.Slice(atoms, func(i, j int) bool {
		a, b := atoms[i], atoms[j]
		if a.Complexity() != b.Complexity() {
			return a.Complexity() < b.Complexity()
		}
		if a.Feature != b.Feature {
			return a.Feature < b.Feature
		}
		return a.Key() < b.Key()
	})
	return atoms
}
