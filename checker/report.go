package checker

import (
	"sort"

	"ggp/game"
)

type Kind string

const (
	LegalFalseNegative    Kind = "legal_false_negative"
	LegalFalsePositive    Kind = "legal_false_positive"
	TerminalFalseNegative Kind = "terminal_false_negative"
	TerminalFalsePositive Kind = "terminal_false_positive"
	ScoreMismatch         Kind = "score_mismatch"
	TransitionMismatch    Kind = "transition_mismatch"
)

// Priority orders kinds for resolution: legality first, then termination,
// then scoring. Transition mismatches come last since no rule edit can fix
// them.
func (k Kind) Priority() int {
	switch k {
	case LegalFalseNegative:
		return 0
	case LegalFalsePositive:
		return 1
	case TerminalFalseNegative:
		return 2
	case TerminalFalsePositive:
		return 3
	case ScoreMismatch:
		return 4
	}
	return 5
}

// Discrepancy is one point where a rule set's prediction disagrees with a
// trace.
type Discrepancy struct {
	Trace     int       `json:"trace"`
	Step      int       `json:"step"`
	Kind      Kind      `json:"kind"`
	Action    string    `json:"action,omitempty"`
	ActionKey game.Hash `json:"action_key,omitempty"`
	Class     string    `json:"class,omitempty"`
	Expected  string    `json:"expected"`
	Predicted string    `json:"predicted"`
	Predicate string    `json:"predicate,omitempty"`
}

func less(a, b Discrepancy) bool {
	if a.Trace != b.Trace {
		return a.Trace < b.Trace
	}
	if a.Step != b.Step {
		return a.Step < b.Step
	}
	if a.Kind.Priority() != b.Kind.Priority() {
		return a.Kind.Priority() < b.Kind.Priority()
	}
	return a.Action < b.Action
}

// Report maps trace indices to their discrepancies. An empty report means
// the rule set reproduces every trace.
type Report struct {
	Traces      int                   `json:"traces"`
	Transitions int                   `json:"transitions"`
	Entries     map[int][]Discrepancy `json:"entries"`
}

func (r *Report) Empty() bool {
	return r.Count() == 0
}

func (r *Report) Count() int {
	n := 0
	for _, ds := range r.Entries {
		n += len(ds)
	}
	return n
}

// Weight is the discrepancy count weighted by trace frequency. Every
// occurrence of a repeated trace contributes its own entries, so this equals
// Count.
func (r *Report) Weight() int {
	return r.Count()
}

// All lists every discrepancy ordered by trace, step and kind.
func (r *Report) All() []Discrepancy {
	all := make([]Discrepancy, 0, r.Count())
	for _, ds := range r.Entries {
		all = append(all, ds...)
	}
	sort.SliceStable(all, func(i, j int) bool { return less(all[i], all[j]) })
	return all
}

func (r *Report) ByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, ds := range r.Entries {
		for _, d := range ds {
			counts[d.Kind]++
		}
	}
	return counts
}

// Group collects the discrepancies sharing a kind, outcome class and
// attributed predicate.
type Group struct {
	Kind      Kind
	Class     string
	Predicate string
	Items     []Discrepancy
}

func (g Group) Weight() int {
	return len(g.Items)
}

// Groups returns the groups heaviest first, ties broken by kind priority,
// class and predicate.
func (r *Report) Groups() []Group {
	type key struct {
		kind      Kind
		class     string
		predicate string
	}
	index := make(map[key]int)
	var groups []Group
	for _, d := range r.All() {
		k := key{d.Kind, d.Class, d.Predicate}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Kind: d.Kind, Class: d.Class, Predicate: d.Predicate})
		}
		groups[i].Items = append(groups[i].Items, d)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Weight() != b.Weight() {
			return a.Weight() > b.Weight()
		}
		if a.Kind.Priority() != b.Kind.Priority() {
			return a.Kind.Priority() < b.Kind.Priority()
		}
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		return a.Predicate < b.Predicate
	})
	return groups
}
