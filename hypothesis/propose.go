package hypothesis

import (
	"fmt"
	"strings"

	"ggp/checker"
	"ggp/game"
	"ggp/rules"
)

// Edit is one change to a rule set.
type Edit struct {
	Description string
	// Generalizing edits make the rule set predict more: more legal moves,
	// more terminal states or more scored states.
	Generalizing bool
	apply        func(rs *rules.RuleSet)
}

func NewEdit(description string, generalizing bool, apply func(rs *rules.RuleSet)) Edit {
	return Edit{Description: description, Generalizing: generalizing, apply: apply}
}

// On returns an edited copy of rs that records rs as its parent.
func (e Edit) On(rs *rules.RuleSet) *rules.RuleSet {
	child := rs.Clone()
	e.apply(child)
	child.Provenance.Parent = rs.StructuralHash()
	child.Provenance.Notes = append(child.Provenance.Notes, e.Description)
	return child
}

func guardString(atoms []rules.Atom) string {
	if len(atoms) == 0 {
		return "true"
	}
	parts := make([]string, len(atoms))
	for i, a := range atoms {
		parts[i] = a.Expr()
	}
	return strings.Join(parts, " && ")
}

// Positives collects the evidence behind a group of discrepancies: the
// examples a fix must start or stop predicting.
func (ev *Evidence) Positives(g checker.Group) []Example {
	var out []Example
	for _, d := range g.Items {
		var (
			e  Example
			ok bool
		)
		switch d.Kind {
		case checker.LegalFalseNegative, checker.LegalFalsePositive:
			e, ok = ev.Move(d.Trace, d.Step, d.ActionKey)
		case checker.TerminalFalsePositive:
			e, ok = ev.State(d.Trace, d.Step)
		case checker.TerminalFalseNegative, checker.ScoreMismatch:
			e, ok = ev.Final(d.Trace)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out
}

// Firing lists the examples on which predicate i holds.
func Firing(compiled *rules.Compiled, i int, examples []Example) []Example {
	var out []Example
	for _, e := range examples {
		if compiled.Fires(i, e.Env) {
			out = append(out, e)
		}
	}
	return out
}

// Propose suggests up to k edits that add or strengthen predicates to
// resolve the group.
func Propose(rs *rules.RuleSet, compiled *rules.Compiled, g checker.Group, ev *Evidence, k int) []Edit {
	switch g.Kind {
	case checker.LegalFalseNegative:
		return addPredicate(rules.LegalMove, nil, ev.Positives(g), ev.Inapplicable, ev, k)
	case checker.TerminalFalseNegative:
		return addPredicate(rules.Terminal, nil, ev.Positives(g), ev.NonFinal, ev, k)
	case checker.LegalFalsePositive:
		i := rs.Index(g.Predicate)
		if i < 0 {
			return nil
		}
		return strengthen(rs, i, Firing(compiled, i, ev.Moves), ev.Positives(g), ev, k)
	case checker.TerminalFalsePositive:
		i := rs.Index(g.Predicate)
		if i < 0 {
			return nil
		}
		return strengthen(rs, i, Firing(compiled, i, ev.Finals), ev.Positives(g), ev, k)
	case checker.ScoreMismatch:
		if g.Predicate == "" {
			scores, ok := ev.Classes[g.Class]
			if !ok {
				return nil
			}
			_, others := ev.FinalsOf(g.Class)
			return addPredicate(rules.Score, scores, ev.Positives(g), others, ev, k)
		}
		i := rs.Index(g.Predicate)
		if i < 0 {
			return nil
		}
		return strengthen(rs, i, CorrectlyScored(compiled, i, ev), ev.Positives(g), ev, k)
	}
	return nil
}

// CorrectlyScored lists the final states on which score predicate i fires
// with the right score vector.
func CorrectlyScored(compiled *rules.Compiled, i int, ev *Evidence) []Example {
	p := compiled.Rules.Predicates[i]
	var out []Example
	for _, f := range Firing(compiled, i, ev.Finals) {
		if game.SameScores(p.Scores, ev.Classes[f.Class]) {
			out = append(out, f)
		}
	}
	return out
}

func addPredicate(kind rules.Kind, scores map[string]float64, pos, neg []Example, ev *Evidence, k int) []Edit {
	if len(pos) == 0 {
		return nil
	}
	var edits []Edit
	for _, c := range Alternatives(ev.Atoms, nil, Envs(pos), Envs(neg), k) {
		p := rules.Predicate{Kind: kind, Atoms: c.Atoms}
		if kind == rules.Score {
			p.Scores = make(map[string]float64, len(scores))
			for player, s := range scores {
				p.Scores[player] = s
			}
		}
		desc := fmt.Sprintf("add %s: %s", kind, guardString(c.Atoms))
		if kind == rules.Score {
			desc += " -> " + game.ScoreClass(scores)
		}
		edits = append(edits, NewEdit(desc, true, func(rs *rules.RuleSet) {
			rs.Add(p.Clone())
		}))
	}
	return edits
}

// strengthen extends predicate i so it keeps holding on pos while excluding
// neg.
func strengthen(rs *rules.RuleSet, i int, pos, neg []Example, ev *Evidence, k int) []Edit {
	if len(neg) == 0 {
		return nil
	}
	p := rs.Predicates[i]
	var edits []Edit
	for _, c := range Alternatives(ev.Atoms, p.Atoms, Envs(pos), Envs(neg), k) {
		if len(c.Atoms) == len(p.Atoms) {
			continue
		}
		atoms := c.Atoms
		added := guardString(atoms[len(p.Atoms):])
		edits = append(edits, NewEdit(fmt.Sprintf("strengthen %s with %s", p.Name, added), false, func(rs *rules.RuleSet) {
			rs.Predicates[i].Atoms = append([]rules.Atom(nil), atoms...)
		}))
	}
	return edits
}
