package refine

import (
	"fmt"

	"ggp/checker"
	"ggp/game"
	"ggp/hypothesis"
	"ggp/rules"
)

const proposalsPerGroup = 2

// Edits enumerates candidate edits for the discrepancies in report, heaviest
// groups first: covering and strengthening proposals, then weakenings,
// removals and reorderings.
func (l *Loop) Edits(rs *rules.RuleSet, report *checker.Report) ([]hypothesis.Edit, error) {
	compiled, err := rules.Compile(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to compile candidate: %w", err)
	}
	groups := report.Groups()
	ev := l.evidence

	var edits []hypothesis.Edit
	for _, g := range groups {
		edits = append(edits, hypothesis.Propose(rs, compiled, g, ev, proposalsPerGroup)...)
	}
	for _, g := range groups {
		edits = append(edits, weaken(rs, g, ev)...)
	}
	for _, g := range groups {
		edits = append(edits, remove(rs, compiled, g, ev)...)
	}
	for _, g := range groups {
		edits = append(edits, reorder(rs, compiled, g, ev)...)
	}
	return edits, nil
}

// weaken drops atoms that keep a predicate from firing where it should. Only
// false negatives and unscored final states are weakened.
func weaken(rs *rules.RuleSet, g checker.Group, ev *hypothesis.Evidence) []hypothesis.Edit {
	var kind rules.Kind
	var scores map[string]float64
	switch {
	case g.Kind == checker.LegalFalseNegative:
		kind = rules.LegalMove
	case g.Kind == checker.TerminalFalseNegative:
		kind = rules.Terminal
	case g.Kind == checker.ScoreMismatch && g.Predicate == "":
		kind = rules.Score
		scores = ev.Classes[g.Class]
		if scores == nil {
			return nil
		}
	default:
		return nil
	}
	positives := ev.Positives(g)

	var edits []hypothesis.Edit
	for _, i := range rs.Indices(kind) {
		p := rs.Predicates[i]
		if kind == rules.Score && !game.SameScores(p.Scores, scores) {
			continue
		}
		for j, a := range p.Atoms {
			if !blocks(a, positives) {
				continue
			}
			desc := fmt.Sprintf("weaken %s: drop %s", p.Name, a.Expr())
			edits = append(edits, hypothesis.NewEdit(desc, true, func(rs *rules.RuleSet) {
				atoms := rs.Predicates[i].Atoms
				rs.Predicates[i].Atoms = append(atoms[:j:j], atoms[j+1:]...)
			}))
		}
	}
	return edits
}

func blocks(a rules.Atom, examples []hypothesis.Example) bool {
	for _, e := range examples {
		if !a.Holds(e.Env) {
			return true
		}
	}
	return false
}

// remove drops a predicate that fires in the group and nowhere correctly.
func remove(rs *rules.RuleSet, compiled *rules.Compiled, g checker.Group, ev *hypothesis.Evidence) []hypothesis.Edit {
	if g.Predicate == "" {
		return nil
	}
	i := rs.Index(g.Predicate)
	if i < 0 {
		return nil
	}
	var correct []hypothesis.Example
	switch g.Kind {
	case checker.LegalFalsePositive:
		correct = hypothesis.Firing(compiled, i, ev.Moves)
	case checker.TerminalFalsePositive:
		correct = hypothesis.Firing(compiled, i, ev.Finals)
	case checker.ScoreMismatch:
		correct = hypothesis.CorrectlyScored(compiled, i, ev)
	default:
		return nil
	}
	if len(correct) > 0 {
		return nil
	}
	name := g.Predicate
	return []hypothesis.Edit{hypothesis.NewEdit("remove "+name, false, func(rs *rules.RuleSet) {
		if k := rs.Index(name); k >= 0 {
			rs.Remove(k)
		}
	})}
}

// reorder moves a later score predicate that scores the group's final states
// correctly ahead of the one that fires wrongly.
func reorder(rs *rules.RuleSet, compiled *rules.Compiled, g checker.Group, ev *hypothesis.Evidence) []hypothesis.Edit {
	if g.Kind != checker.ScoreMismatch || g.Predicate == "" {
		return nil
	}
	wrong := rs.Index(g.Predicate)
	if wrong < 0 {
		return nil
	}
	scores := ev.Classes[g.Class]
	positives := ev.Positives(g)

	var edits []hypothesis.Edit
	for _, j := range rs.Indices(rules.Score) {
		if j <= wrong || !game.SameScores(rs.Predicates[j].Scores, scores) {
			continue
		}
		if len(hypothesis.Firing(compiled, j, positives)) == 0 {
			continue
		}
		from, to := j, wrong
		desc := fmt.Sprintf("move %s before %s", rs.Predicates[j].Name, g.Predicate)
		edits = append(edits, hypothesis.NewEdit(desc, false, func(rs *rules.RuleSet) {
			rs.MoveBefore(from, to)
		}))
	}
	return edits
}
