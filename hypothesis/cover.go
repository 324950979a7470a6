package hypothesis

import (
	"ggp/rules"
)

const maxGuardAtoms = 6

// Covering is the result of building one conjunctive guard.
type Covering struct {
	Atoms []rules.Atom
	// Covered indexes the positives the guard still holds on.
	Covered []int
	// Leaked counts negatives the guard fails to exclude.
	Leaked int
}

type candidate struct {
	atom     rules.Atom
	order    int
	kept     int
	excluded int
}

// better prefers atoms that lose no positives, then the most negatives
// excluded net of positives lost, then simpler atoms, then vocabulary order.
func (c candidate) better(o candidate, positives int) bool {
	cLossless, oLossless := c.kept == positives, o.kept == positives
	if cLossless != oLossless {
		return cLossless
	}
	cGain, oGain := c.excluded-(positives-c.kept), o.excluded-(positives-o.kept)
	if cGain != oGain {
		return cGain > oGain
	}
	if c.atom.Complexity() != o.atom.Complexity() {
		return c.atom.Complexity() < o.atom.Complexity()
	}
	return c.order < o.order
}

func filter(envs []map[string]any, idx []int, a rules.Atom) []int {
	var kept []int
	for _, i := range idx {
		if a.Holds(envs[i]) {
			kept = append(kept, i)
		}
	}
	return kept
}

func span(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// rank scores every atom not in the guard against the remaining positives
// and negatives, best first. Atoms that exclude nothing or keep no positive
// are left out.
func rank(atoms []rules.Atom, guard []rules.Atom, pos, neg []map[string]any, p, n []int) []candidate {
	used := make(map[string]struct{}, len(guard))
	for _, a := range guard {
		used[a.Key()] = struct{}{}
	}
	var ranked []candidate
	for order, a := range atoms {
		if _, ok := used[a.Key()]; ok {
			continue
		}
		kept := len(filter(pos, p, a))
		excluded := len(n) - len(filter(neg, n, a))
		if kept == 0 || excluded == 0 {
			continue
		}
		if kept < len(p) && excluded <= len(p)-kept {
			continue
		}
		ranked = append(ranked, candidate{atom: a, order: order, kept: kept, excluded: excluded})
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].better(ranked[j-1], len(p)); j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked
}

// Cover greedily extends the seed guard with atoms until it excludes every
// negative or no atom helps.
func Cover(atoms []rules.Atom, seed []rules.Atom, pos, neg []map[string]any) Covering {
	guard := append([]rules.Atom(nil), seed...)
	p, n := span(len(pos)), span(len(neg))
	for _, a := range seed {
		p, n = filter(pos, p, a), filter(neg, n, a)
	}
	for len(n) > 0 && len(p) > 0 && len(guard) < maxGuardAtoms {
		ranked := rank(atoms, guard, pos, neg, p, n)
		if len(ranked) == 0 {
			break
		}
		best := ranked[0].atom
		guard = append(guard, best)
		p, n = filter(pos, p, best), filter(neg, n, best)
	}
	return Covering{Atoms: guard, Covered: p, Leaked: len(n)}
}

// Alternatives builds up to k coverings that differ in the first atom added
// to the seed.
func Alternatives(atoms []rules.Atom, seed []rules.Atom, pos, neg []map[string]any, k int) []Covering {
	p, n := span(len(pos)), span(len(neg))
	for _, a := range seed {
		p, n = filter(pos, p, a), filter(neg, n, a)
	}
	ranked := rank(atoms, seed, pos, neg, p, n)
	if len(n) == 0 || len(p) == 0 || len(ranked) == 0 {
		return []Covering{{Atoms: append([]rules.Atom(nil), seed...), Covered: p, Leaked: len(n)}}
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	coverings := make([]Covering, 0, len(ranked))
	for _, c := range ranked {
		first := append(append([]rules.Atom(nil), seed...), c.atom)
		coverings = append(coverings, Cover(atoms, first, pos, neg))
	}
	return coverings
}
