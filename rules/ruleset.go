package rules

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Provenance struct {
	Generator   string    `json:"generator"`
	GeneratedAt time.Time `json:"generated_at"`
	Parent      string    `json:"parent,omitempty"`
	Notes       []string  `json:"notes,omitempty"`
}

// RuleSet is an ordered list of predicates. Order is the first-match
// priority for score predicates and irrelevant for the other kinds.
type RuleSet struct {
	Game       string      `json:"game"`
	Version    int         `json:"version"`
	Provenance Provenance  `json:"provenance"`
	Predicates []Predicate `json:"predicates"`
}

func (rs *RuleSet) Clone() *RuleSet {
	c := *rs
	c.Provenance.Notes = append([]string(nil), rs.Provenance.Notes...)
	c.Predicates = make([]Predicate, len(rs.Predicates))
	for i, p := range rs.Predicates {
		c.Predicates[i] = p.Clone()
	}
	return &c
}

func (rs *RuleSet) Count(kind Kind) int {
	n := 0
	for _, p := range rs.Predicates {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

// Indices returns the positions of the predicates of the given kind, in order.
func (rs *RuleSet) Indices(kind Kind) []int {
	var idx []int
	for i, p := range rs.Predicates {
		if p.Kind == kind {
			idx = append(idx, i)
		}
	}
	return idx
}

func (rs *RuleSet) Index(name string) int {
	for i, p := range rs.Predicates {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// WellFormed reports whether every kind has at least one predicate.
func (rs *RuleSet) WellFormed() bool {
	for _, k := range Kinds {
		if rs.Count(k) == 0 {
			return false
		}
	}
	return true
}

func (rs *RuleSet) Complexity() int {
	c := 0
	for _, p := range rs.Predicates {
		c += p.Complexity()
	}
	return c
}

// Params counts the distinct features read across all guards.
func (rs *RuleSet) Params() int {
	seen := make(map[string]struct{})
	for _, p := range rs.Predicates {
		for _, name := range p.Params() {
			seen[name] = struct{}{}
		}
	}
	return len(seen)
}

// Add appends a predicate, naming it after its kind when unnamed.
func (rs *RuleSet) Add(p Predicate) {
	if p.Name == "" {
		p.Name = rs.nextName(p.Kind)
	}
	rs.Predicates = append(rs.Predicates, p)
}

func (rs *RuleSet) Remove(i int) {
	rs.Predicates = append(rs.Predicates[:i:i], rs.Predicates[i+1:]...)
}

// MoveBefore moves the predicate at position from to position to, shifting
// the ones in between.
func (rs *RuleSet) MoveBefore(from, to int) {
	if from <= to {
		return
	}
	p := rs.Predicates[from]
	copy(rs.Predicates[to+1:from+1], rs.Predicates[to:from])
	rs.Predicates[to] = p
}

// Normalize names unnamed predicates.
func (rs *RuleSet) Normalize() {
	for i := range rs.Predicates {
		if rs.Predicates[i].Name == "" {
			rs.Predicates[i].Name = rs.nextName(rs.Predicates[i].Kind)
		}
	}
}

func (rs *RuleSet) nextName(kind Kind) string {
	for n := rs.Count(kind) + 1; ; n++ {
		name := string(kind) + "_" + strconv.Itoa(n)
		if rs.Index(name) < 0 {
			return name
		}
	}
}

// StructuralHash identifies the rule set by its kinds, guards and score
// vectors in order. Names and provenance do not contribute.
func (rs *RuleSet) StructuralHash() string {
	hasher := fnv.New64a()
	for _, p := range rs.Predicates {
		hasher.Write([]byte(p.Kind))
		hasher.Write([]byte{0})
		hasher.Write([]byte(canonicalGuard(p)))
		hasher.Write([]byte{0})
		if p.Kind == Score {
			players := make([]string, 0, len(p.Scores))
			for player := range p.Scores {
				players = append(players, player)
			}
			sort.Strings(players)
			for _, player := range players {
				fmt.Fprintf(hasher, "%s=%g;", player, p.Scores[player])
			}
		}
		hasher.Write([]byte{1})
	}
	return strconv.FormatUint(hasher.Sum64(), 16)
}

// canonicalGuard sorts atoms so that conjunctions differing only in atom
// order hash alike.
func canonicalGuard(p Predicate) string {
	keys := make([]string, len(p.Atoms))
	for i, a := range p.Atoms {
		keys[i] = a.Key()
	}
	sort.Strings(keys)
	return strings.TrimSpace(p.Expr) + "|" + strings.Join(keys, "&")
}

// Validate checks that the rule set is well-formed enough to evaluate.
func (rs *RuleSet) Validate() error {
	var errs []error
	if rs.Count(LegalMove) == 0 {
		errs = append(errs, errors.New("no legal_move predicate"))
	}
	names := make(map[string]struct{}, len(rs.Predicates))
	for i, p := range rs.Predicates {
		label := p.Name
		if label == "" {
			label = "#" + strconv.Itoa(i)
		}
		if !p.Kind.Valid() {
			errs = append(errs, fmt.Errorf("predicate %s: unknown kind %q", label, p.Kind))
		}
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("predicate %s: missing name", label))
		} else if _, dup := names[p.Name]; dup {
			errs = append(errs, fmt.Errorf("predicate %s: duplicate name", label))
		}
		names[p.Name] = struct{}{}
		if p.Kind == Score && len(p.Scores) == 0 {
			errs = append(errs, fmt.Errorf("predicate %s: score predicate without scores", label))
		}
		for _, a := range p.Atoms {
			if err := a.validate(); err != nil {
				errs = append(errs, fmt.Errorf("predicate %s: %w", label, err))
			}
		}
		if _, err := compileGuard(p.Guard()); err != nil {
			errs = append(errs, fmt.Errorf("predicate %s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}

func (rs *RuleSet) String() string {
	var sb strings.Builder
	for _, p := range rs.Predicates {
		fmt.Fprintf(&sb, "%s %s: %s", p.Kind, p.Name, p.Guard())
		if p.Kind == Score {
			fmt.Fprintf(&sb, " -> %v", p.Scores)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
