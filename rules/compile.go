package rules

import (
	"fmt"
	"maps"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Compiled is an evaluable rule set. Programs are safe for concurrent use.
type Compiled struct {
	Rules    *RuleSet
	programs []*vm.Program
	legal    []int
	terminal []int
	score    []int
}

func compileGuard(guard string) (*vm.Program, error) {
	program, err := expr.Compile(guard, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile guard %q: %w", guard, err)
	}
	return program, nil
}

func Compile(rs *RuleSet) (*Compiled, error) {
	c := &Compiled{
		Rules:    rs,
		programs: make([]*vm.Program, len(rs.Predicates)),
		legal:    rs.Indices(LegalMove),
		terminal: rs.Indices(Terminal),
		score:    rs.Indices(Score),
	}
	for i, p := range rs.Predicates {
		program, err := compileGuard(p.Guard())
		if err != nil {
			return nil, fmt.Errorf("predicate %s: %w", p.Name, err)
		}
		c.programs[i] = program
	}
	return c, nil
}

// Fires evaluates predicate i. Evaluation errors, such as a guard reading a
// feature the environment lacks, count as not firing.
func (c *Compiled) Fires(i int, env map[string]any) bool {
	out, err := expr.Run(c.programs[i], env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// First returns the first predicate of the kind that fires, or -1.
func (c *Compiled) First(kind Kind, env map[string]any) int {
	for _, i := range c.indices(kind) {
		if c.Fires(i, env) {
			return i
		}
	}
	return -1
}

// Legal is true when any legal_move predicate holds for a state-action
// environment.
func (c *Compiled) Legal(env map[string]any) bool {
	return c.First(LegalMove, env) >= 0
}

func (c *Compiled) Terminal(env map[string]any) bool {
	return c.First(Terminal, env) >= 0
}

// Score applies the first matching score predicate. It returns nil when no
// score predicate matches. The result is a copy the caller may modify.
func (c *Compiled) Score(env map[string]any) map[string]float64 {
	i := c.First(Score, env)
	if i < 0 {
		return nil
	}
	return maps.Clone(c.Rules.Predicates[i].Scores)
}

func (c *Compiled) Name(i int) string {
	if i < 0 {
		return ""
	}
	return c.Rules.Predicates[i].Name
}

func (c *Compiled) indices(kind Kind) []int {
	switch kind {
	case LegalMove:
		return c.legal
	case Terminal:
		return c.terminal
	default:
		return c.score
	}
}
