package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

type Kind string

const (
	LegalMove Kind = "legal_move"
	Terminal  Kind = "terminal"
	Score     Kind = "score"
)

// Kinds lists predicate kinds in the order they are resolved.
var Kinds = []Kind{LegalMove, Terminal, Score}

func (k Kind) Valid() bool {
	return k == LegalMove || k == Terminal || k == Score
}

type Op string

const (
	OpIs  Op = "is"
	OpNot Op = "not"
	OpEq  Op = "eq"
)

// Atom is a single guard literal over one feature.
type Atom struct {
	Feature string `json:"feature"`
	Op      Op     `json:"op"`
	Value   any    `json:"value,omitempty"`
}

func Is(feature string) Atom  { return Atom{Feature: feature, Op: OpIs} }
func Not(feature string) Atom { return Atom{Feature: feature, Op: OpNot} }
func Eq(feature string, value any) Atom {
	return Atom{Feature: feature, Op: OpEq, Value: value}
}

func (a Atom) Complexity() int {
	if a.Op == OpEq {
		return 2
	}
	return 1
}

// Expr renders the atom as expr-lang source.
func (a Atom) Expr() string {
	switch a.Op {
	case OpIs:
		return a.Feature
	case OpNot:
		return "!" + a.Feature
	default:
		return a.Feature + " == " + literal(a.Value)
	}
}

func (a Atom) String() string { return a.Expr() }

// Key identifies the atom independently of how its value was decoded.
func (a Atom) Key() string {
	return string(a.Op) + ":" + a.Feature + ":" + literal(a.Value)
}

// Holds evaluates the atom directly against an environment. A missing
// feature never satisfies an atom.
func (a Atom) Holds(env map[string]any) bool {
	v, ok := env[a.Feature]
	if !ok {
		return false
	}
	switch a.Op {
	case OpIs:
		b, ok := v.(bool)
		return ok && b
	case OpNot:
		b, ok := v.(bool)
		return ok && !b
	case OpEq:
		return sameValue(v, a.Value)
	}
	return false
}

func (a Atom) validate() error {
	if a.Feature == "" {
		return fmt.Errorf("atom has no feature")
	}
	switch a.Op {
	case OpIs, OpNot:
	case OpEq:
		if a.Value == nil {
			return fmt.Errorf("atom %s eq has no value", a.Feature)
		}
	default:
		return fmt.Errorf("atom %s has unknown op %q", a.Feature, a.Op)
	}
	return nil
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return literal(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func sameValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

// Predicate is a named, kind-tagged guard. Score predicates also carry the
// score vector assigned when they match.
type Predicate struct {
	Name   string             `json:"name"`
	Kind   Kind               `json:"kind"`
	Expr   string             `json:"expr,omitempty"`
	Atoms  []Atom             `json:"atoms,omitempty"`
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Guard is the expr-lang source of the predicate.
func (p Predicate) Guard() string {
	parts := make([]string, 0, len(p.Atoms)+1)
	if strings.TrimSpace(p.Expr) != "" {
		parts = append(parts, "("+p.Expr+")")
	}
	for _, a := range p.Atoms {
		parts = append(parts, a.Expr())
	}
	if len(parts) == 0 {
		return "true"
	}
	return strings.Join(parts, " && ")
}

// Params lists the features the guard reads.
func (p Predicate) Params() []string {
	seen := make(map[string]struct{})
	for _, a := range p.Atoms {
		seen[a.Feature] = struct{}{}
	}
	for _, name := range identifiers(p.Expr) {
		seen[name] = struct{}{}
	}
	params := make([]string, 0, len(seen))
	for name := range seen {
		params = append(params, name)
	}
	sort.Strings(params)
	return params
}

func (p Predicate) Complexity() int {
	c := len(identifiers(p.Expr))
	for _, a := range p.Atoms {
		c += a.Complexity()
	}
	return c
}

func (p Predicate) HasAtom(a Atom) bool {
	for _, b := range p.Atoms {
		if b.Key() == a.Key() {
			return true
		}
	}
	return false
}

func (p Predicate) Clone() Predicate {
	c := p
	c.Atoms = append([]Atom(nil), p.Atoms...)
	if p.Scores != nil {
		c.Scores = make(map[string]float64, len(p.Scores))
		for k, v := range p.Scores {
			c.Scores[k] = v
		}
	}
	return c
}

func (p Predicate) MarshalJSON() ([]byte, error) {
	type plain Predicate
	return json.Marshal(struct {
		plain
		Guard string `json:"guard"`
	}{plain(p), p.Guard()})
}

type identVisitor struct {
	names map[string]struct{}
}

func (v *identVisitor) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		v.names[id.Value] = struct{}{}
	}
}

func identifiers(code string) []string {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	tree, err := parser.Parse(code)
	if err != nil {
		return nil
	}
	v := &identVisitor{names: make(map[string]struct{})}
	ast.Walk(&tree.Node, v)
	names := make([]string, 0, len(v.names))
	for name := range v.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
