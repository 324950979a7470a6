package hypothesis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ggp/checker"
	"ggp/game"
	"ggp/metrics"
	"ggp/rules"
	"ggp/trace"

	"github.com/rs/zerolog/log"
)

const (
	logicSearchName = "logic-search"
	hybridName      = "hybrid"
)

type node struct {
	rules      *rules.RuleSet
	report     *checker.Report
	weight     int
	complexity int
	params     int
	order      int
}

// before orders the frontier: fewest trial discrepancies, then simplest,
// then fewest parameters, then earliest discovered.
func (n *node) before(o *node) bool {
	if n.weight != o.weight {
		return n.weight < o.weight
	}
	if n.complexity != o.complexity {
		return n.complexity < o.complexity
	}
	if n.params != o.params {
		return n.params < o.params
	}
	return n.order < o.order
}

// LogicSearch is a best-first search over partial rule sets. Each expansion
// resolves the heaviest group of discrepancies by covering the evidence with
// conjunctions of feature atoms. With a supplier attached it runs as the
// hybrid strategy and seeds its frontier with external drafts.
type LogicSearch struct {
	game        game.Game
	checker     *checker.Checker
	branching   int
	trialSample int
	seed        uint64
	metrics     metrics.Collector

	supplier Supplier
	interval int
}

func (s *LogicSearch) Name() string {
	if s.supplier != nil {
		return hybridName
	}
	return logicSearchName
}

type search struct {
	*LogicSearch
	ctx      context.Context
	trial    []*trace.Trace
	seen     map[string]bool
	frontier []*node
	order    int
	gen      *Generation
}

func (s *search) push(rs *rules.RuleSet) error {
	h := rs.StructuralHash()
	if s.seen[h] {
		return nil
	}
	s.seen[h] = true

	start := time.Now()
	report, err := s.checker.Check(s.ctx, rs, s.trial)
	if err != nil {
		return err
	}
	s.metrics.AddCheck(time.Since(start))
	s.frontier = append(s.frontier, &node{
		rules:      rs,
		report:     report,
		weight:     report.Weight(),
		complexity: rs.Complexity(),
		params:     rs.Params(),
		order:      s.order,
	})
	s.order++
	return nil
}

func (s *search) pop() *node {
	best := 0
	for i, n := range s.frontier {
		if n.before(s.frontier[best]) {
			best = i
		}
	}
	n := s.frontier[best]
	s.frontier = append(s.frontier[:best], s.frontier[best+1:]...)
	return n
}

func (s *LogicSearch) Generate(ctx context.Context, store *trace.Store, budget int) (*Generation, error) {
	ev := NewEvidence(s.game, store.Traces())
	st := &search{
		LogicSearch: s,
		ctx:         ctx,
		trial:       store.Sample(s.trialSample, s.seed),
		seen:        make(map[string]bool),
		gen:         &Generation{Strategy: s.Name()},
	}
	log.Info().Msgf("%s: %d traces, %d atoms, budget %d", s.Name(), store.Len(), len(ev.Atoms), budget)

	root := &rules.RuleSet{Game: s.game.Name(), Provenance: newProvenance(s.Name())}
	if err := st.push(root); err != nil {
		return nil, err
	}

	var candidates []*node
	used := 0
	supplierDone := false
	for used < budget && len(st.frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := st.pop()
		if n.rules.WellFormed() {
			candidates = append(candidates, n)
		}
		if n.weight == 0 {
			continue
		}

		used++
		st.gen.Expansions++
		s.metrics.AddExpansion()
		if err := st.expand(n, ev); err != nil {
			return nil, err
		}

		if s.supplier != nil && !supplierDone && used < budget && st.gen.Expansions%s.interval == 0 {
			used++
			added, err := st.seedFromSupplier(store)
			if err != nil {
				return nil, err
			}
			supplierDone = !added
		}
	}
	for _, n := range st.frontier {
		if n.rules.WellFormed() {
			candidates = append(candidates, n)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].before(candidates[j]) })
	for _, n := range candidates {
		st.gen.Candidates = append(st.gen.Candidates, n.rules)
		s.metrics.AddCandidate()
	}
	log.Info().Msgf("%s: %d candidates after %d expansions", s.Name(), len(candidates), st.gen.Expansions)
	if len(candidates) == 0 {
		return st.gen, &GenerationExhausted{Strategy: s.Name(), Budget: budget, Dropped: len(st.gen.Dropped)}
	}
	if best := candidates[0]; best.weight > 0 {
		log.Warn().Msgf("%s: best candidate still has %d trial discrepancies", s.Name(), best.weight)
	}
	return st.gen, nil
}

// expand resolves the heaviest group of discrepancies that some edit can
// address.
func (s *search) expand(n *node, ev *Evidence) error {
	compiled, err := rules.Compile(n.rules)
	if err != nil {
		return fmt.Errorf("failed to compile search node: %w", err)
	}
	for _, g := range n.report.Groups() {
		edits := Propose(n.rules, compiled, g, ev, s.branching)
		if len(edits) == 0 {
			continue
		}
		for _, e := range edits {
			child := e.On(n.rules)
			child.Provenance.Generator = s.Name()
			child.Provenance.GeneratedAt = time.Now().UTC()
			log.Debug().Msgf("%s: %s (weight %d)", s.Name(), e.Description, n.weight)
			if err := s.push(child); err != nil {
				return err
			}
		}
		return nil
	}
	log.Debug().Msgf("%s: no edit resolves any of %d discrepancies", s.Name(), n.weight)
	return nil
}

// seedFromSupplier pushes one external draft onto the frontier. It reports
// false once the supplier has nothing more to offer.
func (s *search) seedFromSupplier(store *trace.Store) (bool, error) {
	drafts, err := s.supplier.Suggest(s.ctx, Request{Game: s.game.Name(), Stats: store.Stats(), Limit: 1})
	if err != nil {
		if s.ctx.Err() != nil {
			return false, s.ctx.Err()
		}
		log.Warn().Msgf("%s: supplier failed: %v", s.Name(), err)
		return true, nil
	}
	rejected := takeDropped(s.supplier, s.Name())
	if len(drafts) == 0 && len(rejected) == 0 {
		return false, nil
	}
	for _, d := range rejected {
		s.gen.Dropped = append(s.gen.Dropped, d)
		s.metrics.AddDropped()
	}
	for _, draft := range drafts {
		rs, dropped := admit(s.game, draft, s.Name())
		if dropped != nil {
			s.gen.Dropped = append(s.gen.Dropped, *dropped)
			s.metrics.AddDropped()
			continue
		}
		if err := s.push(rs); err != nil {
			return false, err
		}
	}
	return true, nil
}
