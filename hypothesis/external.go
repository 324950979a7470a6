package hypothesis

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"ggp/checker"
	"ggp/game"
	"ggp/metrics"
	"ggp/rules"
	"ggp/trace"

	"github.com/rs/zerolog/log"
)

const externalName = "external-suggestion"

// Request describes what a supplier is asked for.
type Request struct {
	Game  string      `json:"game"`
	Stats trace.Stats `json:"stats"`
	Limit int         `json:"limit"`
}

// Supplier returns draft rule sets from outside the search, most promising
// first. An empty result means it has nothing more to offer.
type Supplier interface {
	Suggest(ctx context.Context, req Request) ([]*rules.RuleSet, error)
}

type SupplierFunc func(ctx context.Context, req Request) ([]*rules.RuleSet, error)

func (f SupplierFunc) Suggest(ctx context.Context, req Request) ([]*rules.RuleSet, error) {
	return f(ctx, req)
}

// DropReporter is implemented by suppliers that reject some of their own
// input, such as draft file lines that do not decode. TakeDropped returns
// the rejections since the last call.
type DropReporter interface {
	TakeDropped() []Dropped
}

type fileDraft struct {
	line  int
	draft *rules.RuleSet
	err   error
}

// FileSupplier hands out drafts read from a JSON lines file, one rule set
// per line, in file order. Lines that do not decode are handed out as
// drops in their place.
type FileSupplier struct {
	mu      sync.Mutex
	entries []fileDraft
	next    int
	dropped []Dropped
}

func NewFileSupplier(r io.Reader) (*FileSupplier, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	s := &FileSupplier{}
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rs rules.RuleSet
		if err := json.Unmarshal(raw, &rs); err != nil {
			log.Warn().Int("line", line).Err(err).Msg("undecodable draft")
			s.entries = append(s.entries, fileDraft{line: line, err: err})
			continue
		}
		s.entries = append(s.entries, fileDraft{line: line, draft: &rs})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read drafts: %w", err)
	}
	return s, nil
}

func LoadFileSupplier(path string) (*FileSupplier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open drafts: %w", err)
	}
	defer f.Close()
	return NewFileSupplier(f)
}

// Suggest hands out the next req.Limit lines. Undecodable lines count
// toward the limit and are reported through TakeDropped.
func (s *FileSupplier) Suggest(ctx context.Context, req Request) ([]*rules.RuleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	end := len(s.entries)
	if req.Limit > 0 && s.next+req.Limit < end {
		end = s.next + req.Limit
	}
	var out []*rules.RuleSet
	for _, e := range s.entries[s.next:end] {
		if e.err != nil {
			s.dropped = append(s.dropped, Dropped{Reason: fmt.Sprintf("line %d: %v", e.line, e.err)})
			continue
		}
		out = append(out, e.draft.Clone())
	}
	s.next = end
	return out, nil
}

func (s *FileSupplier) TakeDropped() []Dropped {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dropped
	s.dropped = nil
	return d
}

// takeDropped collects the supplier's own rejections, if it reports any.
func takeDropped(s Supplier, source string) []Dropped {
	r, ok := s.(DropReporter)
	if !ok {
		return nil
	}
	dropped := r.TakeDropped()
	for i := range dropped {
		if dropped[i].Source == "" {
			dropped[i].Source = source
		}
		log.Warn().Str("source", source).Msgf("dropping draft: %s", dropped[i].Reason)
	}
	return dropped
}

// admit validates an external draft. Malformed drafts are dropped with a
// warning rather than failing the run.
func admit(g game.Game, draft *rules.RuleSet, source string) (*rules.RuleSet, *Dropped) {
	drop := func(reason string) (*rules.RuleSet, *Dropped) {
		log.Warn().Str("source", source).Msgf("dropping draft: %s", reason)
		return nil, &Dropped{Source: source, Reason: reason, Draft: draft}
	}
	if draft == nil {
		return drop("empty draft")
	}
	rs := draft.Clone()
	if rs.Game == "" {
		rs.Game = g.Name()
	}
	if rs.Game != g.Name() {
		return drop(fmt.Sprintf("draft is for game %q", rs.Game))
	}
	rs.Normalize()
	if err := rs.Validate(); err != nil {
		return drop(err.Error())
	}
	if rs.Provenance.Generator == "" {
		rs.Provenance.Generator = source
	}
	if rs.Provenance.GeneratedAt.IsZero() {
		rs.Provenance.GeneratedAt = time.Now().UTC()
	}
	return rs, nil
}

// External takes its candidates from a supplier. Drafts are validated, then
// ordered by their discrepancy count on the traces.
type External struct {
	game     game.Game
	checker  *checker.Checker
	supplier Supplier
	metrics  metrics.Collector
}

func (s *External) Name() string {
	return externalName
}

func (s *External) Generate(ctx context.Context, store *trace.Store, budget int) (*Generation, error) {
	gen := &Generation{Strategy: externalName}
	seen := make(map[string]bool)
	var candidates []*node
	traces := store.Traces()
	stats := store.Stats()

	for gen.Expansions < budget {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		drafts, err := s.supplier.Suggest(ctx, Request{Game: s.game.Name(), Stats: stats, Limit: budget - gen.Expansions})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			gen.Expansions++
			s.metrics.AddExpansion()
			log.Warn().Msgf("%s: supplier failed: %v", externalName, err)
			continue
		}
		rejected := takeDropped(s.supplier, externalName)
		if len(drafts) == 0 && len(rejected) == 0 {
			break
		}
		for _, d := range rejected {
			gen.Expansions++
			s.metrics.AddExpansion()
			gen.Dropped = append(gen.Dropped, d)
			s.metrics.AddDropped()
		}
		if gen.Expansions >= budget {
			break
		}
		if len(drafts) > budget-gen.Expansions {
			drafts = drafts[:budget-gen.Expansions]
		}
		for _, draft := range drafts {
			gen.Expansions++
			s.metrics.AddExpansion()
			rs, dropped := admit(s.game, draft, externalName)
			if dropped != nil {
				gen.Dropped = append(gen.Dropped, *dropped)
				s.metrics.AddDropped()
				continue
			}
			h := rs.StructuralHash()
			if seen[h] {
				continue
			}
			seen[h] = true

			start := time.Now()
			report, err := s.checker.Check(ctx, rs, traces)
			if err != nil {
				return nil, err
			}
			s.metrics.AddCheck(time.Since(start))
			candidates = append(candidates, &node{
				rules:      rs,
				report:     report,
				weight:     report.Weight(),
				complexity: rs.Complexity(),
				params:     rs.Params(),
				order:      len(candidates),
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].weight < candidates[j].weight })
	for _, n := range candidates {
		gen.Candidates = append(gen.Candidates, n.rules)
		s.metrics.AddCandidate()
	}
	log.Info().Msgf("%s: %d candidates, %d drafts dropped", externalName, len(candidates), len(gen.Dropped))
	if len(candidates) == 0 {
		return gen, &GenerationExhausted{Strategy: externalName, Budget: budget, Dropped: len(gen.Dropped)}
	}
	return gen, nil
}
