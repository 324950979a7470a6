package hypothesis

import (
	"context"
	"fmt"
	"time"

	"ggp/checker"
	"ggp/config"
	"ggp/game"
	"ggp/metrics"
	"ggp/rules"
	"ggp/trace"
)

// Strategy proposes candidate rule sets from a trace store.
type Strategy interface {
	Name() string
	// Generate returns candidates ordered most likely consistent first.
	// budget bounds the work done: search expansions plus external drafts
	// requested.
	Generate(ctx context.Context, store *trace.Store, budget int) (*Generation, error)
}

// Dropped records a draft that was rejected before it became a candidate.
type Dropped struct {
	Source string         `json:"source"`
	Reason string         `json:"reason"`
	Draft  *rules.RuleSet `json:"draft,omitempty"`
}

type Generation struct {
	Strategy   string           `json:"strategy"`
	Candidates []*rules.RuleSet `json:"-"`
	Dropped    []Dropped        `json:"dropped,omitempty"`
	Expansions int              `json:"expansions"`
}

// GenerationExhausted is returned when the budget is spent without a single
// candidate.
type GenerationExhausted struct {
	Strategy string
	Budget   int
	Dropped  int
}

func (e *GenerationExhausted) Error() string {
	return fmt.Sprintf("%s produced no candidate within a budget of %d (%d drafts dropped)", e.Strategy, e.Budget, e.Dropped)
}

type Deps struct {
	Game     game.Game
	Checker  *checker.Checker
	Supplier Supplier
	Metrics  metrics.Collector
}

// New builds the strategy selected by cfg.Method.
func New(cfg config.Generator, deps Deps) (Strategy, error) {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewDummyCollector()
	}
	search := &LogicSearch{
		game:        deps.Game,
		checker:     deps.Checker,
		branching:   cfg.Branching,
		trialSample: cfg.TrialSample,
		seed:        cfg.Seed,
		metrics:     deps.Metrics,
	}
	switch cfg.Method {
	case config.LogicSearch:
		return search, nil
	case config.ExternalSuggestion:
		if deps.Supplier == nil {
			return nil, fmt.Errorf("%s needs a draft supplier", cfg.Method)
		}
		return &External{
			game:     deps.Game,
			checker:  deps.Checker,
			supplier: deps.Supplier,
			metrics:  deps.Metrics,
		}, nil
	case config.Hybrid:
		if deps.Supplier == nil {
			return nil, fmt.Errorf("%s needs a draft supplier", cfg.Method)
		}
		search.supplier = deps.Supplier
		search.interval = cfg.HybridInterval
		return search, nil
	}
	return nil, fmt.Errorf("unknown method %q", cfg.Method)
}

func newProvenance(generator string) rules.Provenance {
	return rules.Provenance{Generator: generator, GeneratedAt: time.Now().UTC()}
}
