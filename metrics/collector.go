package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunMetric summarizes the work done by one induction run.
type RunMetric struct {
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
	Expansions     int           `json:"expansions"`
	Candidates     int           `json:"candidates"`
	Dropped        int           `json:"dropped"`
	Checks         int           `json:"checks"`
	Iterations     int           `json:"iterations"`
	Edits          int           `json:"edits"`
	Playouts       int           `json:"playouts"`
	NonTerminating int           `json:"non_terminating"`
}

// Collector is safe for concurrent use by checker and playout workers.
type Collector interface {
	Start()
	AddExpansion()
	AddCandidate()
	AddDropped()
	AddCheck(d time.Duration)
	AddIteration(applied bool)
	AddPlayout(length int, terminating bool)
	Complete() RunMetric
}

type collector struct {
	startTime      time.Time
	expansions     atomic.Int32
	candidates     atomic.Int32
	dropped        atomic.Int32
	checks         atomic.Int32
	iterations     atomic.Int32
	edits          atomic.Int32
	playouts       atomic.Int32
	nonTerminating atomic.Int32

	expansionsTotal prometheus.Counter
	candidatesTotal prometheus.Counter
	droppedTotal    prometheus.Counter
	checkDuration   prometheus.Histogram
	iterationsTotal *prometheus.CounterVec
	playoutLength   prometheus.Histogram
	playoutsTotal   *prometheus.CounterVec
}

// NewCollector registers the run instruments on reg. Use a fresh registry per
// run; registering twice on the same one panics.
func NewCollector(reg prometheus.Registerer) Collector {
	factory := promauto.With(reg)
	return &collector{
		expansionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ggp",
			Name:      "generator_expansions_total",
			Help:      "Search nodes expanded by the hypothesis generator.",
		}),
		candidatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ggp",
			Name:      "generator_candidates_total",
			Help:      "Candidate rule sets yielded by the hypothesis generator.",
		}),
		droppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ggp",
			Name:      "generator_dropped_total",
			Help:      "Malformed drafts dropped by the hypothesis generator.",
		}),
		checkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ggp",
			Name:      "check_duration_seconds",
			Help:      "Duration of consistency checks.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		iterationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ggp",
			Name:      "refinement_iterations_total",
			Help:      "Refinement iterations by whether an edit was applied.",
		}, []string{"applied"}),
		playoutLength: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ggp",
			Name:      "playout_length",
			Help:      "Moves played per validation playout.",
			Buckets:   prometheus.LinearBuckets(0, 5, 12),
		}),
		playoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ggp",
			Name:      "playouts_total",
			Help:      "Validation playouts by whether they reached a terminal state.",
		}, []string{"terminating"}),
	}
}

func (m *collector) Start() {
	m.startTime = time.Now()
}

func (m *collector) AddExpansion() {
	m.expansions.Add(1)
	m.expansionsTotal.Inc()
}

func (m *collector) AddCandidate() {
	m.candidates.Add(1)
	m.candidatesTotal.Inc()
}

func (m *collector) AddDropped() {
	m.dropped.Add(1)
	m.droppedTotal.Inc()
}

func (m *collector) AddCheck(d time.Duration) {
	m.checks.Add(1)
	m.checkDuration.Observe(d.Seconds())
}

func (m *collector) AddIteration(applied bool) {
	m.iterations.Add(1)
	if applied {
		m.edits.Add(1)
		m.iterationsTotal.WithLabelValues("true").Inc()
		return
	}
	m.iterationsTotal.WithLabelValues("false").Inc()
}

func (m *collector) AddPlayout(length int, terminating bool) {
	m.playouts.Add(1)
	m.playoutLength.Observe(float64(length))
	if terminating {
		m.playoutsTotal.WithLabelValues("true").Inc()
		return
	}
	m.nonTerminating.Add(1)
	m.playoutsTotal.WithLabelValues("false").Inc()
}

func (m *collector) Complete() RunMetric {
	return RunMetric{
		StartTime:      m.startTime,
		Duration:       time.Since(m.startTime),
		Expansions:     int(m.expansions.Load()),
		Candidates:     int(m.candidates.Load()),
		Dropped:        int(m.dropped.Load()),
		Checks:         int(m.checks.Load()),
		Iterations:     int(m.iterations.Load()),
		Edits:          int(m.edits.Load()),
		Playouts:       int(m.playouts.Load()),
		NonTerminating: int(m.nonTerminating.Load()),
	}
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) Start()                                  {}
func (m *dummyCollector) AddExpansion()                           {}
func (m *dummyCollector) AddCandidate()                           {}
func (m *dummyCollector) AddDropped()                             {}
func (m *dummyCollector) AddCheck(d time.Duration)                {}
func (m *dummyCollector) AddIteration(applied bool)               {}
func (m *dummyCollector) AddPlayout(length int, terminating bool) {}
func (m *dummyCollector) Complete() RunMetric                     { return RunMetric{} }
