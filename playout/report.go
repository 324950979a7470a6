package playout

import (
	"math"
	"sort"

	"ggp/config"
	"ggp/trace"
)

const (
	NonTerminatingRate = "non_terminating_rate"
	IllegalRate        = "illegal_rate"
	UnscoredRate       = "unscored_rate"
	MeanLength         = "mean_length"
	OutcomeCoverage    = "outcome_coverage"
)

type Verdict string

const (
	Validated Verdict = "validated"
	Rejected  Verdict = "rejected"
)

// Result describes one playout.
type Result struct {
	Index    int    `json:"index"`
	Length   int    `json:"length"`
	Terminal bool   `json:"terminal"`
	Stuck    bool   `json:"stuck,omitempty"`
	Capped   bool   `json:"capped,omitempty"`
	Illegal  bool   `json:"illegal,omitempty"`
	Unscored bool   `json:"unscored,omitempty"`
	Class    string `json:"class,omitempty"`
}

// Terminating reports whether the playout neither hit the step cap nor got
// stuck.
func (r Result) Terminating() bool {
	return !r.Stuck && !r.Capped
}

type Metric struct {
	Name      string  `json:"name"`
	Observed  float64 `json:"observed"`
	Expected  float64 `json:"expected"`
	Deviation float64 `json:"deviation"`
	Tolerance float64 `json:"tolerance"`
	Pass      bool    `json:"pass"`
}

// Tolerances bound the deviation each metric may show. Non-terminating
// playouts are never tolerated.
type Tolerances struct {
	MeanLength      float64 `json:"mean_length"`
	IllegalRate     float64 `json:"illegal_rate"`
	UnscoredRate    float64 `json:"unscored_rate"`
	OutcomeCoverage float64 `json:"outcome_coverage"`
}

func TolerancesFrom(cfg config.Validation) Tolerances {
	return Tolerances{
		MeanLength:      cfg.MeanLengthTolerance,
		IllegalRate:     cfg.IllegalRateTolerance,
		UnscoredRate:    cfg.UnscoredRateTolerance,
		OutcomeCoverage: cfg.OutcomeCoverageTolerance,
	}
}

type Report struct {
	Playouts        int            `json:"playouts"`
	Terminal        int            `json:"terminal"`
	NonTerminating  int            `json:"non_terminating"`
	Stuck           int            `json:"stuck"`
	Capped          int            `json:"capped"`
	Illegal         int            `json:"illegal"`
	Unscored        int            `json:"unscored"`
	MeanLength      float64        `json:"mean_length"`
	TraceMeanLength float64        `json:"trace_mean_length"`
	Outcomes        map[string]int `json:"outcomes"`
	Metrics         []Metric       `json:"metrics"`
	Failing         []string       `json:"failing,omitempty"`
	Verdict         Verdict        `json:"verdict"`
	Results         []Result       `json:"-"`
}

func (r *Report) Metric(name string) (Metric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// summarize reduces per-playout results against the statistics of the trace
// sample.
func summarize(results []Result, sample trace.Stats, tol Tolerances) *Report {
	r := &Report{
		Playouts:        len(results),
		TraceMeanLength: sample.MeanLength,
		Outcomes:        make(map[string]int),
		Results:         results,
	}
	terminalLength := 0
	for _, res := range results {
		switch {
		case res.Stuck:
			r.Stuck++
		case res.Capped:
			r.Capped++
		case res.Illegal:
			r.Illegal++
		}
		if !res.Terminating() {
			r.NonTerminating++
		}
		if res.Terminal {
			r.Terminal++
			terminalLength += res.Length
			if res.Unscored {
				r.Unscored++
			} else {
				r.Outcomes[res.Class]++
			}
		}
	}
	if r.Terminal > 0 {
		r.MeanLength = float64(terminalLength) / float64(r.Terminal)
	}

	r.Metrics = append(r.Metrics, threshold(NonTerminatingRate, rate(r.NonTerminating, r.Playouts), 0))
	r.Metrics = append(r.Metrics, threshold(IllegalRate, rate(r.Illegal, r.Playouts), tol.IllegalRate))
	r.Metrics = append(r.Metrics, threshold(UnscoredRate, rate(r.Unscored, r.Playouts), tol.UnscoredRate))

	lengthDeviation := 0.0
	switch {
	case sample.MeanLength > 0:
		lengthDeviation = math.Abs(r.MeanLength-sample.MeanLength) / sample.MeanLength
	case r.MeanLength > 0:
		lengthDeviation = 1
	}
	r.Metrics = append(r.Metrics, Metric{
		Name:      MeanLength,
		Observed:  r.MeanLength,
		Expected:  sample.MeanLength,
		Deviation: lengthDeviation,
		Tolerance: tol.MeanLength,
		Pass:      lengthDeviation <= tol.MeanLength,
	})

	classes := sample.Classes()
	covered := 0
	for _, c := range classes {
		if r.Outcomes[c] > 0 {
			covered++
		}
	}
	coverage := 1.0
	if len(classes) > 0 {
		coverage = float64(covered) / float64(len(classes))
	}
	r.Metrics = append(r.Metrics, Metric{
		Name:      OutcomeCoverage,
		Observed:  coverage,
		Expected:  1,
		Deviation: 1 - coverage,
		Tolerance: tol.OutcomeCoverage,
		Pass:      1-coverage <= tol.OutcomeCoverage,
	})

	for _, m := range r.Metrics {
		if !m.Pass {
			r.Failing = append(r.Failing, m.Name)
		}
	}
	sort.Strings(r.Failing)
	r.Verdict = Validated
	if len(r.Failing) > 0 {
		r.Verdict = Rejected
	}
	return r
}

func threshold(name string, observed, tolerance float64) Metric {
	return Metric{
		Name:      name,
		Observed:  observed,
		Deviation: observed,
		Tolerance: tolerance,
		Pass:      observed <= tolerance,
	}
}
