package main

import (
	"fmt"
	"os"
	"path/filepath"

	"ggp/artifact"
	"ggp/config"
	"ggp/game"
	"ggp/hypothesis"
	"ggp/metrics"
	"ggp/pipeline"
	"ggp/playout"
	"ggp/refine"
	"ggp/trace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	tracesFile      = "traces.jsonl"
	configFile      = "ggp.yaml"
	suggestionsFile = "suggestions.jsonl"
)

// loadConfig reads --config and checks the result.
func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return cfg, usageError(err)
	}
	return cfg, nil
}

func loadTraces(cfg config.Config, path string) (*trace.Store, error) {
	if path == "" {
		return nil, usageErrorf("--traces is required")
	}
	g, err := game.Lookup(cfg.Game)
	if err != nil {
		return nil, usageError(err)
	}
	store, err := trace.LoadFile(path, g)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("loaded %d traces from %s", store.Len(), path)
	return store, nil
}

func openRegistry(path string) (*artifact.Registry, error) {
	if path == "" {
		return nil, nil
	}
	return artifact.Open(path)
}

func (a *app) initCmd() *cobra.Command {
	var example, out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold an example directory with traces and a configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return usageErrorf("--out is required")
			}
			if example != "ttt" && example != game.TicTacToeName {
				return usageErrorf("unknown example %q", example)
			}
			if err := os.MkdirAll(out, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}

			g := game.TicTacToe{}
			traces, err := trace.TicTacToeExamples("horizontal", "vertical", "draw")
			if err != nil {
				return err
			}
			if err := trace.WriteFile(filepath.Join(out, tracesFile), g, traces); err != nil {
				return err
			}
			if err := config.Write(filepath.Join(out, configFile), config.Default()); err != nil {
				return err
			}
			if err := writeSuggestions(filepath.Join(out, suggestionsFile)); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %s, %s and %s to %s\n", tracesFile, configFile, suggestionsFile, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&example, "example", "ttt", "example game to scaffold")
	cmd.Flags().StringVar(&out, "out", "", "directory to create")
	return cmd
}

// referenceDrafts are the drafts written by init: an incomplete one that
// external methods drop and the full tic-tac-toe rules.
const referenceDrafts = `{"predicates":[{"kind":"terminal","expr":"line_x || line_o || full"},{"kind":"score","expr":"line_x","scores":{"x":1,"o":0}}]}
{"predicates":[{"kind":"legal_move","expr":"cell_empty"},{"kind":"terminal","expr":"line_x || line_o || full"},{"kind":"score","expr":"line_x","scores":{"x":1,"o":0}},{"kind":"score","expr":"line_o","scores":{"x":0,"o":1}},{"kind":"score","expr":"full","scores":{"x":0.5,"o":0.5}}]}
`

// setPolicy overrides the configured playout policy when name is set.
func setPolicy(cfg *config.Config, name string) error {
	if name == "" {
		return nil
	}
	p, err := config.ParsePolicy(name)
	if err != nil {
		return usageError(err)
	}
	cfg.Validation.Policy = p
	return nil
}

func writeSuggestions(path string) error {
	if err := os.WriteFile(path, []byte(referenceDrafts), 0o644); err != nil {
		return fmt.Errorf("failed to write suggestions: %w", err)
	}
	return nil
}

type extractOptions struct {
	traces        string
	out           string
	method        string
	suggestions   string
	registry      string
	metricsDir    string
	policy        string
	playouts      int
	maxExpansions int
}

func (a *app) extractCmd() *cobra.Command {
	var opts extractOptions
	cmd := &cobra.Command{
		Use:   "extract-rules",
		Short: "Induce a rule set from traces, refine it and validate it by self-play",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.extract(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.traces, "traces", "", "trace file (JSON lines)")
	cmd.Flags().StringVar(&opts.out, "out", "", "artifact file to write")
	cmd.Flags().StringVar(&opts.method, "method", "", "logic-search, external-suggestion or hybrid")
	cmd.Flags().StringVar(&opts.suggestions, "suggestions", "", "draft rule sets (JSON lines) for external methods")
	cmd.Flags().StringVar(&opts.registry, "registry", "", "SQLite artifact registry")
	cmd.Flags().StringVar(&opts.metricsDir, "metrics-dir", "", "directory for run metrics")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "playout policy: random or mcts")
	cmd.Flags().IntVar(&opts.playouts, "n-sim", 0, "number of validation playouts")
	cmd.Flags().IntVar(&opts.maxExpansions, "max-expansions", 0, "generator budget")
	return cmd
}

func (a *app) extract(cmd *cobra.Command, opts extractOptions) error {
	if opts.out == "" {
		return usageErrorf("--out is required")
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if opts.method != "" {
		m, err := config.ParseMethod(opts.method)
		if err != nil {
			return usageError(err)
		}
		cfg.Generator.Method = m
	}
	if err := setPolicy(&cfg, opts.policy); err != nil {
		return err
	}
	if opts.playouts > 0 {
		cfg.Validation.Playouts = opts.playouts
	}
	if opts.maxExpansions > 0 {
		cfg.Generator.MaxExpansions = opts.maxExpansions
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}
	if cfg.Generator.Method != config.LogicSearch && opts.suggestions == "" {
		return usageErrorf("--suggestions is required for %s", cfg.Generator.Method)
	}

	store, err := loadTraces(cfg, opts.traces)
	if err != nil {
		return err
	}
	deps := pipeline.Deps{}
	if opts.suggestions != "" {
		supplier, err := hypothesis.LoadFileSupplier(opts.suggestions)
		if err != nil {
			return err
		}
		deps.Supplier = supplier
	}
	reg, err := openRegistry(opts.registry)
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
		deps.Registry = reg
	}
	promRegistry := prometheus.NewRegistry()
	deps.Metrics = metrics.NewCollector(promRegistry)

	res, runErr := pipeline.Run(cmd.Context(), cfg, store, deps)
	if res != nil && res.Artifact != nil {
		if err := artifact.WriteFile(opts.out, res.Artifact); err != nil {
			return err
		}
		log.Info().Msgf("wrote %s artifact to %s", res.Artifact.Status, opts.out)
	}
	if opts.metricsDir != "" && res != nil {
		if err := writeMetrics(opts.metricsDir, res, deps.Metrics, promRegistry); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	return a.report(res.Artifact)
}

// report prints the outcome of a finalized artifact and maps a rejection to
// its exit code.
func (a *app) report(art *artifact.Artifact) error {
	fmt.Fprintf(a.stdout, "%s %s: %d predicates, %s\n",
		art.RuleSet.Game, art.ID, len(art.RuleSet.Predicates), art.Status)
	if v := art.Validation; v != nil {
		for _, m := range v.Metrics {
			mark := "ok"
			if !m.Pass {
				mark = "FAIL"
			}
			fmt.Fprintf(a.stdout, "  %-22s %8.3f (deviation %.3f, tolerance %.3f) %s\n",
				m.Name, m.Observed, m.Deviation, m.Tolerance, mark)
		}
	}
	if art.Status == artifact.Rejected {
		return &exitError{code: exitRejected, err: fmt.Errorf("rule set rejected: %v", art.Validation.Failing)}
	}
	return nil
}

func writeMetrics(dir string, res *pipeline.Result, collector metrics.Collector, reg *prometheus.Registry) error {
	w, err := metrics.NewWriter(dir)
	if err != nil {
		return err
	}
	if err := w.WriteRunMetric(collector.Complete()); err != nil {
		return err
	}
	attempts := res.Attempts
	if len(attempts) == 0 && res.Attempt != nil {
		attempts = []*refine.Attempt{res.Attempt}
	}
	var steps []metrics.RefinementRecord
	for _, at := range attempts {
		for _, s := range at.History {
			steps = append(steps, metrics.RefinementRecord{
				Candidate:    at.Candidate,
				Iteration:    s.Iteration,
				Edit:         s.Edit,
				Generalizing: s.Generalizing,
				Before:       s.Before,
				After:        s.After,
				Applied:      s.Applied,
			})
		}
	}
	if err := w.WriteRefinementRecords(steps); err != nil {
		return err
	}
	if res.Artifact != nil && res.Artifact.Validation != nil {
		if err := w.WritePlayoutRecords(playoutRecords(res.Artifact.Validation)); err != nil {
			return err
		}
	}
	if err := w.WritePrometheus(reg); err != nil {
		return err
	}
	log.Info().Msgf("wrote run metrics to %s", w.Dir())
	return nil
}

func playoutRecords(report *playout.Report) []metrics.PlayoutRecord {
	records := make([]metrics.PlayoutRecord, 0, len(report.Results))
	for _, r := range report.Results {
		records = append(records, metrics.PlayoutRecord{
			Index:    r.Index,
			Length:   r.Length,
			Terminal: r.Terminal,
			Stuck:    r.Stuck,
			Capped:   r.Capped,
			Illegal:  r.Illegal,
			Unscored: r.Unscored,
			Class:    r.Class,
		})
	}
	return records
}

func (a *app) validateCmd() *cobra.Command {
	var rulesPath, tracesPath, out, registry, policy string
	var playouts int
	cmd := &cobra.Command{
		Use:   "validate-rules",
		Short: "Validate an existing rule set artifact by self-play",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rulesPath == "" {
				return usageErrorf("--rules is required")
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := setPolicy(&cfg, policy); err != nil {
				return err
			}
			if playouts > 0 {
				cfg.Validation.Playouts = playouts
			}
			if err := cfg.Validate(); err != nil {
				return usageError(err)
			}
			art, err := artifact.ReadFile(rulesPath)
			if err != nil {
				return err
			}
			store, err := loadTraces(cfg, tracesPath)
			if err != nil {
				return err
			}
			reg, err := openRegistry(registry)
			if err != nil {
				return err
			}
			deps := pipeline.Deps{}
			if reg != nil {
				defer reg.Close()
				deps.Registry = reg
			}

			res, runErr := pipeline.Revalidate(cmd.Context(), cfg, store, art, deps)
			if out == "" {
				out = rulesPath
			}
			if res != nil && res.Artifact != nil {
				if err := artifact.WriteFile(out, res.Artifact); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			return a.report(res.Artifact)
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "artifact file to validate")
	cmd.Flags().StringVar(&tracesPath, "traces", "", "trace file (JSON lines)")
	cmd.Flags().StringVar(&out, "out", "", "artifact file to write (defaults to --rules)")
	cmd.Flags().StringVar(&registry, "registry", "", "SQLite artifact registry")
	cmd.Flags().StringVar(&policy, "policy", "", "playout policy: random or mcts")
	cmd.Flags().IntVar(&playouts, "n-sim", 0, "number of validation playouts")
	return cmd
}

func (a *app) checkCmd() *cobra.Command {
	var rulesPath, tracesPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Print the discrepancies between a rule set and traces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rulesPath == "" {
				return usageErrorf("--rules is required")
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			art, err := artifact.ReadFile(rulesPath)
			if err != nil {
				return err
			}
			store, err := loadTraces(cfg, tracesPath)
			if err != nil {
				return err
			}
			report, err := pipeline.Check(cmd.Context(), cfg, store, art.RuleSet)
			if err != nil {
				return err
			}
			for _, d := range report.All() {
				fmt.Fprintf(a.stdout, "trace %d step %d %s", d.Trace, d.Step, d.Kind)
				if d.Action != "" {
					fmt.Fprintf(a.stdout, " %s", d.Action)
				}
				fmt.Fprintf(a.stdout, ": expected %s, predicted %s", d.Expected, d.Predicted)
				if d.Predicate != "" {
					fmt.Fprintf(a.stdout, " (%s)", d.Predicate)
				}
				fmt.Fprintln(a.stdout)
			}
			fmt.Fprintf(a.stdout, "%d discrepancies over %d traces\n", report.Count(), report.Traces)
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "artifact file to check")
	cmd.Flags().StringVar(&tracesPath, "traces", "", "trace file (JSON lines)")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var registry, gameName string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the artifact versions stored for a game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if registry == "" {
				return usageErrorf("--registry is required")
			}
			if gameName == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				gameName = cfg.Game
			}
			reg, err := artifact.Open(registry)
			if err != nil {
				return err
			}
			defer reg.Close()
			entries, err := reg.List(gameName)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(a.stdout, "no artifacts for %s\n", gameName)
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.stdout, "%3d  %-10s  %s  %s  %s\n",
					e.Version, e.Status, e.ID, e.Hash, e.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&registry, "registry", "", "SQLite artifact registry")
	cmd.Flags().StringVar(&gameName, "game", "", "game name (defaults to the configured game)")
	return cmd
}

func (a *app) lineageCmd() *cobra.Command {
	var rulesPath, out string
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Write the refinement lineage of an artifact as DOT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rulesPath == "" {
				return usageErrorf("--rules is required")
			}
			art, err := artifact.ReadFile(rulesPath)
			if err != nil {
				return err
			}
			dot, err := artifact.LineageDOT(art)
			if err != nil {
				return fmt.Errorf("failed to render lineage: %w", err)
			}
			if out == "" {
				_, err := fmt.Fprint(a.stdout, dot)
				return err
			}
			if err := os.WriteFile(out, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write lineage: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "artifact file")
	cmd.Flags().StringVar(&out, "out", "", "DOT file to write (defaults to stdout)")
	return cmd
}
