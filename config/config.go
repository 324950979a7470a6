package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Method selects the hypothesis generation strategy.
type Method string

const (
	LogicSearch        Method = "logic-search"
	ExternalSuggestion Method = "external-suggestion"
	Hybrid             Method = "hybrid"
)

var aliases = map[string]Method{
	"ilp": LogicSearch,
	"llm": ExternalSuggestion,
}

// ParseMethod accepts the method names and their short aliases.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if m, ok := aliases[s]; ok {
		return m, nil
	}
	switch m := Method(s); m {
	case LogicSearch, ExternalSuggestion, Hybrid:
		return m, nil
	}
	return "", fmt.Errorf("unknown method %q", s)
}

func (m *Method) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseMethod(node.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Policy selects how validation playouts choose among legal actions.
type Policy string

const (
	RandomPolicy Policy = "random"
	SearchPolicy Policy = "mcts"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case RandomPolicy, SearchPolicy:
		return p, nil
	}
	return "", fmt.Errorf("unknown policy %q", s)
}

type Generator struct {
	Method         Method `yaml:"method" validate:"oneof=logic-search external-suggestion hybrid"`
	MaxExpansions  int    `yaml:"max_expansions" validate:"gte=1"`
	Branching      int    `yaml:"branching" validate:"gte=1,lte=16"`
	TrialSample    int    `yaml:"trial_sample" validate:"gte=0"`
	HybridInterval int    `yaml:"hybrid_interval" validate:"gte=1"`
	Seed           uint64 `yaml:"seed"`
}

type Refinement struct {
	MaxCandidates   int `yaml:"max_candidates" validate:"gte=1"`
	MaxIterations   int `yaml:"max_iterations" validate:"gte=1"`
	MaxEdits        int `yaml:"max_edits" validate:"gte=1"`
	DivergenceLimit int `yaml:"divergence_limit" validate:"gte=1"`
}

type Validation struct {
	Playouts   int    `yaml:"playouts" validate:"gte=1"`
	StepCap    int    `yaml:"step_cap" validate:"gte=1"`
	SampleSize int    `yaml:"sample_size" validate:"gte=0"`
	Seed       uint64 `yaml:"seed"`

	// Search settings apply to the mcts policy only.
	Policy         Policy  `yaml:"policy" validate:"oneof=random mcts"`
	SearchEpisodes int     `yaml:"search_episodes" validate:"gte=1"`
	SearchCutoff   int     `yaml:"search_cutoff" validate:"gte=1"`
	Exploration    float64 `yaml:"exploration" validate:"gt=0"`

	MeanLengthTolerance      float64 `yaml:"mean_length_tolerance" validate:"gte=0"`
	IllegalRateTolerance     float64 `yaml:"illegal_rate_tolerance" validate:"gte=0,lte=1"`
	UnscoredRateTolerance    float64 `yaml:"unscored_rate_tolerance" validate:"gte=0,lte=1"`
	OutcomeCoverageTolerance float64 `yaml:"outcome_coverage_tolerance" validate:"gte=0,lte=1"`
}

// Config drives one induction run.
type Config struct {
	Game       string     `yaml:"game" validate:"required"`
	Workers    int        `yaml:"workers" validate:"gte=1,lte=1024"`
	Generator  Generator  `yaml:"generator"`
	Refinement Refinement `yaml:"refinement"`
	Validation Validation `yaml:"validation"`
}

func Default() Config {
	return Config{
		Game:    "tictactoe",
		Workers: 4,
		Generator: Generator{
			Method:         LogicSearch,
			MaxExpansions:  64,
			Branching:      2,
			TrialSample:    0,
			HybridInterval: 4,
			Seed:           1,
		},
		Refinement: Refinement{
			MaxCandidates:   5,
			MaxIterations:   20,
			MaxEdits:        16,
			DivergenceLimit: 3,
		},
		Validation: Validation{
			Playouts:                 100,
			StepCap:                  200,
			SampleSize:               0,
			Seed:                     1,
			Policy:                   RandomPolicy,
			SearchEpisodes:           64,
			SearchCutoff:             50,
			Exploration:              2,
			MeanLengthTolerance:      0.5,
			IllegalRateTolerance:     0,
			UnscoredRateTolerance:    0,
			OutcomeCoverageTolerance: 0.5,
		},
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load overlays the YAML file at path, if any, and GGP_* environment
// variables on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := loadEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadEnv(cfg *Config) error {
	if v := os.Getenv("GGP_METHOD"); v != "" {
		m, err := ParseMethod(v)
		if err != nil {
			return fmt.Errorf("GGP_METHOD: %w", err)
		}
		cfg.Generator.Method = m
	}
	if v := os.Getenv("GGP_POLICY"); v != "" {
		p, err := ParsePolicy(v)
		if err != nil {
			return fmt.Errorf("GGP_POLICY: %w", err)
		}
		cfg.Validation.Policy = p
	}
	if v := os.Getenv("GGP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GGP_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	return nil
}

// Write saves the configuration as YAML.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
