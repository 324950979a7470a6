package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	for input, want := range map[string]Method{
		"logic-search":        LogicSearch,
		"external-suggestion": ExternalSuggestion,
		"hybrid":              Hybrid,
		"ilp":                 LogicSearch,
		"LLM":                 ExternalSuggestion,
	} {
		got, err := ParseMethod(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}
	_, err := ParseMethod("genetic")
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, Default().Validate())
	})

	t.Run("file values overlay defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ggp.yaml")
		require.NoError(t, os.WriteFile(path, []byte("generator:\n  method: llm\n  max_expansions: 8\nvalidation:\n  playouts: 50\n"), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, ExternalSuggestion, cfg.Generator.Method)
		require.Equal(t, 8, cfg.Generator.MaxExpansions)
		require.Equal(t, 50, cfg.Validation.Playouts)
		require.Equal(t, Default().Refinement, cfg.Refinement)
	})

	t.Run("written configs load back", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ggp.yaml")
		cfg := Default()
		cfg.Generator.Method = Hybrid
		require.NoError(t, Write(path, cfg))
		loaded, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, cfg, loaded)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("GGP_WORKERS", "2")
		t.Setenv("GGP_METHOD", "hybrid")
		cfg, err := Load("")
		require.NoError(t, err)
		require.Equal(t, 2, cfg.Workers)
		require.Equal(t, Hybrid, cfg.Generator.Method)
	})

	t.Run("out of range values fail validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ggp.yaml")
		require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o644))
		_, err := Load(path)
		require.ErrorContains(t, err, "Workers")
	})

	t.Run("unknown methods fail to parse", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ggp.yaml")
		require.NoError(t, os.WriteFile(path, []byte("generator:\n  method: genetic\n"), 0o644))
		_, err := Load(path)
		require.ErrorContains(t, err, "unknown method")
	})

	t.Run("playout policy is read from file and environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ggp.yaml")
		require.NoError(t, os.WriteFile(path, []byte("validation:\n  policy: mcts\n  search_episodes: 16\n"), 0o644))
		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, SearchPolicy, cfg.Validation.Policy)
		require.Equal(t, 16, cfg.Validation.SearchEpisodes)
		require.Equal(t, Default().Validation.SearchCutoff, cfg.Validation.SearchCutoff)

		t.Setenv("GGP_POLICY", "random")
		cfg, err = Load(path)
		require.NoError(t, err)
		require.Equal(t, RandomPolicy, cfg.Validation.Policy)
	})

	t.Run("unknown policies fail validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ggp.yaml")
		require.NoError(t, os.WriteFile(path, []byte("validation:\n  policy: greedy\n"), 0o644))
		_, err := Load(path)
		require.ErrorContains(t, err, "Policy")

		t.Setenv("GGP_POLICY", "greedy")
		_, err = Load("")
		require.ErrorContains(t, err, "unknown policy")
	})

	t.Run("missing files are an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}
