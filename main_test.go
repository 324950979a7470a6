package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"ggp/artifact"
	"ggp/game"
	"ggp/trace"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	previous := log.Logger
	defer func() { log.Logger = previous }()

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func scaffold(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	code, out, _ := run(t, "init", "--out", dir)
	require.Equal(t, exitOK, code)
	require.Contains(t, out, tracesFile)
	return dir
}

func TestInit(t *testing.T) {
	dir := scaffold(t)
	for _, name := range []string{tracesFile, configFile, suggestionsFile} {
		require.FileExists(t, filepath.Join(dir, name))
	}
	store, err := trace.LoadFile(filepath.Join(dir, tracesFile), game.TicTacToe{})
	require.NoError(t, err)
	require.Equal(t, 3, store.Len())

	code, _, _ := run(t, "init", "--example", "chess", "--out", t.TempDir())
	require.Equal(t, exitUsage, code)
}

func TestExtract(t *testing.T) {
	dir := scaffold(t)
	traces := filepath.Join(dir, tracesFile)
	cfg := filepath.Join(dir, configFile)
	rules := filepath.Join(dir, "rules.json")
	registry := filepath.Join(dir, "registry.db")

	code, out, stderr := run(t, "extract-rules", "--config", cfg, "--traces", traces, "--out", rules,
		"--registry", registry, "--metrics-dir", filepath.Join(dir, "metrics"), "--n-sim", "50")
	require.Equal(t, exitOK, code, stderr)
	require.Contains(t, out, "validated")

	a, err := artifact.ReadFile(rules)
	require.NoError(t, err)
	require.Equal(t, artifact.Validated, a.Status)

	runs, err := os.ReadDir(filepath.Join(dir, "metrics"))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	for _, name := range []string{"run.json", "playouts.csv", "refinement.csv", "metrics.prom"} {
		require.FileExists(t, filepath.Join(dir, "metrics", runs[0].Name(), name))
	}

	t.Run("check prints no discrepancies for the extracted rules", func(t *testing.T) {
		code, out, _ := run(t, "check", "--config", cfg, "--rules", rules, "--traces", traces)
		require.Equal(t, exitOK, code)
		require.Contains(t, out, "0 discrepancies over 3 traces")
	})

	t.Run("lineage renders DOT", func(t *testing.T) {
		code, out, _ := run(t, "lineage", "--rules", rules)
		require.Equal(t, exitOK, code)
		require.Contains(t, out, "digraph lineage")

		path := filepath.Join(dir, "lineage.dot")
		code, _, _ = run(t, "lineage", "--rules", rules, "--out", path)
		require.Equal(t, exitOK, code)
		require.FileExists(t, path)
	})

	t.Run("revalidation derives a new version", func(t *testing.T) {
		derived := filepath.Join(dir, "derived.json")
		code, _, stderr := run(t, "validate-rules", "--config", cfg, "--rules", rules, "--traces", traces,
			"--n-sim", "50", "--out", derived, "--registry", registry)
		require.Equal(t, exitOK, code, stderr)

		b, err := artifact.ReadFile(derived)
		require.NoError(t, err)
		require.Equal(t, a.ID.String(), b.Parent)
	})

	t.Run("revalidation can choose playout actions by search", func(t *testing.T) {
		searched := filepath.Join(dir, "searched.json")
		code, _, stderr := run(t, "validate-rules", "--config", cfg, "--rules", rules, "--traces", traces,
			"--n-sim", "10", "--policy", "mcts", "--out", searched)
		require.Contains(t, []int{exitOK, exitRejected}, code, stderr)

		b, err := artifact.ReadFile(searched)
		require.NoError(t, err)
		require.Equal(t, 10, b.Validation.Playouts)
		require.Zero(t, b.Validation.NonTerminating)
	})

	t.Run("history lists every saved version", func(t *testing.T) {
		code, out, _ := run(t, "history", "--config", cfg, "--registry", registry)
		require.Equal(t, exitOK, code)
		require.Contains(t, out, a.ID.String())
		require.Contains(t, out, "  2  validated")
	})
}

func TestExtractExternal(t *testing.T) {
	dir := scaffold(t)
	rules := filepath.Join(dir, "rules.json")
	code, _, stderr := run(t, "extract-rules", "--config", filepath.Join(dir, configFile),
		"--traces", filepath.Join(dir, tracesFile), "--out", rules, "--method", "llm",
		"--suggestions", filepath.Join(dir, suggestionsFile), "--n-sim", "50")
	require.Equal(t, exitOK, code, stderr)
	require.Contains(t, stderr, "dropping draft")

	a, err := artifact.ReadFile(rules)
	require.NoError(t, err)
	require.Equal(t, "external-suggestion", a.RuleSet.Provenance.Generator)
}

func TestExitCodes(t *testing.T) {
	t.Run("rules that never end a full board are rejected", func(t *testing.T) {
		dir := t.TempDir()
		traces, err := trace.TicTacToeExamples("horizontal", "vertical")
		require.NoError(t, err)
		path := filepath.Join(dir, tracesFile)
		require.NoError(t, trace.WriteFile(path, game.TicTacToe{}, traces))

		rules := filepath.Join(dir, "rules.json")
		code, out, _ := run(t, "extract-rules", "--traces", path, "--out", rules)
		require.Equal(t, exitRejected, code)
		require.Contains(t, out, "FAIL")

		a, err := artifact.ReadFile(rules)
		require.NoError(t, err)
		require.Equal(t, artifact.Rejected, a.Status)
	})

	t.Run("malformed traces fail the run", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), tracesFile)
		require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o644))
		code, _, _ := run(t, "extract-rules", "--traces", path, "--out", filepath.Join(t.TempDir(), "rules.json"))
		require.Equal(t, exitFailure, code)
	})

	t.Run("usage errors", func(t *testing.T) {
		dir := scaffold(t)
		traces := filepath.Join(dir, tracesFile)
		for name, args := range map[string][]string{
			"missing out":     {"extract-rules", "--traces", traces},
			"missing traces":  {"extract-rules", "--out", filepath.Join(dir, "rules.json")},
			"unknown method":  {"extract-rules", "--traces", traces, "--out", "x.json", "--method", "guess"},
			"no suggestions":  {"extract-rules", "--traces", traces, "--out", "x.json", "--method", "hybrid"},
			"unknown flag":    {"check", "--bogus"},
			"unknown command": {"transmogrify"},
			"missing config":  {"check", "--config", filepath.Join(dir, "absent.yaml"), "--rules", "x.json"},
		} {
			code, _, _ := run(t, args...)
			require.Equal(t, exitUsage, code, name)
		}
	})
}
