package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stigmergy/internal/config"
	"stigmergy/internal/model"
	"stigmergy/internal/stats"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prevOut, prevErr := stdout, stderr
	stdout, stderr = buf, &bytes.Buffer{}
	t.Cleanup(func() {
		stdout, stderr = prevOut, prevErr
	})
	return buf
}

func smallRunArgs(runsDir string, extra ...string) []string {
	args := []string{
		"run",
		"--store", "memory",
		"--runs-dir", runsDir,
		"--cell-size", "10",
		"--agents", "6",
		"--food", "2",
		"--seed", "3",
		"--workers", "2",
		"--ticks", "40",
		"--sample-every", "20",
	}
	return append(args, extra...)
}

func TestRunCommandWritesArtifacts(t *testing.T) {
	out := captureOutput(t)
	runsDir := filepath.Join(t.TempDir(), "runs")

	if err := run(context.Background(), smallRunArgs(runsDir)); err != nil {
		t.Fatalf("run command: %v", err)
	}
	if !strings.Contains(out.String(), "run completed") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one indexed run, got %d", len(entries))
	}
	if entries[0].Seed != 3 || entries[0].Agents != 6 || entries[0].Ticks != 40 {
		t.Fatalf("unexpected index entry: %+v", entries[0])
	}
	for _, file := range []string{"config.json", "summary.json", "metrics_series.csv"} {
		if _, err := os.Stat(filepath.Join(runsDir, entries[0].RunID, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}
}

func TestRunCommandJSONSummary(t *testing.T) {
	out := captureOutput(t)
	runsDir := filepath.Join(t.TempDir(), "runs")

	if err := run(context.Background(), smallRunArgs(runsDir, "--json")); err != nil {
		t.Fatalf("run command: %v", err)
	}
	var record model.RunRecord
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("decode json summary: %v\n%s", err, out.String())
	}
	if record.Ticks != 40 || record.Reason != "tick_limit" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestRunsShowAndExportCommands(t *testing.T) {
	out := captureOutput(t)
	base := t.TempDir()
	runsDir := filepath.Join(base, "runs")
	exportDir := filepath.Join(base, "exports")
	ctx := context.Background()

	if err := run(ctx, smallRunArgs(runsDir)); err != nil {
		t.Fatalf("run command: %v", err)
	}

	out.Reset()
	if err := run(ctx, []string{"runs", "--store", "memory", "--runs-dir", runsDir}); err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(out.String(), "reason=tick_limit") {
		t.Fatalf("unexpected runs output: %s", out.String())
	}

	out.Reset()
	if err := run(ctx, []string{"runs", "--store", "memory", "--runs-dir", runsDir, "--report"}); err != nil {
		t.Fatalf("runs report: %v", err)
	}
	if !strings.Contains(out.String(), "runs=1") {
		t.Fatalf("unexpected report output: %s", out.String())
	}

	out.Reset()
	if err := run(ctx, []string{"show", "--store", "memory", "--runs-dir", runsDir, "--latest", "--series"}); err != nil {
		t.Fatalf("show command: %v", err)
	}
	if got := strings.Count(out.String(), "tick=20 ") + strings.Count(out.String(), "tick=40 "); got != 2 {
		t.Fatalf("expected two series rows, output:\n%s", out.String())
	}

	out.Reset()
	if err := run(ctx, []string{"export", "--store", "memory", "--runs-dir", runsDir, "--latest", "--out", exportDir}); err != nil {
		t.Fatalf("export command: %v", err)
	}
	entries, err := stats.ListRunIndex(runsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportDir, entries[0].RunID, "summary.json")); err != nil {
		t.Fatalf("expected exported summary: %v", err)
	}

	out.Reset()
	if err := run(ctx, []string{"reset", "--store", "memory", "--runs-dir", runsDir}); err != nil {
		t.Fatalf("reset command: %v", err)
	}
	if !strings.Contains(out.String(), "removed=1") {
		t.Fatalf("unexpected reset output: %s", out.String())
	}
}

func TestRunCommandUsesConfigFile(t *testing.T) {
	captureOutput(t)
	base := t.TempDir()
	runsDir := filepath.Join(base, "runs")
	cfgPath := filepath.Join(base, "sim.json")
	if err := os.WriteFile(cfgPath, []byte(`{"cell_size": 10, "initial_ants": 4, "food_sources": 1, "seed": 99}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	args := []string{"run", "--store", "memory", "--runs-dir", runsDir, "--config", cfgPath, "--ticks", "10", "--workers", "1"}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command: %v", err)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("list run index: %v (%d entries)", err, len(entries))
	}
	cfg, ok, err := stats.ReadRunConfig(runsDir, entries[0].RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.Sim.Seed != 99 || cfg.Sim.InitialAnts != 4 || cfg.Sim.Workers != 1 {
		t.Fatalf("config file values were not honoured: %+v", cfg.Sim)
	}
}

func TestInitWritesDefaultConfig(t *testing.T) {
	captureOutput(t)
	path := filepath.Join(t.TempDir(), "default.json")
	if err := run(context.Background(), []string{"init", "--store", "memory", "--config-out", path}); err != nil {
		t.Fatalf("init command: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.InitialAnts != config.Default().InitialAnts {
		t.Fatalf("unexpected written config: %+v", cfg)
	}
	if err := run(context.Background(), []string{"init", "--store", "memory", "--config-out", path}); err == nil {
		t.Fatal("expected init to refuse overwriting an existing config")
	}
}

func TestCommandValidation(t *testing.T) {
	captureOutput(t)
	ctx := context.Background()
	cases := [][]string{
		nil,
		{"bogus"},
		{"export", "--store", "memory"},
		{"show", "--store", "memory", "--run-id", "x", "--latest"},
		{"runs", "--store", "memory", "--limit", "0"},
		{"run", "--store", "memory", "--ticks", "-1"},
		{"run", "--store", "memory", "--world-size", "0"},
	}
	for _, args := range cases {
		if err := run(ctx, args); err == nil {
			t.Fatalf("expected error for args %v", args)
		}
	}
}
