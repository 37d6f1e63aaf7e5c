package stats

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"stigmergy/internal/config"
	"stigmergy/internal/model"
)

func testArtifacts(runID string) RunArtifacts {
	sim := config.Default()
	sim.Seed = 11
	return RunArtifacts{
		Config: RunConfig{RunID: runID, Store: "memory", Sim: sim},
		Summary: model.RunRecord{
			ID:         runID,
			StartedAt:  time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
			Seed:       11,
			Agents:     sim.InitialAnts,
			Ticks:      600,
			Elapsed:    10,
			Reason:     "horizon_reached",
			Deliveries: 2,
		},
		Series: []model.MetricsSample{
			{Tick: 60, Elapsed: 1, Exploring: 48, Following: 2, FoodPeak: 0.125},
			{Tick: 120, Elapsed: 2, Deliveries: 1, FoodCollected: 1.5, Carrying: 1, AverageTimeSinceGoal: 3.25, AlarmPeak: 5},
		},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	runDir, err := WriteRunArtifacts(baseDir, testArtifacts(runID))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	files := []string{"config.json", "summary.json", "metrics_series.csv"}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
}

func TestExportMissingRunFails(t *testing.T) {
	if _, err := ExportRunArtifacts(t.TempDir(), "absent", t.TempDir()); err == nil {
		t.Fatal("expected export of missing run to fail")
	}
	if _, err := ExportRunArtifacts(t.TempDir(), "", t.TempDir()); err == nil {
		t.Fatal("expected empty run id to fail")
	}
}

func TestWriteRunArtifactsRejectsMismatchedSummary(t *testing.T) {
	artifacts := testArtifacts("run-a")
	artifacts.Summary.ID = "run-b"
	if _, err := WriteRunArtifacts(t.TempDir(), artifacts); err == nil {
		t.Fatal("expected summary id mismatch error")
	}
}

func TestReadBackRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	input := testArtifacts("run-7")
	if _, err := WriteRunArtifacts(baseDir, input); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	cfg, ok, err := ReadRunConfig(baseDir, "run-7")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(cfg, input.Config) {
		t.Fatalf("config mismatch:\nwant %+v\ngot  %+v", input.Config, cfg)
	}

	summary, ok, err := ReadRunSummary(baseDir, "run-7")
	if err != nil || !ok {
		t.Fatalf("read summary: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(summary, input.Summary) {
		t.Fatalf("summary mismatch:\nwant %+v\ngot  %+v", input.Summary, summary)
	}

	series, ok, err := ReadMetricsSeries(baseDir, "run-7")
	if err != nil || !ok {
		t.Fatalf("read series: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(series, input.Series) {
		t.Fatalf("series mismatch:\nwant %+v\ngot  %+v", input.Series, series)
	}

	if _, ok, err := ReadRunSummary(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing summary, got ok=%t err=%v", ok, err)
	}
}

func TestReadMetricsSeriesRejectsBadRow(t *testing.T) {
	baseDir := t.TempDir()
	runDir := filepath.Join(baseDir, "run-x")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := WriteMetricsSeries(runDir, []model.MetricsSample{{Tick: 1}}); err != nil {
		t.Fatalf("write series: %v", err)
	}
	path := filepath.Join(runDir, "metrics_series.csv")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data = append(data, []byte("x,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0\n")...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := ReadMetricsSeries(baseDir, "run-x"); err == nil {
		t.Fatal("expected parse error for non-numeric tick")
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-1", Seed: 1, Deliveries: 3, CreatedAtUTC: "2026-02-10T10:00:00Z"}); err != nil {
		t.Fatalf("append run-1: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-2", Seed: 2, Deliveries: 5, CreatedAtUTC: "2026-02-10T11:00:00Z"}); err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-1", Seed: 1, Deliveries: 9, CreatedAtUTC: "2026-02-10T10:00:00Z"}); err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}
	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 || entries[1].Deliveries != 9 {
		t.Fatalf("unexpected entries after upsert: %+v", entries)
	}

	if err := AppendRunIndex(baseDir, RunIndexEntry{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestListRunIndexEmptyDir(t *testing.T) {
	entries, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty index, got %+v", entries)
	}
}

func TestRemoveRunDropsDirectoryAndIndexRow(t *testing.T) {
	baseDir := t.TempDir()
	for _, id := range []string{"run-1", "run-2"} {
		artifacts := testArtifacts(id)
		if _, err := WriteRunArtifacts(baseDir, artifacts); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
		if err := AppendRunIndex(baseDir, IndexEntry(artifacts.Summary)); err != nil {
			t.Fatalf("index %s: %v", id, err)
		}
	}

	if err := RemoveRun(baseDir, "run-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(baseDir, "run-1")); !os.IsNotExist(err) {
		t.Fatalf("expected run directory removed, stat err=%v", err)
	}
	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "run-2" {
		t.Fatalf("unexpected index after remove: %+v", entries)
	}
}

func TestIndexEntryTimestampsSortLexically(t *testing.T) {
	base := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	early := IndexEntry(model.RunRecord{ID: "a", StartedAt: base})
	late := IndexEntry(model.RunRecord{ID: "b", StartedAt: base.Add(500 * time.Millisecond)})
	if !(late.CreatedAtUTC > early.CreatedAtUTC) {
		t.Fatalf("expected %q > %q", late.CreatedAtUTC, early.CreatedAtUTC)
	}
}
