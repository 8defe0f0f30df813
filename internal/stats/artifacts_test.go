package stats

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleHistory() []EpochPoint {
	return []EpochPoint{
		{Epoch: 1, Loss: 0.9, Accuracy: 0.25, Correct: 1, Total: 4},
		{Epoch: 2, Loss: 0.6, Accuracy: 0.75, Correct: 3, Total: 4},
		{Epoch: 3, Loss: 0.4, Accuracy: 1, Correct: 4, Total: 4},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:        runID,
			Sample:       "task5",
			Hidden:       64,
			Activation:   "relu",
			SplitRatio:   0.6,
			BatchSize:    64,
			Epochs:       200,
			LearningRate: 0.01,
			Threshold:    0.95,
			InitSeed:     42,
			SplitSeed:    54,
			ShuffleSeed:  42,
		},
		History:          sampleHistory(),
		FinalAccuracy:    1,
		ThresholdReached: true,
		ArtifactPath:     "policies/task5.policy.json",
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	files := []string{configFile, accuracyHistoryFile, accuracySeriesFile, summaryFile}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg != artifacts.Config {
		t.Fatalf("unexpected config: got=%+v want=%+v", cfg, artifacts.Config)
	}

	series, ok, err := ReadAccuracySeries(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read series: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(series, artifacts.History) {
		t.Fatalf("unexpected series: got=%+v want=%+v", series, artifacts.History)
	}

	summary, ok, err := ReadHistorySummary(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read summary: ok=%t err=%v", ok, err)
	}
	if summary.ThresholdEpoch != 3 || summary.BestEpoch != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
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

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected run id error")
	}
}

func TestReadMissingArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	if _, ok, err := ReadRunConfig(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing config, ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadAccuracySeries(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing series, ok=%t err=%v", ok, err)
	}
	if _, err := ExportRunArtifacts(baseDir, "missing", t.TempDir()); err == nil {
		t.Fatal("expected export error for missing run")
	}
}

func TestRunIndexOrdering(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2026-01-03T00:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2026-01-02T00:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z", FinalAccuracy: 0.9}); err != nil {
		t.Fatalf("replace a: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	got := make([]string, 0, len(index))
	for _, entry := range index {
		got = append(got, entry.RunID)
	}
	if want := []string{"b", "c", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected index order: got=%v want=%v", got, want)
	}
	if index[2].FinalAccuracy != 0.9 {
		t.Fatalf("replacement not applied: %+v", index[2])
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{}); err == nil {
		t.Fatal("expected run id error")
	}
}

func TestSummarizeHistory(t *testing.T) {
	summary, err := SummarizeHistory("r", 0.7, sampleHistory())
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Epochs != 3 || summary.ThresholdEpoch != 2 || summary.BestEpoch != 3 {
		t.Fatalf("unexpected epochs: %+v", summary)
	}
	if math.Abs(summary.MeanAccuracy-2.0/3.0) > 1e-12 {
		t.Fatalf("unexpected mean: got=%f want=%f", summary.MeanAccuracy, 2.0/3.0)
	}
	if math.Abs(summary.Improvement-0.75) > 1e-12 || summary.InitialLoss != 0.9 || summary.FinalLoss != 0.4 {
		t.Fatalf("unexpected curve endpoints: %+v", summary)
	}
	if summary.StdAccuracy <= 0 {
		t.Fatalf("expected positive spread: %f", summary.StdAccuracy)
	}

	empty, err := SummarizeHistory("r", 0.7, nil)
	if err != nil {
		t.Fatalf("summarize empty: %v", err)
	}
	if empty.Epochs != 0 || empty.ThresholdEpoch != 0 {
		t.Fatalf("unexpected empty summary: %+v", empty)
	}

	never, err := SummarizeHistory("r", 1.1, sampleHistory())
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if never.ThresholdEpoch != 0 {
		t.Fatalf("unexpected threshold epoch: %d", never.ThresholdEpoch)
	}
}

func TestReadAccuracySeriesAcceptsThreeColumns(t *testing.T) {
	baseDir := t.TempDir()
	runDir := filepath.Join(baseDir, "run-old")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data := "epoch,loss,accuracy\n1,0.5,0.5\n"
	if err := os.WriteFile(filepath.Join(runDir, accuracySeriesFile), []byte(data), 0o644); err != nil {
		t.Fatalf("write series: %v", err)
	}
	series, ok, err := ReadAccuracySeries(baseDir, "run-old")
	if err != nil || !ok {
		t.Fatalf("read series: ok=%t err=%v", ok, err)
	}
	want := []EpochPoint{{Epoch: 1, Loss: 0.5, Accuracy: 0.5}}
	if !reflect.DeepEqual(series, want) {
		t.Fatalf("unexpected series: got=%+v want=%+v", series, want)
	}
}
