package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	runIndexFile        = "run_index.json"
	configFile          = "config.json"
	accuracyHistoryFile = "accuracy_history.json"
	accuracySeriesFile  = "accuracy_series.csv"
	summaryFile         = "summary.json"
)

type RunConfig struct {
	RunID        string  `json:"run_id"`
	Sample       string  `json:"sample"`
	ResourceDir  string  `json:"resource_dir,omitempty"`
	Hidden       int     `json:"hidden"`
	Activation   string  `json:"activation"`
	SplitRatio   float64 `json:"split_ratio"`
	BatchSize    int     `json:"batch_size"`
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum,omitempty"`
	Threshold    float64 `json:"threshold"`
	InitSeed     int64   `json:"init_seed"`
	SplitSeed    int64   `json:"split_seed"`
	ShuffleSeed  int64   `json:"shuffle_seed"`
	KeepBest     bool    `json:"keep_best,omitempty"`
}

type EpochPoint struct {
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
}

type RunArtifacts struct {
	Config           RunConfig    `json:"config"`
	History          []EpochPoint `json:"history"`
	FinalAccuracy    float64      `json:"final_accuracy"`
	ThresholdReached bool         `json:"threshold_reached"`
	ArtifactPath     string       `json:"artifact_path,omitempty"`
}

type RunIndexEntry struct {
	RunID         string  `json:"run_id"`
	Sample        string  `json:"sample"`
	Hidden        int     `json:"hidden"`
	Epochs        int     `json:"epochs"`
	EpochsRun     int     `json:"epochs_run"`
	FinalAccuracy float64 `json:"final_accuracy"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

// WriteRunArtifacts lays out <baseDir>/<run_id>/ with the run config, the
// per-epoch history as JSON and CSV, and a curve summary.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, accuracyHistoryFile), map[string]any{
		"history":           artifacts.History,
		"final_accuracy":    artifacts.FinalAccuracy,
		"threshold_reached": artifacts.ThresholdReached,
		"artifact_path":     artifacts.ArtifactPath,
	}); err != nil {
		return "", err
	}
	if err := WriteAccuracySeries(runDir, artifacts.History); err != nil {
		return "", err
	}
	summary, err := SummarizeHistory(artifacts.Config.RunID, artifacts.Config.Threshold, artifacts.History)
	if err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), summary); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's files into outDir/<run_id>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, accuracyHistoryFile, accuracySeriesFile, summaryFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	if err != nil || !ok {
		return RunConfig{}, ok, err
	}
	return cfg, true, nil
}

func ReadHistorySummary(baseDir, runID string) (HistorySummary, bool, error) {
	var summary HistorySummary
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &summary)
	if err != nil || !ok {
		return HistorySummary{}, ok, err
	}
	return summary, true, nil
}

func WriteAccuracySeries(runDir string, history []EpochPoint) error {
	path := filepath.Join(runDir, accuracySeriesFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"epoch", "loss", "accuracy", "correct", "total"}); err != nil {
		return err
	}
	for _, point := range history {
		if err := writer.Write([]string{
			strconv.Itoa(point.Epoch),
			strconv.FormatFloat(point.Loss, 'f', -1, 64),
			strconv.FormatFloat(point.Accuracy, 'f', -1, 64),
			strconv.Itoa(point.Correct),
			strconv.Itoa(point.Total),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadAccuracySeries(baseDir, runID string) ([]EpochPoint, bool, error) {
	path := filepath.Join(baseDir, runID, accuracySeriesFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []EpochPoint{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 3 || strings.TrimSpace(header[0]) != "epoch" {
		return nil, false, fmt.Errorf("accuracy series header must start with epoch,loss,accuracy")
	}

	series := make([]EpochPoint, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("accuracy series row must have 3 columns")
		}
		epoch, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		loss, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		accuracy, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, err
		}
		point := EpochPoint{Epoch: epoch, Loss: loss, Accuracy: accuracy}
		if len(record) >= 5 {
			if point.Correct, err = strconv.Atoi(record[3]); err != nil {
				return nil, false, err
			}
			if point.Total, err = strconv.Atoi(record[4]); err != nil {
				return nil, false, err
			}
		}
		series = append(series, point)
	}
	return series, true, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
