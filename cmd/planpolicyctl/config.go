package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"planpolicy/internal/logging"
	"planpolicy/internal/storage"
	planapi "planpolicy/pkg/planpolicy"
)

const (
	defaultResourceDir = "resources"
	defaultRunsDir     = "runs"
	defaultDBPath      = "planpolicy.db"
	defaultLogMode     = logging.ModeDevelopment
)

// trainSettings is everything the train command needs: the request itself
// plus where the client keeps its files.
type trainSettings struct {
	Request     planapi.TrainRequest
	StoreKind   string
	DBPath      string
	RunsDir     string
	ResourceDir string
	LogMode     string
}

func defaultTrainSettings() trainSettings {
	return trainSettings{
		Request:     planapi.DefaultTrainRequest(),
		StoreKind:   storage.DefaultStoreKind(),
		DBPath:      defaultDBPath,
		RunsDir:     defaultRunsDir,
		ResourceDir: defaultResourceDir,
		LogMode:     defaultLogMode,
	}
}

// loadTrainSettingsFromConfig reads a YAML or JSON file on top of the
// defaults. Unknown keys are ignored.
func loadTrainSettingsFromConfig(path string) (trainSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return trainSettings{}, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return trainSettings{}, err
	}

	s := defaultTrainSettings()
	req := &s.Request
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["sample"]); ok {
		req.Sample = v
	}
	if v, ok := asString(raw["sample_path"]); ok {
		req.SamplePath = v
	}
	if v, ok := asInt(raw["hidden"]); ok {
		req.Hidden = v
	}
	if v, ok := asString(raw["activation"]); ok {
		req.Activation = v
	}
	if v, ok := asFloat64(raw["split_ratio"]); ok {
		req.SplitRatio = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asInt(raw["epochs"]); ok {
		req.Epochs = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asFloat64(raw["momentum"]); ok {
		req.Momentum = v
	}
	if v, ok := asFloat64(raw["threshold"]); ok {
		req.Threshold = v
	}
	if v, ok := asInt64(raw["init_seed"]); ok {
		req.InitSeed = v
	}
	if v, ok := asInt64(raw["split_seed"]); ok {
		req.SplitSeed = v
	}
	if v, ok := asInt64(raw["shuffle_seed"]); ok {
		req.ShuffleSeed = v
	}
	if v, ok := asBool(raw["keep_best"]); ok {
		req.KeepBest = v
	}
	if v, ok := asString(raw["store"]); ok {
		s.StoreKind = v
	}
	if v, ok := asString(raw["db_path"]); ok {
		s.DBPath = v
	}
	if v, ok := asString(raw["runs_dir"]); ok {
		s.RunsDir = v
	}
	if v, ok := asString(raw["resource_dir"]); ok {
		s.ResourceDir = v
	}
	if v, ok := asString(raw["log_mode"]); ok {
		s.LogMode = v
	}
	return s, nil
}

func loadOrDefaultTrainSettings(configPath string) (trainSettings, error) {
	if configPath == "" {
		return defaultTrainSettings(), nil
	}
	s, err := loadTrainSettingsFromConfig(configPath)
	if err != nil {
		return trainSettings{}, fmt.Errorf("load config: %w", err)
	}
	return s, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// overrideFromFlags applies only the flags the user actually set.
func overrideFromFlags(s *trainSettings, set map[string]bool, flagValue map[string]any) error {
	req := &s.Request
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "sample":
			req.Sample = v.(string)
		case "sample-path":
			req.SamplePath = v.(string)
		case "hidden":
			req.Hidden = v.(int)
		case "activation":
			req.Activation = v.(string)
		case "split-ratio":
			req.SplitRatio = v.(float64)
		case "batch-size":
			req.BatchSize = v.(int)
		case "epochs":
			req.Epochs = v.(int)
		case "lr":
			req.LearningRate = v.(float64)
		case "momentum":
			req.Momentum = v.(float64)
		case "threshold":
			req.Threshold = v.(float64)
		case "init-seed":
			req.InitSeed = v.(int64)
		case "split-seed":
			req.SplitSeed = v.(int64)
		case "shuffle-seed":
			req.ShuffleSeed = v.(int64)
		case "keep-best":
			req.KeepBest = v.(bool)
		case "store":
			s.StoreKind = v.(string)
		case "db-path":
			s.DBPath = v.(string)
		case "runs-dir":
			s.RunsDir = v.(string)
		case "resource-dir":
			s.ResourceDir = v.(string)
		case "log-mode":
			s.LogMode = v.(string)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	if req.Sample == "" && req.SamplePath == "" {
		return fmt.Errorf("train requires --sample or --sample-path")
	}
	return nil
}
