package train

import (
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"planpolicy/internal/applicability"
	"planpolicy/internal/dataset"
	"planpolicy/internal/logging"
	"planpolicy/internal/model"
)

// bitDataset enumerates every 4-bit state with both actions applicable; the
// expert picks action 0 when the first fact holds and action 1 otherwise.
func bitDataset(t *testing.T) (dataset.Dataset, *applicability.Index) {
	t.Helper()
	idx := applicability.NewIndex(2)
	var ds dataset.Dataset
	for v := 0; v < 16; v++ {
		state := model.State{uint8(v >> 3 & 1), uint8(v >> 2 & 1), uint8(v >> 1 & 1), uint8(v & 1)}
		if err := idx.Observe(state, model.Mask{true, true}); err != nil {
			t.Fatalf("observe: %v", err)
		}
		indicator := model.Indicator{0, 1}
		if state[0] == 1 {
			indicator = model.Indicator{1, 0}
		}
		ds.X = append(ds.X, state)
		ds.Y = append(ds.Y, indicator)
	}
	return ds, idx
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "hidden", mutate: func(c *Config) { c.Hidden = 0 }},
		{name: "batch", mutate: func(c *Config) { c.BatchSize = 0 }},
		{name: "epochs", mutate: func(c *Config) { c.Epochs = -1 }},
		{name: "learning-rate", mutate: func(c *Config) { c.LearningRate = 0 }},
		{name: "momentum", mutate: func(c *Config) { c.Momentum = 1 }},
		{name: "threshold", mutate: func(c *Config) { c.Threshold = 1.5 }},
		{name: "activation", mutate: func(c *Config) { c.Activation = "softsign" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestFitSingleEpochExitsWithoutError(t *testing.T) {
	ds, idx := bitDataset(t)
	train := dataset.Subset(ds, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14})
	val := dataset.Subset(ds, []int{15})

	cfg := DefaultConfig()
	cfg.Epochs = 1
	calls := 0
	trainer, err := New(cfg, nil, func(EpochStats) { calls++ })
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Fit(train, val, idx)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(result.Epochs) != 1 || calls != 1 {
		t.Fatalf("expected exactly one epoch, got epochs=%d observer_calls=%d", len(result.Epochs), calls)
	}
	if result.Net == nil || result.Net.Inputs() != 4 || result.Net.Outputs() != 2 {
		t.Fatalf("unexpected network: %+v", result.Net)
	}
	if result.Epochs[0].Total != 1 {
		t.Fatalf("unexpected validation size: %d", result.Epochs[0].Total)
	}
}

func TestFitStopsAtThreshold(t *testing.T) {
	ds, idx := bitDataset(t)

	cfg := DefaultConfig()
	cfg.LearningRate = 0.5
	cfg.BatchSize = 4
	cfg.Epochs = 500
	trainer, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Fit(ds, ds, idx)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !result.ThresholdReached {
		t.Fatalf("expected threshold reached, final accuracy %f after %d epochs", result.FinalAccuracy(), len(result.Epochs))
	}
	if len(result.Epochs) >= cfg.Epochs {
		t.Fatalf("expected early stop, ran %d epochs", len(result.Epochs))
	}
	last := result.Epochs[len(result.Epochs)-1]
	if last.Accuracy < cfg.Threshold {
		t.Fatalf("stopped below threshold: %f", last.Accuracy)
	}
	for _, stats := range result.Epochs[:len(result.Epochs)-1] {
		if stats.Accuracy >= cfg.Threshold {
			t.Fatalf("epoch %d already reached threshold but training continued", stats.Epoch)
		}
	}
	if len(result.Epochs) > 1 && last.Loss >= result.Epochs[0].Loss {
		t.Fatalf("loss did not decrease: first=%f last=%f", result.Epochs[0].Loss, last.Loss)
	}
}

func TestFitMaskedSingleChoiceStopsAfterFirstEpoch(t *testing.T) {
	idx := applicability.NewIndex(3)
	var ds dataset.Dataset
	for v := 0; v < 6; v++ {
		state := model.State{uint8(v >> 2 & 1), uint8(v >> 1 & 1), uint8(v & 1)}
		mask := model.Mask{false, false, false}
		indicator := model.Indicator{0, 0, 0}
		mask[v%3] = true
		indicator[v%3] = 1
		if err := idx.Observe(state, mask); err != nil {
			t.Fatalf("observe: %v", err)
		}
		ds.X = append(ds.X, state)
		ds.Y = append(ds.Y, indicator)
	}

	trainer, err := New(DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Fit(ds, ds, idx)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(result.Epochs) != 1 || !result.ThresholdReached || result.FinalAccuracy() != 1 {
		t.Fatalf("only one applicable action per state must give full accuracy at once: %+v", result.Epochs)
	}
}

func TestFitDeterministic(t *testing.T) {
	ds, idx := bitDataset(t)
	train, val, err := dataset.Split(ds, dataset.DefaultSplitRatio, 54)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Epochs = 5
	cfg.BatchSize = 3
	cfg.Threshold = 1
	run := func() Result {
		trainer, err := New(cfg, nil, nil)
		if err != nil {
			t.Fatalf("new trainer: %v", err)
		}
		result, err := trainer.Fit(train, val, idx)
		if err != nil {
			t.Fatalf("fit: %v", err)
		}
		return result
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a.Net, b.Net) {
		t.Fatal("identical seeds produced different parameters")
	}
	if !reflect.DeepEqual(a.Epochs, b.Epochs) {
		t.Fatalf("identical seeds produced different histories: %+v vs %+v", a.Epochs, b.Epochs)
	}
}

func TestFitKeepBestRestoresBestEpoch(t *testing.T) {
	ds, idx := bitDataset(t)
	cfg := DefaultConfig()
	cfg.Epochs = 3
	cfg.Threshold = 1
	cfg.KeepBest = true

	trainer, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Fit(ds, ds, idx)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if result.BestEpoch < 1 || result.BestEpoch > len(result.Epochs) {
		t.Fatalf("unexpected best epoch %d", result.BestEpoch)
	}
	if result.ThresholdReached {
		return
	}

	cfg.KeepBest = false
	cfg.Epochs = result.BestEpoch
	plain, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	replay, err := plain.Fit(ds, ds, idx)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !reflect.DeepEqual(result.Net, replay.Net) {
		t.Fatal("keep-best parameters differ from a run stopped at the best epoch")
	}
}

func TestFitRejectsInapplicableTarget(t *testing.T) {
	idx := applicability.NewIndex(2)
	state := model.State{1, 0}
	if err := idx.Observe(state, model.Mask{true, false}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	ds := dataset.Dataset{X: []model.State{state}, Y: []model.Indicator{{0, 1}}}

	trainer, err := New(DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if _, err := trainer.Fit(ds, ds, idx); !errors.Is(err, applicability.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestFitRejectsEmptySets(t *testing.T) {
	ds, idx := bitDataset(t)
	trainer, err := New(DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if _, err := trainer.Fit(ds, dataset.Dataset{}, idx); err == nil {
		t.Fatal("expected empty validation error")
	}
	if _, err := trainer.Fit(dataset.Dataset{}, ds, idx); err == nil {
		t.Fatal("expected empty training error")
	}
}

func TestFitUnknownValidationState(t *testing.T) {
	ds, idx := bitDataset(t)
	val := dataset.Dataset{X: []model.State{{1, 1, 1, 1, 1}}, Y: []model.Indicator{{1, 0}}}
	cfg := DefaultConfig()
	cfg.Epochs = 1
	trainer, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if _, err := trainer.Fit(ds, val, idx); !errors.Is(err, applicability.ErrLookup) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestFitLogsNetworkShapeAndEpochs(t *testing.T) {
	ds, idx := bitDataset(t)
	core, logs := observer.New(zap.DebugLevel)
	logger := &logging.Logger{SugaredLogger: zap.New(core).Sugar()}

	cfg := DefaultConfig()
	cfg.Epochs = 2
	cfg.Threshold = 1.0
	trainer, err := New(cfg, logger, nil)
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Fit(ds, ds, idx)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	debug := logs.FilterMessage("network initialized").All()
	if len(debug) != 1 || debug[0].Level != zap.DebugLevel {
		t.Fatalf("unexpected init log entries: %+v", debug)
	}
	fields := debug[0].ContextMap()
	if fields["inputs"] != int64(4) || fields["outputs"] != int64(2) || fields["activation"] != "relu" {
		t.Fatalf("unexpected init log fields: %+v", fields)
	}
	if got := logs.FilterMessage("epoch complete").Len(); got != len(result.Epochs) {
		t.Fatalf("unexpected epoch log count: got=%d want=%d", got, len(result.Epochs))
	}
}
