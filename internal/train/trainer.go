package train

import (
	"errors"
	"fmt"
	"math/rand"

	"planpolicy/internal/applicability"
	"planpolicy/internal/dataset"
	"planpolicy/internal/logging"
	"planpolicy/internal/nn"
	"planpolicy/internal/policy"
)

const (
	DefaultHidden       = 64
	DefaultBatchSize    = 64
	DefaultEpochs       = 200
	DefaultLearningRate = 0.01
	DefaultThreshold    = 0.95
	DefaultActivation   = "relu"
	DefaultInitSeed     = 42
	DefaultShuffleSeed  = 42
)

type Config struct {
	Hidden       int
	Activation   string
	BatchSize    int
	Epochs       int
	LearningRate float64
	Momentum     float64
	Threshold    float64
	InitSeed     int64
	ShuffleSeed  int64
	// KeepBest restores the parameters of the most accurate epoch on exit.
	// Off by default: the last epoch's parameters win.
	KeepBest bool
}

func DefaultConfig() Config {
	return Config{
		Hidden:       DefaultHidden,
		Activation:   DefaultActivation,
		BatchSize:    DefaultBatchSize,
		Epochs:       DefaultEpochs,
		LearningRate: DefaultLearningRate,
		Threshold:    DefaultThreshold,
		InitSeed:     DefaultInitSeed,
		ShuffleSeed:  DefaultShuffleSeed,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Hidden <= 0:
		return fmt.Errorf("hidden width must be > 0, got %d", c.Hidden)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be > 0, got %d", c.BatchSize)
	case c.Epochs <= 0:
		return fmt.Errorf("epochs must be > 0, got %d", c.Epochs)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be > 0, got %f", c.LearningRate)
	case c.Momentum < 0 || c.Momentum >= 1:
		return fmt.Errorf("momentum must be in [0, 1), got %f", c.Momentum)
	case c.Threshold < 0 || c.Threshold > 1:
		return fmt.Errorf("threshold must be in [0, 1], got %f", c.Threshold)
	}
	if _, err := nn.GetActivation(c.Activation); err != nil {
		return err
	}
	return nil
}

type EpochStats struct {
	Epoch    int
	Loss     float64
	Correct  int
	Total    int
	Accuracy float64
}

// Observer is called after every epoch's evaluation.
type Observer func(EpochStats)

type Result struct {
	Net              *nn.ScoringNetwork
	Epochs           []EpochStats
	ThresholdReached bool
	BestEpoch        int
}

func (r Result) FinalAccuracy() float64 {
	if len(r.Epochs) == 0 {
		return 0
	}
	return r.Epochs[len(r.Epochs)-1].Accuracy
}

type Trainer struct {
	cfg      Config
	logger   *logging.Logger
	observer Observer
}

func New(cfg Config, logger *logging.Logger, observer Observer) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Trainer{cfg: cfg, logger: logger, observer: observer}, nil
}

// Fit trains a fresh network on train and evaluates it on val after every
// epoch, stopping as soon as validation accuracy reaches the threshold.
// Exhausting the epoch budget is not an error.
func (t *Trainer) Fit(train, val dataset.Dataset, index *applicability.Index) (Result, error) {
	if train.Len() == 0 {
		return Result{}, errors.New("training set is empty")
	}
	if val.Len() == 0 {
		return Result{}, errors.New("validation set is empty")
	}

	net, err := nn.NewScoringNetwork(len(train.X[0]), t.cfg.Hidden, index.NumOps(), t.cfg.Activation, t.cfg.InitSeed)
	if err != nil {
		return Result{}, err
	}
	masked, err := policy.NewMasked(net, index)
	if err != nil {
		return Result{}, err
	}
	t.logger.Debug("network initialized",
		"inputs", net.Inputs(),
		"hidden", t.cfg.Hidden,
		"outputs", net.Outputs(),
		"activation", t.cfg.Activation,
		"init_seed", t.cfg.InitSeed,
		"train", train.Len(),
		"validation", val.Len(),
	)

	var (
		rng       = rand.New(rand.NewSource(t.cfg.ShuffleSeed))
		optimizer = nn.NewSGD(t.cfg.LearningRate, t.cfg.Momentum)
		grads     = net.NewGradients()
		trainYs   = dataset.Targets(train.Y)
		valYs     = dataset.Targets(val.Y)
		result    = Result{Net: net}
		best      *nn.ScoringNetwork
		bestAcc   = -1.0
		epochLoss float64
	)

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		perm := rng.Perm(train.Len())
		epochLoss = 0
		for start := 0; start < len(perm); start += t.cfg.BatchSize {
			end := min(start+t.cfg.BatchSize, len(perm))
			loss, err := t.step(masked, optimizer, grads, train, trainYs, perm[start:end])
			if err != nil {
				return Result{}, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			epochLoss += loss * float64(end-start)
		}

		correct, err := Evaluate(masked, val, valYs)
		if err != nil {
			return Result{}, fmt.Errorf("epoch %d evaluation: %w", epoch, err)
		}
		stats := EpochStats{
			Epoch:    epoch,
			Loss:     epochLoss / float64(train.Len()),
			Correct:  correct,
			Total:    val.Len(),
			Accuracy: float64(correct) / float64(val.Len()),
		}
		result.Epochs = append(result.Epochs, stats)
		t.logger.Info("epoch complete", "epoch", epoch, "epochs", t.cfg.Epochs, "loss", stats.Loss, "accuracy", stats.Accuracy)
		if t.observer != nil {
			t.observer(stats)
		}

		if stats.Accuracy > bestAcc {
			bestAcc = stats.Accuracy
			result.BestEpoch = epoch
			if t.cfg.KeepBest {
				best = net.Clone()
			}
		}
		if stats.Accuracy >= t.cfg.Threshold {
			result.ThresholdReached = true
			t.logger.Info("training stopped, accuracy threshold reached", "epoch", epoch, "accuracy", stats.Accuracy, "threshold", t.cfg.Threshold)
			break
		}
	}

	if !result.ThresholdReached {
		t.logger.Warn("epoch budget exhausted below accuracy threshold", "epochs", t.cfg.Epochs, "accuracy", result.FinalAccuracy(), "threshold", t.cfg.Threshold)
	}
	if t.cfg.KeepBest && best != nil {
		result.Net = best
	}
	return result, nil
}

// step runs one minibatch: zero gradients, masked forward, mean cross-entropy,
// backward, one optimizer update. It returns the batch's mean loss.
func (t *Trainer) step(masked *policy.Masked, opt nn.Optimizer, grads *nn.Gradients, train dataset.Dataset, targets []int, batch []int) (float64, error) {
	grads.Zero()
	scale := 1 / float64(len(batch))
	total := 0.0
	for _, idx := range batch {
		tr, err := masked.Trace(train.X[idx])
		if err != nil {
			return 0, err
		}
		loss, dLogits, err := policy.CrossEntropy(tr.Logits, targets[idx])
		if err != nil {
			return 0, fmt.Errorf("sample %d: %w", idx, err)
		}
		total += loss
		for i := range dLogits {
			dLogits[i] *= scale
		}
		if err := masked.Net.Backward(tr, dLogits, grads); err != nil {
			return 0, err
		}
	}
	opt.Step(masked.Net, grads)
	return total * scale, nil
}

// Evaluate counts validation samples whose most probable applicable action
// matches the target. Parameters are not touched.
func Evaluate(masked *policy.Masked, val dataset.Dataset, targets []int) (int, error) {
	logits, err := masked.Forward(val.X)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, row := range logits {
		if nn.Argmax(nn.Softmax(row)) == targets[i] {
			correct++
		}
	}
	return correct, nil
}
