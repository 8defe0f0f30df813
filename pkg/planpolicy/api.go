package planpolicy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"planpolicy/internal/dataset"
	"planpolicy/internal/export"
	"planpolicy/internal/logging"
	"planpolicy/internal/model"
	"planpolicy/internal/nn"
	"planpolicy/internal/samples"
	"planpolicy/internal/stats"
	"planpolicy/internal/storage"
	"planpolicy/internal/train"
)

const (
	defaultResourceDir = "resources"
	defaultRunsDir     = "runs"
	defaultDBPath      = "planpolicy.db"
	defaultListLimit   = 20
)

type Options struct {
	StoreKind   string
	DBPath      string
	RunsDir     string
	ResourceDir string
	Logger      *logging.Logger
}

// Client runs the decode, split, train and export pipeline and keeps a
// record of every completed run. It is safe to share between goroutines.
type Client struct {
	mu         sync.Mutex
	store      storage.Store
	storeReady bool

	runsDir     string
	resourceDir string
	logger      *logging.Logger
}

// TrainRequest carries one run's hyperparameters. Start from
// DefaultTrainRequest: fields whose zero value cannot train (Hidden,
// Activation, SplitRatio, BatchSize, Epochs, LearningRate) fall back to the
// defaults, but Momentum, Threshold, KeepBest and the seeds are used as given
// because zero is a meaningful value for each of them.
type TrainRequest struct {
	RunID string
	// Sample is the logical sample name; SamplePath overrides the resolved
	// location when set.
	Sample       string
	SamplePath   string
	Hidden       int
	Activation   string
	SplitRatio   float64
	BatchSize    int
	Epochs       int
	LearningRate float64
	Momentum     float64
	Threshold    float64
	InitSeed     int64
	SplitSeed    int64
	ShuffleSeed  int64
	KeepBest     bool
}

type EpochItem struct {
	Epoch    int
	Loss     float64
	Accuracy float64
	Correct  int
	Total    int
}

type TrainSummary struct {
	RunID            string
	Sample           string
	ArtifactPath     string
	ArtifactsDir     string
	Dataset          dataset.Summary
	Epochs           []EpochItem
	FinalAccuracy    float64
	ThresholdReached bool
	BestEpoch        int
}

type InspectRequest struct {
	Sample     string
	SamplePath string
	SplitRatio float64
	SplitSeed  int64
}

type InspectSummary struct {
	Sample     string
	Path       string
	NumFacts   int
	NumOps     int
	IndexSize  int
	Dataset    dataset.Summary
	MultiHot   int
	Applicable float64
}

type ScoreRequest struct {
	Sample       string
	ArtifactPath string
	State        []float64
}

type ScoreResult struct {
	ArtifactPath  string
	Probabilities []float64
	Best          int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Sample           string
	Hidden           int
	Epochs           int
	EpochsRun        int
	FinalAccuracy    float64
	ThresholdReached bool
	ArtifactPath     string
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

// DefaultTrainRequest returns the stock hyperparameters and seeds.
func DefaultTrainRequest() TrainRequest {
	return TrainRequest{
		Hidden:       train.DefaultHidden,
		Activation:   train.DefaultActivation,
		SplitRatio:   dataset.DefaultSplitRatio,
		BatchSize:    train.DefaultBatchSize,
		Epochs:       train.DefaultEpochs,
		LearningRate: train.DefaultLearningRate,
		Threshold:    train.DefaultThreshold,
		InitSeed:     train.DefaultInitSeed,
		SplitSeed:    dataset.DefaultSplitSeed,
		ShuffleSeed:  train.DefaultShuffleSeed,
	}
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	resourceDir := opts.ResourceDir
	if resourceDir == "" {
		resourceDir = defaultResourceDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:       store,
		runsDir:     runsDir,
		resourceDir: resourceDir,
		logger:      logger,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureStore(ctx)
	return err
}

// Train decodes the sample file, splits it, trains a masked policy and
// exports the unmasked scoring network. Decode, integrity, lookup and
// training failures write nothing. Outputs are then written in order: the
// policy file, the run directory, the run index, the store record. If a later
// write fails the error is returned and the policy file is already on disk.
// Missing the accuracy threshold is reported in the summary, not as an error.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	req = withTrainDefaults(req)
	cfg := train.Config{
		Hidden:       req.Hidden,
		Activation:   req.Activation,
		BatchSize:    req.BatchSize,
		Epochs:       req.Epochs,
		LearningRate: req.LearningRate,
		Momentum:     req.Momentum,
		Threshold:    req.Threshold,
		InitSeed:     req.InitSeed,
		ShuffleSeed:  req.ShuffleSeed,
		KeepBest:     req.KeepBest,
	}
	if err := cfg.Validate(); err != nil {
		return TrainSummary{}, err
	}

	sample, path, err := c.resolveSample(req.Sample, req.SamplePath)
	if err != nil {
		return TrainSummary{}, err
	}
	store, err := c.ensureStore(ctx)
	if err != nil {
		return TrainSummary{}, err
	}

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := c.logger.With("run_id", runID, "sample", sample)

	decoded, err := samples.ReadFile(path)
	if err != nil {
		return TrainSummary{}, err
	}
	trainSet, valSet, err := dataset.Split(dataset.Flatten(decoded.Plans), req.SplitRatio, req.SplitSeed)
	if err != nil {
		return TrainSummary{}, err
	}
	summary := dataset.Summarize(len(decoded.Plans), trainSet, valSet)
	logger.Info("dataset ready",
		"facts", decoded.NumFacts,
		"ops", decoded.NumOps,
		"plans", summary.Plans,
		"samples", summary.Samples,
		"train", summary.Train,
		"validation", summary.Validation,
		"index_size", decoded.Index.Len(),
	)

	var history []model.EpochRecord
	trainer, err := train.New(cfg, logger, func(s train.EpochStats) {
		history = append(history, model.EpochRecord{
			VersionedRecord: storage.Versioned(),
			Epoch:           s.Epoch,
			Loss:            s.Loss,
			Accuracy:        s.Accuracy,
			Correct:         s.Correct,
			Total:           s.Total,
		})
	})
	if err != nil {
		return TrainSummary{}, err
	}
	if err := ctx.Err(); err != nil {
		return TrainSummary{}, err
	}
	result, err := trainer.Fit(trainSet, valSet, decoded.Index)
	if err != nil {
		return TrainSummary{}, err
	}

	artifactPath := export.ResolvePath(c.resourceDir, sample)
	if err := export.Write(artifactPath, export.FromNetwork(sample, result.Net)); err != nil {
		return TrainSummary{}, err
	}
	logger.Info("policy exported", "path", artifactPath, "threshold_reached", result.ThresholdReached, "accuracy", result.FinalAccuracy())

	points := make([]stats.EpochPoint, 0, len(result.Epochs))
	items := make([]EpochItem, 0, len(result.Epochs))
	for _, s := range result.Epochs {
		points = append(points, stats.EpochPoint{Epoch: s.Epoch, Loss: s.Loss, Accuracy: s.Accuracy, Correct: s.Correct, Total: s.Total})
		items = append(items, EpochItem{Epoch: s.Epoch, Loss: s.Loss, Accuracy: s.Accuracy, Correct: s.Correct, Total: s.Total})
	}
	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:        runID,
			Sample:       sample,
			ResourceDir:  c.resourceDir,
			Hidden:       req.Hidden,
			Activation:   req.Activation,
			SplitRatio:   req.SplitRatio,
			BatchSize:    req.BatchSize,
			Epochs:       req.Epochs,
			LearningRate: req.LearningRate,
			Momentum:     req.Momentum,
			Threshold:    req.Threshold,
			InitSeed:     req.InitSeed,
			SplitSeed:    req.SplitSeed,
			ShuffleSeed:  req.ShuffleSeed,
			KeepBest:     req.KeepBest,
		},
		History:          points,
		FinalAccuracy:    result.FinalAccuracy(),
		ThresholdReached: result.ThresholdReached,
		ArtifactPath:     artifactPath,
	})
	if err != nil {
		return TrainSummary{}, err
	}

	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:         runID,
		Sample:        sample,
		Hidden:        req.Hidden,
		Epochs:        req.Epochs,
		EpochsRun:     len(result.Epochs),
		FinalAccuracy: result.FinalAccuracy(),
		CreatedAtUTC:  createdAt,
	}); err != nil {
		return TrainSummary{}, err
	}

	record := model.RunRecord{
		VersionedRecord:  storage.Versioned(),
		ID:               runID,
		Sample:           sample,
		CreatedAtUTC:     createdAt,
		NumFacts:         decoded.NumFacts,
		NumOps:           decoded.NumOps,
		Plans:            summary.Plans,
		TrainSize:        summary.Train,
		ValidationSize:   summary.Validation,
		Hidden:           req.Hidden,
		Activation:       req.Activation,
		SplitRatio:       req.SplitRatio,
		BatchSize:        req.BatchSize,
		Epochs:           req.Epochs,
		LearningRate:     req.LearningRate,
		Momentum:         req.Momentum,
		Threshold:        req.Threshold,
		InitSeed:         req.InitSeed,
		SplitSeed:        req.SplitSeed,
		ShuffleSeed:      req.ShuffleSeed,
		KeepBest:         req.KeepBest,
		EpochsRun:        len(result.Epochs),
		FinalAccuracy:    result.FinalAccuracy(),
		ThresholdReached: result.ThresholdReached,
		ArtifactPath:     artifactPath,
		Host:             hostInfo(),
	}
	if err := store.SaveRun(ctx, record); err != nil {
		return TrainSummary{}, err
	}
	if err := store.SaveEpochHistory(ctx, runID, history); err != nil {
		return TrainSummary{}, err
	}

	return TrainSummary{
		RunID:            runID,
		Sample:           sample,
		ArtifactPath:     artifactPath,
		ArtifactsDir:     filepath.Clean(runDir),
		Dataset:          summary,
		Epochs:           items,
		FinalAccuracy:    result.FinalAccuracy(),
		ThresholdReached: result.ThresholdReached,
		BestEpoch:        result.BestEpoch,
	}, nil
}

// Inspect decodes a sample file and reports its shape without training.
func (c *Client) Inspect(_ context.Context, req InspectRequest) (InspectSummary, error) {
	if req.SplitRatio == 0 {
		req.SplitRatio = dataset.DefaultSplitRatio
	}
	sample, path, err := c.resolveSample(req.Sample, req.SamplePath)
	if err != nil {
		return InspectSummary{}, err
	}

	decoded, err := samples.ReadFile(path)
	if err != nil {
		return InspectSummary{}, err
	}
	trainSet, valSet, err := dataset.Split(dataset.Flatten(decoded.Plans), req.SplitRatio, req.SplitSeed)
	if err != nil {
		return InspectSummary{}, err
	}

	out := InspectSummary{
		Sample:    sample,
		Path:      path,
		NumFacts:  decoded.NumFacts,
		NumOps:    decoded.NumOps,
		IndexSize: decoded.Index.Len(),
		Dataset:   dataset.Summarize(len(decoded.Plans), trainSet, valSet),
	}
	applicable := 0
	for _, plan := range decoded.Plans {
		for _, s := range plan {
			set := 0
			for _, v := range s.Indicator {
				if v > 0 {
					set++
				}
			}
			if set > 1 {
				out.MultiHot++
			}
			mask, err := decoded.Index.MaskOf(s.State)
			if err != nil {
				return InspectSummary{}, err
			}
			applicable += mask.Applicable()
		}
	}
	if total := decoded.Samples(); total > 0 {
		out.Applicable = float64(applicable) / float64(total)
	}
	return out, nil
}

// Score loads an exported policy and returns its action distribution for one
// state. The artifact knows nothing about applicability.
func (c *Client) Score(_ context.Context, req ScoreRequest) (ScoreResult, error) {
	path := strings.TrimSpace(req.ArtifactPath)
	if path == "" {
		if strings.TrimSpace(req.Sample) == "" {
			return ScoreResult{}, errors.New("score requires sample name or artifact path")
		}
		path = export.ResolvePath(c.resourceDir, req.Sample)
	}

	artifact, err := export.Load(path)
	if err != nil {
		return ScoreResult{}, err
	}
	probs, err := artifact.Evaluate(req.State)
	if err != nil {
		return ScoreResult{}, err
	}
	return ScoreResult{ArtifactPath: path, Probabilities: probs, Best: nn.Argmax(probs)}, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	store, err := c.ensureStore(ctx)
	if err != nil {
		return nil, err
	}

	runs, err := store.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunItem{
			RunID:            run.ID,
			CreatedAtUTC:     run.CreatedAtUTC,
			Sample:           run.Sample,
			Hidden:           run.Hidden,
			Epochs:           run.Epochs,
			EpochsRun:        run.EpochsRun,
			FinalAccuracy:    run.FinalAccuracy,
			ThresholdReached: run.ThresholdReached,
			ArtifactPath:     run.ArtifactPath,
		})
	}
	return out, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.EpochRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	store, err := c.ensureStore(ctx)
	if err != nil {
		return nil, err
	}
	runID, err := c.selectRun(ctx, store, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}

	history, ok, err := store.GetEpochHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A fresh memory store knows nothing of earlier processes; the run
		// directory still holds the series.
		history, ok, err = c.historyFromRunDir(runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("epoch history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return history, nil
}

type ReportRequest struct {
	RunID  string
	Latest bool
}

// RunReport is the configuration and accuracy-curve summary written to a
// run's artifact directory.
type RunReport struct {
	RunID   string
	Config  stats.RunConfig
	Summary stats.HistorySummary
}

// Report reads a run's config.json and summary.json back from the runs
// directory.
func (c *Client) Report(ctx context.Context, req ReportRequest) (RunReport, error) {
	store, err := c.ensureStore(ctx)
	if err != nil {
		return RunReport{}, err
	}
	runID, err := c.selectRun(ctx, store, req.RunID, req.Latest)
	if err != nil {
		return RunReport{}, err
	}

	cfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return RunReport{}, err
	}
	if !ok {
		return RunReport{}, fmt.Errorf("run config not found for run id: %s", runID)
	}
	summary, ok, err := stats.ReadHistorySummary(c.runsDir, runID)
	if err != nil {
		return RunReport{}, err
	}
	if !ok {
		return RunReport{}, fmt.Errorf("run summary not found for run id: %s", runID)
	}
	return RunReport{RunID: runID, Config: cfg, Summary: summary}, nil
}

// Export copies a run's artifact directory to OutDir.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if strings.TrimSpace(req.OutDir) == "" {
		return ExportSummary{}, errors.New("export requires an output directory")
	}
	store, err := c.ensureStore(ctx)
	if err != nil {
		return ExportSummary{}, err
	}
	runID, err := c.selectRun(ctx, store, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) selectRun(ctx context.Context, store storage.Store, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		runs, err := store.ListRuns(ctx, 1)
		if err != nil {
			return "", err
		}
		if len(runs) > 0 {
			return runs[0].ID, nil
		}
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", errors.New("run id or latest is required")
	}
	return runID, nil
}

func (c *Client) historyFromRunDir(runID string) ([]model.EpochRecord, bool, error) {
	series, ok, err := stats.ReadAccuracySeries(c.runsDir, runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	out := make([]model.EpochRecord, 0, len(series))
	for _, point := range series {
		out = append(out, model.EpochRecord{
			VersionedRecord: storage.Versioned(),
			Epoch:           point.Epoch,
			Loss:            point.Loss,
			Accuracy:        point.Accuracy,
			Correct:         point.Correct,
			Total:           point.Total,
		})
	}
	return out, true, nil
}

func (c *Client) resolveSample(name, path string) (string, string, error) {
	name = strings.TrimSpace(name)
	path = strings.TrimSpace(path)
	switch {
	case path != "" && name == "":
		base := filepath.Base(path)
		return strings.TrimSuffix(base, filepath.Ext(base)), path, nil
	case path != "":
		return name, path, nil
	case name != "":
		return name, samples.ResolvePath(c.resourceDir, name), nil
	default:
		return "", "", errors.New("sample name or path is required")
	}
}

func (c *Client) ensureStore(ctx context.Context) (storage.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storeReady {
		return c.store, nil
	}
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	c.storeReady = true
	return c.store, nil
}

func withTrainDefaults(req TrainRequest) TrainRequest {
	defaults := DefaultTrainRequest()
	if req.Hidden == 0 {
		req.Hidden = defaults.Hidden
	}
	if req.Activation == "" {
		req.Activation = defaults.Activation
	}
	if req.SplitRatio == 0 {
		req.SplitRatio = defaults.SplitRatio
	}
	if req.BatchSize == 0 {
		req.BatchSize = defaults.BatchSize
	}
	if req.Epochs == 0 {
		req.Epochs = defaults.Epochs
	}
	if req.LearningRate == 0 {
		req.LearningRate = defaults.LearningRate
	}
	return req
}
