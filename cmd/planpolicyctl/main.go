package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"planpolicy/internal/dataset"
	"planpolicy/internal/logging"
	"planpolicy/internal/storage"
	planapi "planpolicy/pkg/planpolicy"
)

const exportsDir = "exports"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "train":
		return runTrain(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	case "score":
		return runScore(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "report":
		return runReport(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runTrain(ctx context.Context, args []string) error {
	defaults := defaultTrainSettings()
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML or JSON config path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	sample := fs.String("sample", "", "logical sample name resolved under resource-dir")
	samplePath := fs.String("sample-path", "", "explicit sample file path (overrides resolution)")
	hidden := fs.Int("hidden", defaults.Request.Hidden, "hidden layer width")
	activation := fs.String("activation", defaults.Request.Activation, "hidden activation: identity|relu|tanh|sigmoid")
	splitRatio := fs.Float64("split-ratio", defaults.Request.SplitRatio, "training share of the samples, in (0, 1]")
	batchSize := fs.Int("batch-size", defaults.Request.BatchSize, "minibatch size")
	epochs := fs.Int("epochs", defaults.Request.Epochs, "epoch budget")
	lr := fs.Float64("lr", defaults.Request.LearningRate, "SGD learning rate")
	momentum := fs.Float64("momentum", defaults.Request.Momentum, "SGD momentum in [0, 1)")
	threshold := fs.Float64("threshold", defaults.Request.Threshold, "validation accuracy that stops training")
	initSeed := fs.Int64("init-seed", defaults.Request.InitSeed, "parameter initialization seed")
	splitSeed := fs.Int64("split-seed", defaults.Request.SplitSeed, "train/validation split seed")
	shuffleSeed := fs.Int64("shuffle-seed", defaults.Request.ShuffleSeed, "per-epoch shuffle seed")
	keepBest := fs.Bool("keep-best", false, "export the most accurate epoch instead of the last one")
	storeKind := fs.String("store", defaults.StoreKind, "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaults.DBPath, "sqlite database path")
	runsDir := fs.String("runs-dir", defaults.RunsDir, "run artifacts directory")
	resourceDir := fs.String("resource-dir", defaults.ResourceDir, "resource directory holding sl_samples/ and policies/")
	logMode := fs.String("log-mode", defaults.LogMode, "log mode: dev|prod|nop")
	jsonOut := fs.Bool("json", false, "emit the training summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	settings, err := loadOrDefaultTrainSettings(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&settings, setFlags, map[string]any{
		"run-id":       *runID,
		"sample":       *sample,
		"sample-path":  *samplePath,
		"hidden":       *hidden,
		"activation":   *activation,
		"split-ratio":  *splitRatio,
		"batch-size":   *batchSize,
		"epochs":       *epochs,
		"lr":           *lr,
		"momentum":     *momentum,
		"threshold":    *threshold,
		"init-seed":    *initSeed,
		"split-seed":   *splitSeed,
		"shuffle-seed": *shuffleSeed,
		"keep-best":    *keepBest,
		"store":        *storeKind,
		"db-path":      *dbPath,
		"runs-dir":     *runsDir,
		"resource-dir": *resourceDir,
		"log-mode":     *logMode,
	}); err != nil {
		return err
	}

	logger, err := logging.New(settings.LogMode)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := planapi.New(planapi.Options{
		StoreKind:   settings.StoreKind,
		DBPath:      settings.DBPath,
		RunsDir:     settings.RunsDir,
		ResourceDir: settings.ResourceDir,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, settings.Request)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}

	fmt.Printf("run_id=%s sample=%s epochs_run=%d final_accuracy=%.6f threshold_reached=%t best_epoch=%d\n",
		summary.RunID,
		summary.Sample,
		len(summary.Epochs),
		summary.FinalAccuracy,
		summary.ThresholdReached,
		summary.BestEpoch,
	)
	fmt.Printf("artifact=%s run_dir=%s\n", summary.ArtifactPath, summary.ArtifactsDir)
	return nil
}

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	sample := fs.String("sample", "", "logical sample name resolved under resource-dir")
	samplePath := fs.String("sample-path", "", "explicit sample file path")
	resourceDir := fs.String("resource-dir", defaultResourceDir, "resource directory holding sl_samples/")
	splitRatio := fs.Float64("split-ratio", dataset.DefaultSplitRatio, "training share of the samples, in (0, 1]")
	splitSeed := fs.Int64("split-seed", dataset.DefaultSplitSeed, "train/validation split seed")
	jsonOut := fs.Bool("json", false, "emit the inspection summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := planapi.New(planapi.Options{StoreKind: storage.KindMemory, ResourceDir: *resourceDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Inspect(ctx, planapi.InspectRequest{
		Sample:     *sample,
		SamplePath: *samplePath,
		SplitRatio: *splitRatio,
		SplitSeed:  *splitSeed,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}

	fmt.Printf("sample=%s path=%s facts=%d ops=%d index_size=%d\n",
		summary.Sample,
		summary.Path,
		summary.NumFacts,
		summary.NumOps,
		summary.IndexSize,
	)
	fmt.Printf("plans=%d samples=%d train=%d validation=%d multi_hot=%d mean_applicable=%.3f\n",
		summary.Dataset.Plans,
		summary.Dataset.Samples,
		summary.Dataset.Train,
		summary.Dataset.Validation,
		summary.MultiHot,
		summary.Applicable,
	)
	return nil
}

func runScore(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	sample := fs.String("sample", "", "logical sample name whose exported policy to load")
	artifactPath := fs.String("artifact", "", "explicit policy artifact path")
	resourceDir := fs.String("resource-dir", defaultResourceDir, "resource directory holding policies/")
	stateText := fs.String("state", "", "state as ';'-separated fact values, e.g. 0;1;0")
	jsonOut := fs.Bool("json", false, "emit scores as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	state, err := parseState(*stateText)
	if err != nil {
		return err
	}
	client, err := planapi.New(planapi.Options{StoreKind: storage.KindMemory, ResourceDir: *resourceDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Score(ctx, planapi.ScoreRequest{
		Sample:       *sample,
		ArtifactPath: *artifactPath,
		State:        state,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(result)
	}

	for i, p := range result.Probabilities {
		fmt.Printf("action=%d probability=%.6f\n", i, p)
	}
	fmt.Printf("best_action=%d\n", result.Best)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := planapi.New(planapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, planapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	for _, r := range runs {
		fmt.Printf("run_id=%s created_at=%s sample=%s hidden=%d epochs=%d/%d final_accuracy=%.6f threshold_reached=%t artifact=%s\n",
			r.RunID,
			r.CreatedAtUTC,
			r.Sample,
			r.Hidden,
			r.EpochsRun,
			r.Epochs,
			r.FinalAccuracy,
			r.ThresholdReached,
			r.ArtifactPath,
		)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show history for the most recent run")
	limit := fs.Int("limit", 0, "max epochs to print (0 for all)")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit epoch history as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("history requires --run-id or --latest")
	}

	client, err := planapi.New(planapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, planapi.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(history)
	}
	if len(history) == 0 {
		fmt.Println("no epoch history")
		return nil
	}

	for _, record := range history {
		fmt.Printf("epoch=%d loss=%.6f accuracy=%.6f correct=%d/%d\n",
			record.Epoch,
			record.Loss,
			record.Accuracy,
			record.Correct,
			record.Total,
		)
	}
	return nil
}

func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "report the most recent run")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("report requires --run-id or --latest")
	}

	client, err := planapi.New(planapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, err := client.Report(ctx, planapi.ReportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(report)
	}
	fmt.Printf("run_id=%s sample=%s hidden=%d activation=%s epochs=%d/%d\n",
		report.RunID,
		report.Config.Sample,
		report.Config.Hidden,
		report.Config.Activation,
		report.Summary.Epochs,
		report.Config.Epochs,
	)
	fmt.Printf("accuracy initial=%.6f final=%.6f best=%.6f@%d mean=%.6f std=%.6f threshold=%.4f threshold_epoch=%d\n",
		report.Summary.InitialAccuracy,
		report.Summary.FinalAccuracy,
		report.Summary.BestAccuracy,
		report.Summary.BestEpoch,
		report.Summary.MeanAccuracy,
		report.Summary.StdAccuracy,
		report.Summary.Threshold,
		report.Summary.ThresholdEpoch,
	)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", exportsDir, "export output directory")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := planapi.New(planapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, planapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

// parseState reads a ';'-separated fact vector, the same layout the sample
// files use for states.
func parseState(text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("score requires --state")
	}
	fields := strings.Split(text, ";")
	out := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("state field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func writeJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: planpolicyctl <train|inspect|score|runs|history|report|export> [flags]", msg)
}
