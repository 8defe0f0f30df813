package stats

import "planpolicy/internal/nn"

type HistorySummary struct {
	RunID           string  `json:"run_id"`
	Epochs          int     `json:"epochs"`
	Threshold       float64 `json:"threshold"`
	InitialAccuracy float64 `json:"initial_accuracy"`
	FinalAccuracy   float64 `json:"final_accuracy"`
	BestAccuracy    float64 `json:"best_accuracy"`
	BestEpoch       int     `json:"best_epoch"`
	MeanAccuracy    float64 `json:"mean_accuracy"`
	StdAccuracy     float64 `json:"std_accuracy"`
	InitialLoss     float64 `json:"initial_loss"`
	FinalLoss       float64 `json:"final_loss"`
	Improvement     float64 `json:"improvement"`
	// ThresholdEpoch is the first epoch at or above the threshold, 0 if none.
	ThresholdEpoch int `json:"threshold_epoch"`
}

// SummarizeHistory reduces a per-epoch curve to its headline numbers. An
// empty history yields a zero summary.
func SummarizeHistory(runID string, threshold float64, history []EpochPoint) (HistorySummary, error) {
	summary := HistorySummary{RunID: runID, Threshold: threshold, Epochs: len(history)}
	if len(history) == 0 {
		return summary, nil
	}

	accuracies := make([]float64, len(history))
	for i, point := range history {
		accuracies[i] = point.Accuracy
		if point.Accuracy > summary.BestAccuracy || summary.BestEpoch == 0 {
			summary.BestAccuracy = point.Accuracy
			summary.BestEpoch = point.Epoch
		}
		if summary.ThresholdEpoch == 0 && point.Accuracy >= threshold {
			summary.ThresholdEpoch = point.Epoch
		}
	}

	mean, err := nn.Avg(accuracies)
	if err != nil {
		return HistorySummary{}, err
	}
	std, err := nn.Std(accuracies)
	if err != nil {
		return HistorySummary{}, err
	}

	first, last := history[0], history[len(history)-1]
	summary.InitialAccuracy = first.Accuracy
	summary.FinalAccuracy = last.Accuracy
	summary.MeanAccuracy = mean
	summary.StdAccuracy = std
	summary.InitialLoss = first.Loss
	summary.FinalLoss = last.Loss
	summary.Improvement = last.Accuracy - first.Accuracy
	return summary, nil
}
