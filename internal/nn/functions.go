package nn

import (
	"fmt"
	"math"
)

// Softmax normalises logits into probabilities. Entries at -Inf receive
// exactly zero probability. A row with no finite entry yields all zeros.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	if math.IsInf(maxLogit, -1) {
		return out
	}

	sum := 0.0
	for i, v := range logits {
		if math.IsInf(v, -1) {
			continue
		}
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// LogSumExp is computed relative to the largest finite logit.
func LogSumExp(logits []float64) float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	if math.IsInf(maxLogit, -1) {
		return maxLogit
	}
	sum := 0.0
	for _, v := range logits {
		sum += math.Exp(v - maxLogit)
	}
	return maxLogit + math.Log(sum)
}

// Argmax returns the first index holding the largest value.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// Avg returns the arithmetic mean of values.
func Avg(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("values must not be empty")
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values)), nil
}

// Std returns population standard deviation.
func Std(values []float64) (float64, error) {
	mean, err := Avg(values)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, value := range values {
		diff := mean - value
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values))), nil
}
