package nn

import (
	"math"
	"testing"
)

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := Softmax([]float64{1, 2, 3})
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("unexpected probability mass: %f", sum)
	}
	if !(probs[2] > probs[1] && probs[1] > probs[0]) {
		t.Fatalf("softmax not monotone: %v", probs)
	}
}

func TestSoftmaxNegativeInfinityIsExactlyZero(t *testing.T) {
	for _, magnitude := range []float64{0, 1e3, 1e300} {
		probs := Softmax([]float64{math.Inf(-1), magnitude, math.Inf(-1), -magnitude})
		if probs[0] != 0 || probs[2] != 0 {
			t.Fatalf("masked entries must have zero probability: %v", probs)
		}
		if math.IsNaN(probs[1]) || math.IsNaN(probs[3]) {
			t.Fatalf("unexpected NaN: %v", probs)
		}
	}
}

func TestSoftmaxAllMasked(t *testing.T) {
	probs := Softmax([]float64{math.Inf(-1), math.Inf(-1)})
	if probs[0] != 0 || probs[1] != 0 {
		t.Fatalf("unexpected probabilities: %v", probs)
	}
}

func TestLogSumExp(t *testing.T) {
	got := LogSumExp([]float64{math.Log(1), math.Log(3), math.Inf(-1)})
	if math.Abs(got-math.Log(4)) > 1e-12 {
		t.Fatalf("unexpected logsumexp: got=%f want=%f", got, math.Log(4))
	}
	if !math.IsInf(LogSumExp([]float64{math.Inf(-1)}), -1) {
		t.Fatal("expected -Inf for fully masked logits")
	}
}

func TestArgmaxFirstMaximum(t *testing.T) {
	if got := Argmax([]float64{0.1, 0.7, 0.7, 0.2}); got != 1 {
		t.Fatalf("unexpected argmax: got=%d want=1", got)
	}
	if got := Argmax([]float64{math.Inf(-1), -5}); got != 1 {
		t.Fatalf("unexpected argmax: got=%d want=1", got)
	}
}

func TestAvgStd(t *testing.T) {
	mean, err := Avg([]float64{1, 2, 3, 4})
	if err != nil || mean != 2.5 {
		t.Fatalf("unexpected avg: %f %v", mean, err)
	}
	std, err := Std([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if err != nil || math.Abs(std-2) > 1e-12 {
		t.Fatalf("unexpected std: %f %v", std, err)
	}
	if _, err := Avg(nil); err == nil {
		t.Fatal("expected empty input error")
	}
}
