package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"planpolicy/internal/model"
)

const (
	DefaultSplitRatio = 0.6
	DefaultSplitSeed  = 54
)

// Dataset holds parallel state and indicator sequences.
type Dataset struct {
	X []model.State
	Y []model.Indicator
}

func (d Dataset) Len() int {
	return len(d.X)
}

// Flatten concatenates plans in plan order, then intra-plan order.
func Flatten(plans []model.Plan) Dataset {
	total := 0
	for _, plan := range plans {
		total += len(plan)
	}
	out := Dataset{
		X: make([]model.State, 0, total),
		Y: make([]model.Indicator, 0, total),
	}
	for _, plan := range plans {
		for _, sample := range plan {
			out.X = append(out.X, sample.State)
			out.Y = append(out.Y, sample.Indicator)
		}
	}
	return out
}

// SplitSizes returns floor(ratio*n) and the remainder.
func SplitSizes(n int, ratio float64) (int, int, error) {
	if ratio <= 0 || ratio > 1 {
		return 0, 0, fmt.Errorf("split ratio must be in (0, 1], got %f", ratio)
	}
	trainSize := int(float64(n) * ratio)
	return trainSize, n - trainSize, nil
}

// Split partitions the dataset with a seeded permutation. The same dataset,
// ratio and seed always yield the same partitions in the same order.
func Split(d Dataset, ratio float64, seed int64) (Dataset, Dataset, error) {
	if len(d.X) != len(d.Y) {
		return Dataset{}, Dataset{}, errors.New("dataset inputs and outputs differ in length")
	}
	trainSize, valSize, err := SplitSizes(d.Len(), ratio)
	if err != nil {
		return Dataset{}, Dataset{}, err
	}

	perm := rand.New(rand.NewSource(seed)).Perm(d.Len())
	train := Subset(d, perm[:trainSize])
	val := Subset(d, perm[trainSize:trainSize+valSize])
	return train, val, nil
}

func Subset(d Dataset, indices []int) Dataset {
	out := Dataset{
		X: make([]model.State, len(indices)),
		Y: make([]model.Indicator, len(indices)),
	}
	for i, idx := range indices {
		out.X[i] = d.X[idx]
		out.Y[i] = d.Y[idx]
	}
	return out
}

// Target reduces an indicator to a class index: the first position holding
// the maximum value. Multi-hot indicators collapse onto their first set bit.
func Target(indicator model.Indicator) int {
	best := 0
	for i, v := range indicator {
		if v > indicator[best] {
			best = i
		}
	}
	return best
}

func Targets(ys []model.Indicator) []int {
	out := make([]int, len(ys))
	for i, y := range ys {
		out[i] = Target(y)
	}
	return out
}

// Summary reports partition sizes for logging.
type Summary struct {
	Plans      int `json:"plans"`
	Samples    int `json:"samples"`
	Train      int `json:"train"`
	Validation int `json:"validation"`
}

func Summarize(plans int, train, val Dataset) Summary {
	return Summary{
		Plans:      plans,
		Samples:    train.Len() + val.Len(),
		Train:      train.Len(),
		Validation: val.Len(),
	}
}
