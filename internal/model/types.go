package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// State is a fixed-length fact vector of 0/1 values.
type State []uint8

// Mask marks which actions are applicable in a state.
type Mask []bool

// Indicator marks the action(s) an expert plan chose in a state.
type Indicator []uint8

type Sample struct {
	State     State
	Indicator Indicator
}

// Plan is a non-empty ordered sequence of samples from one solved instance.
type Plan []Sample

// Floats converts the state into a network input vector.
func (s State) Floats() []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

func (m Mask) Equal(other Mask) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		if m[i] != other[i] {
			return false
		}
	}
	return true
}

// Applicable counts the applicable actions.
func (m Mask) Applicable() int {
	n := 0
	for _, ok := range m {
		if ok {
			n++
		}
	}
	return n
}

type HostInfo struct {
	CPUBrand     string `json:"cpu_brand"`
	LogicalCores int    `json:"logical_cores"`
	AVX2         bool   `json:"avx2"`
}

type RunRecord struct {
	VersionedRecord
	ID               string   `json:"id"`
	Sample           string   `json:"sample"`
	CreatedAtUTC     string   `json:"created_at_utc"`
	NumFacts         int      `json:"num_facts"`
	NumOps           int      `json:"num_ops"`
	Plans            int      `json:"plans"`
	TrainSize        int      `json:"train_size"`
	ValidationSize   int      `json:"validation_size"`
	Hidden           int      `json:"hidden"`
	Activation       string   `json:"activation"`
	SplitRatio       float64  `json:"split_ratio"`
	BatchSize        int      `json:"batch_size"`
	Epochs           int      `json:"epochs"`
	LearningRate     float64  `json:"learning_rate"`
	Momentum         float64  `json:"momentum"`
	Threshold        float64  `json:"threshold"`
	InitSeed         int64    `json:"init_seed"`
	SplitSeed        int64    `json:"split_seed"`
	ShuffleSeed      int64    `json:"shuffle_seed"`
	KeepBest         bool     `json:"keep_best"`
	EpochsRun        int      `json:"epochs_run"`
	FinalAccuracy    float64  `json:"final_accuracy"`
	ThresholdReached bool     `json:"threshold_reached"`
	ArtifactPath     string   `json:"artifact_path"`
	Host             HostInfo `json:"host"`
}

type EpochRecord struct {
	VersionedRecord
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
}
