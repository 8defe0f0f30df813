package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"planpolicy/internal/nn"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1

	policiesDir     = "policies"
	policyExtension = ".policy.json"
	schemaURL       = "https://planpolicy.local/artifact.schema.json"

	KindLinear     = "linear"
	KindActivation = "activation"
	KindSoftmax    = "softmax"
)

var ErrVersionMismatch = errors.New("artifact version mismatch")

//go:embed artifact.schema.json
var artifactSchema []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Layer is one stage of a sequential scoring function.
type Layer struct {
	Kind       string    `json:"kind"`
	Activation string    `json:"activation,omitempty"`
	In         int       `json:"in,omitempty"`
	Out        int       `json:"out,omitempty"`
	Weights    []float64 `json:"weights,omitempty"`
	Bias       []float64 `json:"bias,omitempty"`
}

// Artifact is the deployable policy: the trained network followed by a
// softmax over actions. It carries no applicability data.
type Artifact struct {
	SchemaVersion int     `json:"schema_version"`
	CodecVersion  int     `json:"codec_version"`
	Name          string  `json:"name"`
	NumFacts      int     `json:"num_facts"`
	NumOps        int     `json:"num_ops"`
	Layers        []Layer `json:"layers"`
}

func ResolvePath(resourceDir, name string) string {
	return filepath.Join(resourceDir, policiesDir, name+policyExtension)
}

// FromNetwork copies the network parameters into a sequential artifact and
// appends the softmax stage.
func FromNetwork(name string, net *nn.ScoringNetwork) Artifact {
	return Artifact{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
		Name:          name,
		NumFacts:      net.Inputs(),
		NumOps:        net.Outputs(),
		Layers: []Layer{
			linearLayer(net.Hidden),
			{Kind: KindActivation, Activation: net.Activation},
			linearLayer(net.Output),
			{Kind: KindSoftmax},
		},
	}
}

func linearLayer(d nn.Dense) Layer {
	return Layer{
		Kind:    KindLinear,
		In:      d.In,
		Out:     d.Out,
		Weights: append([]float64(nil), d.Weights...),
		Bias:    append([]float64(nil), d.Bias...),
	}
}

// Evaluate runs the layers in order on a fact vector.
func (a Artifact) Evaluate(x []float64) ([]float64, error) {
	if len(x) != a.NumFacts {
		return nil, fmt.Errorf("input width %d, want %d", len(x), a.NumFacts)
	}
	values := append([]float64(nil), x...)
	for i, layer := range a.Layers {
		switch layer.Kind {
		case KindLinear:
			out, err := nn.Dense{In: layer.In, Out: layer.Out, Weights: layer.Weights, Bias: layer.Bias}.Apply(values)
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
			values = out
		case KindActivation:
			act, err := nn.GetActivation(layer.Activation)
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
			for j := range values {
				values[j] = act.Func(values[j])
			}
		case KindSoftmax:
			values = nn.Softmax(values)
		default:
			return nil, fmt.Errorf("layer %d: unsupported kind %q", i, layer.Kind)
		}
	}
	return values, nil
}

func Encode(a Artifact) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// Decode validates the payload against the artifact schema before reading it.
func Decode(data []byte) (Artifact, error) {
	schema, err := loadSchema()
	if err != nil {
		return Artifact{}, err
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Artifact{}, err
	}
	if err := schema.Validate(raw); err != nil {
		return Artifact{}, fmt.Errorf("validate artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, err
	}
	if artifact.SchemaVersion != CurrentSchemaVersion || artifact.CodecVersion != CurrentCodecVersion {
		return Artifact{}, fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, artifact.SchemaVersion, artifact.CodecVersion)
	}
	return artifact, nil
}

func Write(path string, a Artifact) error {
	data, err := Encode(a)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	artifact, err := Decode(data)
	if err != nil {
		return Artifact{}, fmt.Errorf("load %s: %w", path, err)
	}
	return artifact, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(artifactSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}
