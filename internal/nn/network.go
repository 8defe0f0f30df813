package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Dense is a fully connected layer. Weights are row-major: Out rows of In.
type Dense struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

// newDense draws weights and biases from U(-1/sqrt(in), 1/sqrt(in)).
func newDense(in, out int, rng *rand.Rand) Dense {
	d := zeroDense(in, out)
	bound := 1 / math.Sqrt(float64(in))
	for i := range d.Weights {
		d.Weights[i] = (rng.Float64()*2 - 1) * bound
	}
	for i := range d.Bias {
		d.Bias[i] = (rng.Float64()*2 - 1) * bound
	}
	return d
}

func zeroDense(in, out int) Dense {
	return Dense{
		In:      in,
		Out:     out,
		Weights: make([]float64, in*out),
		Bias:    make([]float64, out),
	}
}

func (d Dense) Apply(x []float64) ([]float64, error) {
	if len(x) != d.In {
		return nil, fmt.Errorf("dense input width %d, want %d", len(x), d.In)
	}
	if len(d.Weights) != d.In*d.Out || len(d.Bias) != d.Out {
		return nil, fmt.Errorf("dense layer %dx%d has %d weights and %d biases", d.Out, d.In, len(d.Weights), len(d.Bias))
	}
	out := make([]float64, d.Out)
	for o := 0; o < d.Out; o++ {
		total := d.Bias[o]
		row := d.Weights[o*d.In : (o+1)*d.In]
		for i, v := range x {
			total += row[i] * v
		}
		out[o] = total
	}
	return out, nil
}

func (d Dense) clone() Dense {
	return Dense{
		In:      d.In,
		Out:     d.Out,
		Weights: append([]float64(nil), d.Weights...),
		Bias:    append([]float64(nil), d.Bias...),
	}
}

func (d *Dense) zero() {
	clear(d.Weights)
	clear(d.Bias)
}

// ScoringNetwork is Linear -> activation -> Linear, mapping a fact vector to
// one raw score per action.
type ScoringNetwork struct {
	Activation string `json:"activation"`
	Hidden     Dense  `json:"hidden"`
	Output     Dense  `json:"output"`
}

func NewScoringNetwork(inputs, hidden, outputs int, activation string, seed int64) (*ScoringNetwork, error) {
	if inputs <= 0 || hidden <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("network widths must be positive: inputs=%d hidden=%d outputs=%d", inputs, hidden, outputs)
	}
	if _, err := GetActivation(activation); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	return &ScoringNetwork{
		Activation: activation,
		Hidden:     newDense(inputs, hidden, rng),
		Output:     newDense(hidden, outputs, rng),
	}, nil
}

func (n *ScoringNetwork) Inputs() int  { return n.Hidden.In }
func (n *ScoringNetwork) Outputs() int { return n.Output.Out }

// Trace keeps the intermediate values of one forward pass for Backward.
type Trace struct {
	Input         []float64
	PreActivation []float64
	Hidden        []float64
	Logits        []float64
}

func (n *ScoringNetwork) Trace(x []float64) (Trace, error) {
	act, err := GetActivation(n.Activation)
	if err != nil {
		return Trace{}, err
	}
	pre, err := n.Hidden.Apply(x)
	if err != nil {
		return Trace{}, fmt.Errorf("hidden layer: %w", err)
	}
	hidden := make([]float64, len(pre))
	for i, v := range pre {
		hidden[i] = act.Func(v)
	}
	logits, err := n.Output.Apply(hidden)
	if err != nil {
		return Trace{}, fmt.Errorf("output layer: %w", err)
	}
	return Trace{Input: x, PreActivation: pre, Hidden: hidden, Logits: logits}, nil
}

func (n *ScoringNetwork) Forward(x []float64) ([]float64, error) {
	tr, err := n.Trace(x)
	if err != nil {
		return nil, err
	}
	return tr.Logits, nil
}

func (n *ScoringNetwork) Clone() *ScoringNetwork {
	return &ScoringNetwork{
		Activation: n.Activation,
		Hidden:     n.Hidden.clone(),
		Output:     n.Output.clone(),
	}
}

// Gradients mirrors the parameter layout of a ScoringNetwork.
type Gradients struct {
	Hidden Dense
	Output Dense
}

func (n *ScoringNetwork) NewGradients() *Gradients {
	return &Gradients{
		Hidden: zeroDense(n.Hidden.In, n.Hidden.Out),
		Output: zeroDense(n.Output.In, n.Output.Out),
	}
}

func (g *Gradients) Zero() {
	g.Hidden.zero()
	g.Output.zero()
}

// Backward accumulates into g the parameter gradients for one traced sample,
// given the loss gradient with respect to its logits.
func (n *ScoringNetwork) Backward(tr Trace, dLogits []float64, g *Gradients) error {
	if len(dLogits) != n.Output.Out {
		return fmt.Errorf("logit gradient width %d, want %d", len(dLogits), n.Output.Out)
	}
	act, err := GetActivation(n.Activation)
	if err != nil {
		return err
	}

	dHidden := make([]float64, n.Output.In)
	for o, d := range dLogits {
		if d == 0 {
			continue
		}
		g.Output.Bias[o] += d
		row := n.Output.Weights[o*n.Output.In : (o+1)*n.Output.In]
		gradRow := g.Output.Weights[o*n.Output.In : (o+1)*n.Output.In]
		for h, hv := range tr.Hidden {
			gradRow[h] += d * hv
			dHidden[h] += d * row[h]
		}
	}

	for h, d := range dHidden {
		d *= act.Derivative(tr.PreActivation[h])
		if d == 0 {
			continue
		}
		g.Hidden.Bias[h] += d
		gradRow := g.Hidden.Weights[h*n.Hidden.In : (h+1)*n.Hidden.In]
		for i, xv := range tr.Input {
			gradRow[i] += d * xv
		}
	}
	return nil
}
