package policy

import (
	"fmt"
	"math"

	"planpolicy/internal/applicability"
	"planpolicy/internal/model"
	"planpolicy/internal/nn"
)

// Masked scores states with a network and forces inapplicable actions to
// -Inf. It has no parameters of its own and is used only while training and
// evaluating; exported artifacts carry the bare network.
type Masked struct {
	Net   *nn.ScoringNetwork
	Index *applicability.Index
}

func NewMasked(net *nn.ScoringNetwork, index *applicability.Index) (*Masked, error) {
	if net == nil || index == nil {
		return nil, fmt.Errorf("masked policy requires a network and an index")
	}
	if net.Outputs() != index.NumOps() {
		return nil, fmt.Errorf("network scores %d actions, index covers %d", net.Outputs(), index.NumOps())
	}
	return &Masked{Net: net, Index: index}, nil
}

// Forward returns one row of masked logits per state.
func (p *Masked) Forward(states []model.State) ([][]float64, error) {
	out := make([][]float64, len(states))
	for i, state := range states {
		tr, err := p.Trace(state)
		if err != nil {
			return nil, err
		}
		out[i] = tr.Logits
	}
	return out, nil
}

// Trace runs the network on a single state and masks the resulting logits in
// place. The hidden activations are kept for backpropagation.
func (p *Masked) Trace(state model.State) (nn.Trace, error) {
	mask, err := p.Index.MaskOf(state)
	if err != nil {
		return nn.Trace{}, err
	}
	tr, err := p.Net.Trace(state.Floats())
	if err != nil {
		return nn.Trace{}, err
	}
	Apply(tr.Logits, mask)
	return tr, nil
}

// Apply overwrites entries at inapplicable positions with -Inf.
func Apply(logits []float64, mask model.Mask) {
	for i, ok := range mask {
		if !ok {
			logits[i] = math.Inf(-1)
		}
	}
}

// CrossEntropy returns -log softmax(logits)[target] and its gradient with
// respect to the logits. Masked entries get zero gradient. A target whose
// logit is -Inf has infinite loss and is rejected.
func CrossEntropy(logits []float64, target int) (float64, []float64, error) {
	if target < 0 || target >= len(logits) {
		return 0, nil, fmt.Errorf("target %d outside %d actions", target, len(logits))
	}
	if math.IsInf(logits[target], -1) {
		return 0, nil, fmt.Errorf("%w: target action %d is not applicable", applicability.ErrIntegrity, target)
	}
	loss := nn.LogSumExp(logits) - logits[target]
	grad := nn.Softmax(logits)
	grad[target] -= 1
	return loss, grad, nil
}
