package nn

// Optimizer applies one update to the network from accumulated gradients.
type Optimizer interface {
	Step(net *ScoringNetwork, grads *Gradients)
}

// SGD is stochastic gradient descent with optional heavy-ball momentum:
// v = momentum*v + g, p -= lr*v. Zero momentum is plain SGD.
type SGD struct {
	LearningRate float64
	Momentum     float64

	velocity *Gradients
}

func NewSGD(learningRate, momentum float64) *SGD {
	return &SGD{LearningRate: learningRate, Momentum: momentum}
}

func (o *SGD) Step(net *ScoringNetwork, grads *Gradients) {
	if o.Momentum == 0 {
		stepDense(&net.Hidden, grads.Hidden, o.LearningRate)
		stepDense(&net.Output, grads.Output, o.LearningRate)
		return
	}
	if o.velocity == nil {
		o.velocity = &Gradients{Hidden: grads.Hidden.clone(), Output: grads.Output.clone()}
	} else {
		accumulate(&o.velocity.Hidden, grads.Hidden, o.Momentum)
		accumulate(&o.velocity.Output, grads.Output, o.Momentum)
	}
	stepDense(&net.Hidden, o.velocity.Hidden, o.LearningRate)
	stepDense(&net.Output, o.velocity.Output, o.LearningRate)
}

func stepDense(p *Dense, g Dense, lr float64) {
	for i := range p.Weights {
		p.Weights[i] -= lr * g.Weights[i]
	}
	for i := range p.Bias {
		p.Bias[i] -= lr * g.Bias[i]
	}
}

func accumulate(v *Dense, g Dense, momentum float64) {
	for i := range v.Weights {
		v.Weights[i] = momentum*v.Weights[i] + g.Weights[i]
	}
	for i := range v.Bias {
		v.Bias[i] = momentum*v.Bias[i] + g.Bias[i]
	}
}
