// Package train runs the short training and validation schedule that scores
// one candidate architecture.
package train

import "nasfit/internal/nn"

// SGD is stochastic gradient descent with classical momentum. Weight decay
// is folded into the gradient before the momentum update.
type SGD struct {
	LR          float64
	Momentum    float64
	WeightDecay float64

	velocity map[*nn.Param][]float32
}

func NewSGD(lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		LR:          lr,
		Momentum:    momentum,
		WeightDecay: weightDecay,
		velocity:    make(map[*nn.Param][]float32),
	}
}

// Step applies one update to every trainable parameter. Gradients must
// already be unscaled and clipped.
func (s *SGD) Step(params []*nn.Param) {
	lr := float32(s.LR)
	mom := float32(s.Momentum)
	wd := float32(s.WeightDecay)
	for _, p := range params {
		if p.Frozen {
			continue
		}
		v := s.velocity[p]
		if v == nil {
			v = make([]float32, len(p.Value.Data))
			s.velocity[p] = v
		}
		for i := range p.Value.Data {
			g := p.Grad.Data[i] + wd*p.Value.Data[i]
			v[i] = mom*v[i] + g
			p.Value.Data[i] -= lr * v[i]
		}
	}
}
