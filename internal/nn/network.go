package nn

import "math"

// Network is the opaque trainable handle one evaluation owns. Forward in
// training mode returns the auxiliary logits when the architecture carries an
// auxiliary head, nil otherwise; inference passes always return nil aux.
// Backward consumes the loss gradients of the same pass.
type Network interface {
	Forward(x *Tensor, train bool) (logits, aux *Tensor)
	Backward(gradLogits, gradAux *Tensor)
	Params() []*Param
	Walk(fn func(Layer))
	SetDropPath(rate float64)
	SetHalf(enabled bool)
}

// ZeroGrads clears every gradient accumulator.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// GradNorm returns the global L2 norm over all trainable gradients.
func GradNorm(params []*Param) float64 {
	var sum float64
	for _, p := range params {
		if p.Frozen {
			continue
		}
		for _, g := range p.Grad.Data {
			sum += float64(g) * float64(g)
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales trainable gradients so their global norm does not
// exceed maxNorm, returning the pre-clip norm.
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	norm := GradNorm(params)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := float32(maxNorm / (norm + 1e-12))
	for _, p := range params {
		if p.Frozen {
			continue
		}
		for i := range p.Grad.Data {
			p.Grad.Data[i] *= scale
		}
	}
	return norm
}

// ScaleGrads multiplies every trainable gradient by factor.
func ScaleGrads(params []*Param, factor float64) {
	f := float32(factor)
	for _, p := range params {
		if p.Frozen {
			continue
		}
		for i := range p.Grad.Data {
			p.Grad.Data[i] *= f
		}
	}
}

// GradsOverflowed reports whether any trainable gradient is NaN or Inf.
func GradsOverflowed(params []*Param) bool {
	for _, p := range params {
		if p.Frozen {
			continue
		}
		for _, g := range p.Grad.Data {
			v := float64(g)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// SetNetworkHalf toggles reduced-precision forward mode on every layer that
// supports it.
func SetNetworkHalf(net Network, enabled bool) {
	net.Walk(func(l Layer) {
		if h, ok := l.(HalfAware); ok {
			h.SetHalf(enabled)
		}
	})
}
