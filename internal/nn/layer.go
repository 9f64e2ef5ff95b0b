package nn

import (
	"math"
	"math/rand"
)

// Param is one learnable tensor together with its gradient accumulator.
// Frozen parameters keep their value but are excluded from optimizer steps
// and from trainable-parameter counts.
type Param struct {
	Name   string
	Value  *Tensor
	Grad   *Tensor
	Frozen bool
}

func newParam(name string, shape ...int) *Param {
	return &Param{
		Name:  name,
		Value: NewTensor(shape...),
		Grad:  NewTensor(shape...),
	}
}

// Layer is a single-input single-output differentiable block. Forward in
// training mode caches whatever Backward needs; Backward consumes the
// gradient of the loss with respect to the layer output, accumulates
// parameter gradients, and returns the gradient with respect to the input.
type Layer interface {
	Forward(x *Tensor, train bool) *Tensor
	Backward(grad *Tensor) *Tensor
	Params() []*Param
}

// Walker is implemented by composites that hold sublayers. Walk visits every
// leaf layer exactly once.
type Walker interface {
	Walk(fn func(Layer))
}

// Instrumented is implemented by compute-bearing layers. While a counter is
// attached, each forward pass accumulates its multiply-accumulate count;
// attaching nil detaches.
type Instrumented interface {
	SetMACCounter(counter *float64)
}

// HalfAware is implemented by layers whose outputs are rounded through half
// precision when reduced-precision mode is on.
type HalfAware interface {
	SetHalf(enabled bool)
}

// WalkLayer visits l and, when it is a composite, all its leaves.
func WalkLayer(l Layer, fn func(Layer)) {
	if w, ok := l.(Walker); ok {
		w.Walk(fn)
		return
	}
	fn(l)
}

// Sequential chains layers front to back.
type Sequential struct {
	layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{layers: layers}
}

func (s *Sequential) Forward(x *Tensor, train bool) *Tensor {
	for _, l := range s.layers {
		x = l.Forward(x, train)
	}
	return x
}

func (s *Sequential) Backward(grad *Tensor) *Tensor {
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad = s.layers[i].Backward(grad)
	}
	return grad
}

func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, l := range s.layers {
		params = append(params, l.Params()...)
	}
	return params
}

func (s *Sequential) Walk(fn func(Layer)) {
	for _, l := range s.layers {
		WalkLayer(l, fn)
	}
}

// heInit fills a conv weight with He-normal values for fanIn inputs.
func heInit(t *Tensor, fanIn int, rng *rand.Rand) {
	std := float32(1)
	if fanIn > 0 {
		std = float32(math.Sqrt(2 / float64(fanIn)))
	}
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * std
	}
}

// uniformInit fills a linear weight with values in [-1/sqrt(fanIn), 1/sqrt(fanIn)].
func uniformInit(t *Tensor, fanIn int, rng *rand.Rand) {
	bound := float32(1)
	if fanIn > 0 {
		bound = float32(1 / math.Sqrt(float64(fanIn)))
	}
	for i := range t.Data {
		t.Data[i] = (rng.Float32()*2 - 1) * bound
	}
}
