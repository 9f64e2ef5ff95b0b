package nn

import (
	"fmt"
	"math/rand"
)

// Linear is a fully connected layer over NC tensors.
type Linear struct {
	in, out int
	weight  *Param // [out, in]
	bias    *Param

	half bool
	macs *float64

	x *Tensor
}

func NewLinear(in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		in:     in,
		out:    out,
		weight: newParam("linear.weight", out, in),
		bias:   newParam("linear.bias", out),
	}
	uniformInit(l.weight.Value, in, rng)
	uniformInit(l.bias.Value, in, rng)
	return l
}

func (l *Linear) Forward(x *Tensor, train bool) *Tensor {
	n, in := x.Dims2()
	if in != l.in {
		panic(fmt.Sprintf("nn: linear expects %d features, got %d", l.in, in))
	}
	out := NewTensor(n, l.out)
	for b := 0; b < n; b++ {
		for o := 0; o < l.out; o++ {
			acc := l.bias.Value.Data[o]
			row := l.weight.Value.Data[o*l.in : (o+1)*l.in]
			xrow := x.Data[b*l.in : (b+1)*l.in]
			for i, w := range row {
				acc += w * xrow[i]
			}
			out.Data[b*l.out+o] = acc
		}
	}
	if l.macs != nil {
		*l.macs += float64(n) * float64(l.in) * float64(l.out)
	}
	if l.half {
		roundHalfTensor(out)
	}
	if train {
		l.x = x
	}
	return out
}

func (l *Linear) Backward(grad *Tensor) *Tensor {
	n, _ := grad.Dims2()
	gradIn := NewTensor(n, l.in)
	for b := 0; b < n; b++ {
		xrow := l.x.Data[b*l.in : (b+1)*l.in]
		grow := gradIn.Data[b*l.in : (b+1)*l.in]
		for o := 0; o < l.out; o++ {
			g := grad.Data[b*l.out+o]
			l.bias.Grad.Data[o] += g
			wrow := l.weight.Value.Data[o*l.in : (o+1)*l.in]
			gwrow := l.weight.Grad.Data[o*l.in : (o+1)*l.in]
			for i := range wrow {
				gwrow[i] += xrow[i] * g
				grow[i] += wrow[i] * g
			}
		}
	}
	return gradIn
}

func (l *Linear) Params() []*Param { return []*Param{l.weight, l.bias} }

func (l *Linear) SetMACCounter(counter *float64) { l.macs = counter }
func (l *Linear) SetHalf(enabled bool)           { l.half = enabled }

// Flatten reshapes NCHW to NC.
type Flatten struct {
	inDims []int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(x *Tensor, train bool) *Tensor {
	n, c, h, w := x.Dims4()
	f.inDims = append([]int(nil), x.Shape...)
	out := &Tensor{Data: x.Data, Shape: []int{n, c * h * w}}
	return out
}

func (f *Flatten) Backward(grad *Tensor) *Tensor {
	return &Tensor{Data: grad.Data, Shape: append([]int(nil), f.inDims...)}
}

func (f *Flatten) Params() []*Param { return nil }

// ReLU rectifies elementwise, masking the same positions on the way back.
type ReLU struct {
	mask []bool
}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Forward(x *Tensor, train bool) *Tensor {
	out := NewTensor(x.Shape...)
	if train {
		r.mask = make([]bool, len(x.Data))
	}
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
			if train {
				r.mask[i] = true
			}
		}
	}
	return out
}

func (r *ReLU) Backward(grad *Tensor) *Tensor {
	gradIn := NewTensor(grad.Shape...)
	for i, keep := range r.mask {
		if keep {
			gradIn.Data[i] = grad.Data[i]
		}
	}
	return gradIn
}

func (r *ReLU) Params() []*Param { return nil }
