package nn

import (
	"fmt"
	"math/rand"
)

// Identity passes its input through unchanged.
type Identity struct{}

func (Identity) Forward(x *Tensor, train bool) *Tensor { return x }
func (Identity) Backward(grad *Tensor) *Tensor         { return grad }
func (Identity) Params() []*Param                      { return nil }

// Zero produces an all-zero tensor, spatially strided. It is the realization
// of the "none" primitive: no signal flows through it in either direction.
type Zero struct {
	stride int
	inDims []int
}

func NewZero(stride int) *Zero { return &Zero{stride: stride} }

func (z *Zero) Forward(x *Tensor, train bool) *Tensor {
	n, c, h, w := x.Dims4()
	z.inDims = append([]int(nil), x.Shape...)
	oh := (h + z.stride - 1) / z.stride
	ow := (w + z.stride - 1) / z.stride
	return NewTensor(n, c, oh, ow)
}

func (z *Zero) Backward(grad *Tensor) *Tensor {
	return NewTensor(z.inDims...)
}

func (z *Zero) Params() []*Param { return nil }

// NewReLUConvBN is the standard ReLU -> conv -> batch-norm block.
func NewReLUConvBN(inC, outC, k, stride, pad int, rng *rand.Rand) *Sequential {
	return NewSequential(
		NewReLU(),
		NewConv2d(inC, outC, k, ConvOpts{Stride: stride, Pad: pad}, rng),
		NewBatchNorm2d(outC),
	)
}

// NewSepConv is a stacked depthwise-separable convolution: two depthwise +
// pointwise rounds, the first carrying the stride.
func NewSepConv(c, k, stride int, rng *rand.Rand) *Sequential {
	pad := k / 2
	return NewSequential(
		NewReLU(),
		NewConv2d(c, c, k, ConvOpts{Stride: stride, Pad: pad, Groups: c}, rng),
		NewConv2d(c, c, 1, ConvOpts{}, rng),
		NewBatchNorm2d(c),
		NewReLU(),
		NewConv2d(c, c, k, ConvOpts{Stride: 1, Pad: pad, Groups: c}, rng),
		NewConv2d(c, c, 1, ConvOpts{}, rng),
		NewBatchNorm2d(c),
	)
}

// NewDilConv is a dilated depthwise-separable convolution.
func NewDilConv(c, k, stride int, rng *rand.Rand) *Sequential {
	pad := (k / 2) * 2 // dilation 2 keeps the spatial size at stride 1
	return NewSequential(
		NewReLU(),
		NewConv2d(c, c, k, ConvOpts{Stride: stride, Pad: pad, Dilation: 2, Groups: c}, rng),
		NewConv2d(c, c, 1, ConvOpts{}, rng),
		NewBatchNorm2d(c),
	)
}

// FactorizedReduce halves the spatial size while mapping channels, splitting
// the output between two stride-2 1x1 convs, the second reading the input
// shifted by one pixel so no position is systematically dropped.
type FactorizedReduce struct {
	relu  *ReLU
	conv1 *Conv2d
	conv2 *Conv2d
	bn    *BatchNorm2d

	b2H, b2W int
}

func NewFactorizedReduce(inC, outC int, rng *rand.Rand) *FactorizedReduce {
	if outC%2 != 0 {
		panic(fmt.Sprintf("nn: factorized reduce needs even output channels, got %d", outC))
	}
	return &FactorizedReduce{
		relu:  NewReLU(),
		conv1: NewConv2d(inC, outC/2, 1, ConvOpts{Stride: 2}, rng),
		conv2: NewConv2d(inC, outC/2, 1, ConvOpts{Stride: 2}, rng),
		bn:    NewBatchNorm2d(outC),
	}
}

func shiftIn(x *Tensor) *Tensor {
	n, c, h, w := x.Dims4()
	out := NewTensor(n, c, h-1, w-1)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h-1; y++ {
				srcBase := ((b*c+ch)*h+y+1)*w + 1
				dstBase := ((b*c+ch)*(h-1) + y) * (w - 1)
				copy(out.Data[dstBase:dstBase+w-1], x.Data[srcBase:srcBase+w-1])
			}
		}
	}
	return out
}

func (f *FactorizedReduce) Forward(x *Tensor, train bool) *Tensor {
	r := f.relu.Forward(x, train)
	a := f.conv1.Forward(r, train)
	b := f.conv2.Forward(shiftIn(r), train)
	f.b2H, f.b2W = b.Shape[2], b.Shape[3]
	// The shifted branch can come out one element short on odd sizes.
	if a.Shape[2] != b.Shape[2] || a.Shape[3] != b.Shape[3] {
		b = padTo(b, a.Shape[2], a.Shape[3])
	}
	return f.bn.Forward(ConcatChannels([]*Tensor{a, b}), train)
}

func (f *FactorizedReduce) Backward(grad *Tensor) *Tensor {
	g := f.bn.Backward(grad)
	half := f.conv1.Params()[0].Value.Shape[0]
	parts := SplitChannels(g, []int{half, half})

	gradR := f.conv1.Backward(parts[0])
	shifted := f.conv2.Backward(cropTo(parts[1], f.b2H, f.b2W))

	// Scatter the shifted branch back to its (+1, +1) origin.
	n, c, h, w := gradR.Dims4()
	sh, sw := shifted.Shape[2], shifted.Shape[3]
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < sh && y+1 < h; y++ {
				for x := 0; x < sw && x+1 < w; x++ {
					gradR.Data[((b*c+ch)*h+y+1)*w+x+1] += shifted.Data[((b*c+ch)*sh+y)*sw+x]
				}
			}
		}
	}
	return f.relu.Backward(gradR)
}

func (f *FactorizedReduce) Params() []*Param {
	var params []*Param
	params = append(params, f.conv1.Params()...)
	params = append(params, f.conv2.Params()...)
	params = append(params, f.bn.Params()...)
	return params
}

func (f *FactorizedReduce) Walk(fn func(Layer)) {
	fn(f.relu)
	fn(f.conv1)
	fn(f.conv2)
	fn(f.bn)
}

func padTo(t *Tensor, h, w int) *Tensor {
	n, c, th, tw := t.Dims4()
	out := NewTensor(n, c, h, w)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < th; y++ {
				srcBase := ((b*c+ch)*th + y) * tw
				dstBase := ((b*c+ch)*h + y) * w
				copy(out.Data[dstBase:dstBase+tw], t.Data[srcBase:srcBase+tw])
			}
		}
	}
	return out
}

func cropTo(t *Tensor, oh, ow int) *Tensor {
	n, c, th, tw := t.Dims4()
	if th == oh && tw == ow {
		return t
	}
	out := NewTensor(n, c, oh, ow)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < oh; y++ {
				srcBase := ((b*c+ch)*th + y) * tw
				dstBase := ((b*c+ch)*oh + y) * ow
				copy(out.Data[dstBase:dstBase+ow], t.Data[srcBase:srcBase+ow])
			}
		}
	}
	return out
}

// MakeOp instantiates a micro primitive at c channels. Reduction cells use
// stride 2 for operations reading the cell inputs.
func MakeOp(name string, c, stride int, rng *rand.Rand) (Layer, error) {
	switch name {
	case "none":
		return NewZero(stride), nil
	case "max_pool_3x3":
		return NewMaxPool2d(3, stride, 1), nil
	case "avg_pool_3x3":
		return NewAvgPool2d(3, stride, 1), nil
	case "skip_connect":
		if stride == 1 {
			return Identity{}, nil
		}
		return NewFactorizedReduce(c, c, rng), nil
	case "sep_conv_3x3":
		return NewSepConv(c, 3, stride, rng), nil
	case "sep_conv_5x5":
		return NewSepConv(c, 5, stride, rng), nil
	case "dil_conv_3x3":
		return NewDilConv(c, 3, stride, rng), nil
	case "dil_conv_5x5":
		return NewDilConv(c, 5, stride, rng), nil
	default:
		return nil, fmt.Errorf("unknown primitive %q", name)
	}
}
