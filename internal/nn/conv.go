package nn

import (
	"fmt"
	"math/rand"
)

// Conv2d is a grouped, dilated 2D convolution over NCHW tensors.
type Conv2d struct {
	inC, outC            int
	kh, kw               int
	stride, pad, dilation int
	groups               int

	weight *Param // [outC, inC/groups, kh, kw]
	bias   *Param // nil when disabled

	half bool
	macs *float64

	x *Tensor // cached training input
}

// ConvOpts carries the non-defaulted conv geometry. Zero values mean
// stride 1, pad 0, dilation 1, groups 1, no bias.
type ConvOpts struct {
	Stride   int
	Pad      int
	Dilation int
	Groups   int
	Bias     bool
}

func NewConv2d(inC, outC, k int, opts ConvOpts, rng *rand.Rand) *Conv2d {
	if opts.Stride == 0 {
		opts.Stride = 1
	}
	if opts.Dilation == 0 {
		opts.Dilation = 1
	}
	if opts.Groups == 0 {
		opts.Groups = 1
	}
	if inC%opts.Groups != 0 || outC%opts.Groups != 0 {
		panic(fmt.Sprintf("nn: conv channels %d->%d not divisible by %d groups", inC, outC, opts.Groups))
	}

	c := &Conv2d{
		inC: inC, outC: outC,
		kh: k, kw: k,
		stride: opts.Stride, pad: opts.Pad, dilation: opts.Dilation,
		groups: opts.Groups,
		weight: newParam("conv.weight", outC, inC/opts.Groups, k, k),
	}
	heInit(c.weight.Value, (inC/opts.Groups)*k*k, rng)
	if opts.Bias {
		c.bias = newParam("conv.bias", outC)
	}
	return c
}

func (c *Conv2d) outDims(h, w int) (int, int) {
	oh := (h+2*c.pad-c.dilation*(c.kh-1)-1)/c.stride + 1
	ow := (w+2*c.pad-c.dilation*(c.kw-1)-1)/c.stride + 1
	return oh, ow
}

func (c *Conv2d) Forward(x *Tensor, train bool) *Tensor {
	n, ic, h, w := x.Dims4()
	if ic != c.inC {
		panic(fmt.Sprintf("nn: conv expects %d input channels, got %d", c.inC, ic))
	}
	oh, ow := c.outDims(h, w)
	out := NewTensor(n, c.outC, oh, ow)

	gic := c.inC / c.groups
	goc := c.outC / c.groups
	wd := c.weight.Value.Data

	for b := 0; b < n; b++ {
		for g := 0; g < c.groups; g++ {
			for oc := g * goc; oc < (g+1)*goc; oc++ {
				for oy := 0; oy < oh; oy++ {
					for ox := 0; ox < ow; ox++ {
						var acc float32
						for kc := 0; kc < gic; kc++ {
							icIdx := g*gic + kc
							for ky := 0; ky < c.kh; ky++ {
								iy := oy*c.stride - c.pad + ky*c.dilation
								if iy < 0 || iy >= h {
									continue
								}
								for kx := 0; kx < c.kw; kx++ {
									ix := ox*c.stride - c.pad + kx*c.dilation
									if ix < 0 || ix >= w {
										continue
									}
									xi := ((b*c.inC+icIdx)*h+iy)*w + ix
									wi := ((oc*gic+kc)*c.kh+ky)*c.kw + kx
									acc += x.Data[xi] * wd[wi]
								}
							}
						}
						if c.bias != nil {
							acc += c.bias.Value.Data[oc]
						}
						out.Data[((b*c.outC+oc)*oh+oy)*ow+ox] = acc
					}
				}
			}
		}
	}

	if c.macs != nil {
		*c.macs += float64(n) * float64(c.outC) * float64(oh) * float64(ow) * float64(gic) * float64(c.kh) * float64(c.kw)
	}
	if c.half {
		roundHalfTensor(out)
	}
	if train {
		c.x = x
	}
	return out
}

func (c *Conv2d) Backward(grad *Tensor) *Tensor {
	x := c.x
	n, _, h, w := x.Dims4()
	_, _, oh, ow := grad.Dims4()
	gradIn := NewTensor(x.Shape...)

	gic := c.inC / c.groups
	goc := c.outC / c.groups
	wd := c.weight.Value.Data
	gw := c.weight.Grad.Data

	for b := 0; b < n; b++ {
		for g := 0; g < c.groups; g++ {
			for oc := g * goc; oc < (g+1)*goc; oc++ {
				for oy := 0; oy < oh; oy++ {
					for ox := 0; ox < ow; ox++ {
						gout := grad.Data[((b*c.outC+oc)*oh+oy)*ow+ox]
						if c.bias != nil {
							c.bias.Grad.Data[oc] += gout
						}
						for kc := 0; kc < gic; kc++ {
							icIdx := g*gic + kc
							for ky := 0; ky < c.kh; ky++ {
								iy := oy*c.stride - c.pad + ky*c.dilation
								if iy < 0 || iy >= h {
									continue
								}
								for kx := 0; kx < c.kw; kx++ {
									ix := ox*c.stride - c.pad + kx*c.dilation
									if ix < 0 || ix >= w {
										continue
									}
									xi := ((b*c.inC+icIdx)*h+iy)*w + ix
									wi := ((oc*gic+kc)*c.kh+ky)*c.kw + kx
									gw[wi] += x.Data[xi] * gout
									gradIn.Data[xi] += wd[wi] * gout
								}
							}
						}
					}
				}
			}
		}
	}
	return gradIn
}

func (c *Conv2d) Params() []*Param {
	if c.bias != nil {
		return []*Param{c.weight, c.bias}
	}
	return []*Param{c.weight}
}

func (c *Conv2d) SetMACCounter(counter *float64) { c.macs = counter }
func (c *Conv2d) SetHalf(enabled bool)           { c.half = enabled }
