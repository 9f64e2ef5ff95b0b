package nn

// MaxPool2d pools NCHW tensors with a square window, remembering the argmax
// positions for the backward pass.
type MaxPool2d struct {
	k, stride, pad int

	macs   *float64
	argmax []int
	inDims []int
}

func NewMaxPool2d(k, stride, pad int) *MaxPool2d {
	return &MaxPool2d{k: k, stride: stride, pad: pad}
}

func (p *MaxPool2d) outDims(h, w int) (int, int) {
	oh := (h+2*p.pad-p.k)/p.stride + 1
	ow := (w+2*p.pad-p.k)/p.stride + 1
	return oh, ow
}

func (p *MaxPool2d) Forward(x *Tensor, train bool) *Tensor {
	n, c, h, w := x.Dims4()
	oh, ow := p.outDims(h, w)
	out := NewTensor(n, c, oh, ow)
	if train {
		p.argmax = make([]int, out.NumElems())
		p.inDims = append([]int(nil), x.Shape...)
	}

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					best := float32(0)
					bestIdx := -1
					for ky := 0; ky < p.k; ky++ {
						iy := oy*p.stride - p.pad + ky
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < p.k; kx++ {
							ix := ox*p.stride - p.pad + kx
							if ix < 0 || ix >= w {
								continue
							}
							xi := ((b*c+ch)*h+iy)*w + ix
							if bestIdx < 0 || x.Data[xi] > best {
								best = x.Data[xi]
								bestIdx = xi
							}
						}
					}
					oi := ((b*c+ch)*oh+oy)*ow + ox
					if bestIdx >= 0 {
						out.Data[oi] = best
					}
					if train {
						p.argmax[oi] = bestIdx
					}
				}
			}
		}
	}

	if p.macs != nil {
		*p.macs += float64(out.NumElems()) * float64(p.k) * float64(p.k)
	}
	return out
}

func (p *MaxPool2d) Backward(grad *Tensor) *Tensor {
	gradIn := NewTensor(p.inDims...)
	for oi, xi := range p.argmax {
		if xi >= 0 {
			gradIn.Data[xi] += grad.Data[oi]
		}
	}
	return gradIn
}

func (p *MaxPool2d) Params() []*Param { return nil }

func (p *MaxPool2d) SetMACCounter(counter *float64) { p.macs = counter }

// AvgPool2d averages over a square window, excluding padded positions from
// the divisor.
type AvgPool2d struct {
	k, stride, pad int

	macs   *float64
	inDims []int
}

func NewAvgPool2d(k, stride, pad int) *AvgPool2d {
	return &AvgPool2d{k: k, stride: stride, pad: pad}
}

func (p *AvgPool2d) outDims(h, w int) (int, int) {
	oh := (h+2*p.pad-p.k)/p.stride + 1
	ow := (w+2*p.pad-p.k)/p.stride + 1
	return oh, ow
}

func (p *AvgPool2d) window(oy, ox, h, w int) (y0, y1, x0, x1 int) {
	y0 = oy*p.stride - p.pad
	x0 = ox*p.stride - p.pad
	y1 = y0 + p.k
	x1 = x0 + p.k
	if y0 < 0 {
		y0 = 0
	}
	if x0 < 0 {
		x0 = 0
	}
	if y1 > h {
		y1 = h
	}
	if x1 > w {
		x1 = w
	}
	return
}

func (p *AvgPool2d) Forward(x *Tensor, train bool) *Tensor {
	n, c, h, w := x.Dims4()
	oh, ow := p.outDims(h, w)
	out := NewTensor(n, c, oh, ow)
	if train {
		p.inDims = append([]int(nil), x.Shape...)
	}

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					y0, y1, x0, x1 := p.window(oy, ox, h, w)
					var acc float32
					for iy := y0; iy < y1; iy++ {
						for ix := x0; ix < x1; ix++ {
							acc += x.Data[((b*c+ch)*h+iy)*w+ix]
						}
					}
					area := float32((y1 - y0) * (x1 - x0))
					if area > 0 {
						out.Data[((b*c+ch)*oh+oy)*ow+ox] = acc / area
					}
				}
			}
		}
	}

	if p.macs != nil {
		*p.macs += float64(out.NumElems()) * float64(p.k) * float64(p.k)
	}
	return out
}

func (p *AvgPool2d) Backward(grad *Tensor) *Tensor {
	gradIn := NewTensor(p.inDims...)
	n, c, h, w := gradIn.Dims4()
	_, _, oh, ow := grad.Dims4()

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					y0, y1, x0, x1 := p.window(oy, ox, h, w)
					area := float32((y1 - y0) * (x1 - x0))
					if area == 0 {
						continue
					}
					share := grad.Data[((b*c+ch)*oh+oy)*ow+ox] / area
					for iy := y0; iy < y1; iy++ {
						for ix := x0; ix < x1; ix++ {
							gradIn.Data[((b*c+ch)*h+iy)*w+ix] += share
						}
					}
				}
			}
		}
	}
	return gradIn
}

func (p *AvgPool2d) Params() []*Param { return nil }

func (p *AvgPool2d) SetMACCounter(counter *float64) { p.macs = counter }

// GlobalAvgPool reduces NCHW to NC by averaging each feature map.
type GlobalAvgPool struct {
	inDims []int
}

func NewGlobalAvgPool() *GlobalAvgPool { return &GlobalAvgPool{} }

func (p *GlobalAvgPool) Forward(x *Tensor, train bool) *Tensor {
	n, c, h, w := x.Dims4()
	p.inDims = append([]int(nil), x.Shape...)
	out := NewTensor(n, c)
	plane := h * w
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			var acc float32
			base := (b*c + ch) * plane
			for i := 0; i < plane; i++ {
				acc += x.Data[base+i]
			}
			out.Data[b*c+ch] = acc / float32(plane)
		}
	}
	return out
}

func (p *GlobalAvgPool) Backward(grad *Tensor) *Tensor {
	gradIn := NewTensor(p.inDims...)
	n, c, h, w := gradIn.Dims4()
	plane := h * w
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			share := grad.Data[b*c+ch] / float32(plane)
			base := (b*c + ch) * plane
			for i := 0; i < plane; i++ {
				gradIn.Data[base+i] = share
			}
		}
	}
	return gradIn
}

func (p *GlobalAvgPool) Params() []*Param { return nil }
