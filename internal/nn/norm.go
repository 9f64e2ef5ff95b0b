package nn

import "math"

// BatchNorm2d normalizes each channel over the batch and spatial axes.
// Training passes use batch statistics and update the running estimates;
// evaluation passes use the running estimates only.
type BatchNorm2d struct {
	c        int
	gamma    *Param
	beta     *Param
	runMean  []float32
	runVar   []float32
	momentum float32
	eps      float32

	xhat   *Tensor
	invStd []float32
}

func NewBatchNorm2d(c int) *BatchNorm2d {
	bn := &BatchNorm2d{
		c:        c,
		gamma:    newParam("bn.gamma", c),
		beta:     newParam("bn.beta", c),
		runMean:  make([]float32, c),
		runVar:   make([]float32, c),
		momentum: 0.1,
		eps:      1e-5,
	}
	for i := 0; i < c; i++ {
		bn.gamma.Value.Data[i] = 1
		bn.runVar[i] = 1
	}
	return bn
}

func (bn *BatchNorm2d) Forward(x *Tensor, train bool) *Tensor {
	n, c, h, w := x.Dims4()
	out := NewTensor(n, c, h, w)
	plane := h * w
	count := float32(n * plane)

	if !train {
		for ch := 0; ch < c; ch++ {
			invStd := float32(1 / math.Sqrt(float64(bn.runVar[ch]+bn.eps)))
			g := bn.gamma.Value.Data[ch]
			b := bn.beta.Value.Data[ch]
			mean := bn.runMean[ch]
			for bi := 0; bi < n; bi++ {
				base := (bi*c + ch) * plane
				for i := 0; i < plane; i++ {
					out.Data[base+i] = g*(x.Data[base+i]-mean)*invStd + b
				}
			}
		}
		return out
	}

	bn.xhat = NewTensor(n, c, h, w)
	bn.invStd = make([]float32, c)
	for ch := 0; ch < c; ch++ {
		var sum float64
		for bi := 0; bi < n; bi++ {
			base := (bi*c + ch) * plane
			for i := 0; i < plane; i++ {
				sum += float64(x.Data[base+i])
			}
		}
		mean := float32(sum / float64(count))

		var sqSum float64
		for bi := 0; bi < n; bi++ {
			base := (bi*c + ch) * plane
			for i := 0; i < plane; i++ {
				d := float64(x.Data[base+i] - mean)
				sqSum += d * d
			}
		}
		variance := float32(sqSum / float64(count))
		invStd := float32(1 / math.Sqrt(float64(variance+bn.eps)))
		bn.invStd[ch] = invStd

		bn.runMean[ch] = (1-bn.momentum)*bn.runMean[ch] + bn.momentum*mean
		bn.runVar[ch] = (1-bn.momentum)*bn.runVar[ch] + bn.momentum*variance

		g := bn.gamma.Value.Data[ch]
		b := bn.beta.Value.Data[ch]
		for bi := 0; bi < n; bi++ {
			base := (bi*c + ch) * plane
			for i := 0; i < plane; i++ {
				xh := (x.Data[base+i] - mean) * invStd
				bn.xhat.Data[base+i] = xh
				out.Data[base+i] = g*xh + b
			}
		}
	}
	return out
}

func (bn *BatchNorm2d) Backward(grad *Tensor) *Tensor {
	n, c, h, w := grad.Dims4()
	plane := h * w
	count := float32(n * plane)
	gradIn := NewTensor(n, c, h, w)

	for ch := 0; ch < c; ch++ {
		var sumDy, sumDyXhat float64
		for bi := 0; bi < n; bi++ {
			base := (bi*c + ch) * plane
			for i := 0; i < plane; i++ {
				dy := float64(grad.Data[base+i])
				sumDy += dy
				sumDyXhat += dy * float64(bn.xhat.Data[base+i])
			}
		}
		bn.gamma.Grad.Data[ch] += float32(sumDyXhat)
		bn.beta.Grad.Data[ch] += float32(sumDy)

		scale := bn.gamma.Value.Data[ch] * bn.invStd[ch] / count
		for bi := 0; bi < n; bi++ {
			base := (bi*c + ch) * plane
			for i := 0; i < plane; i++ {
				dy := grad.Data[base+i]
				xh := bn.xhat.Data[base+i]
				gradIn.Data[base+i] = scale * (count*dy - float32(sumDy) - xh*float32(sumDyXhat))
			}
		}
	}
	return gradIn
}

func (bn *BatchNorm2d) Params() []*Param {
	return []*Param{bn.gamma, bn.beta}
}
