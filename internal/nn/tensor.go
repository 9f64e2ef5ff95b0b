// Package nn implements the trainable computation graphs the harness builds
// from decoded architecture specs: dense float32 tensors, conv/pool/linear
// layers with explicit backward passes, and the composite blocks the two
// search spaces assemble.
package nn

import "fmt"

// Tensor is a dense float32 value of rank 2 ([N, C]) or rank 4 ([N, C, H, W]).
type Tensor struct {
	Data  []float32
	Shape []int
}

func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Tensor{
		Data:  make([]float32, size),
		Shape: append([]int(nil), shape...),
	}
}

func (t *Tensor) NumElems() int {
	return len(t.Data)
}

func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// Dims4 returns the four dimensions of an NCHW tensor.
func (t *Tensor) Dims4() (n, c, h, w int) {
	if len(t.Shape) != 4 {
		panic(fmt.Sprintf("nn: expected rank-4 tensor, got shape %v", t.Shape))
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
}

// Dims2 returns the two dimensions of an NC tensor.
func (t *Tensor) Dims2() (n, c int) {
	if len(t.Shape) != 2 {
		panic(fmt.Sprintf("nn: expected rank-2 tensor, got shape %v", t.Shape))
	}
	return t.Shape[0], t.Shape[1]
}

func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// AddInto accumulates src into dst elementwise. Shapes must match.
func AddInto(dst, src *Tensor) {
	if len(dst.Data) != len(src.Data) {
		panic(fmt.Sprintf("nn: add shape mismatch: %v vs %v", dst.Shape, src.Shape))
	}
	for i, v := range src.Data {
		dst.Data[i] += v
	}
}

// ConcatChannels concatenates NCHW tensors along the channel axis.
func ConcatChannels(parts []*Tensor) *Tensor {
	n, _, h, w := parts[0].Dims4()
	total := 0
	for _, p := range parts {
		total += p.Shape[1]
	}
	out := NewTensor(n, total, h, w)
	plane := h * w
	for b := 0; b < n; b++ {
		offset := 0
		for _, p := range parts {
			c := p.Shape[1]
			src := p.Data[b*c*plane : (b+1)*c*plane]
			dst := out.Data[(b*total+offset)*plane : (b*total+offset+c)*plane]
			copy(dst, src)
			offset += c
		}
	}
	return out
}

// SplitChannels slices a channel-concatenated gradient back into per-part
// gradients with the given channel counts.
func SplitChannels(grad *Tensor, channels []int) []*Tensor {
	n, total, h, w := grad.Dims4()
	plane := h * w
	parts := make([]*Tensor, len(channels))
	for i, c := range channels {
		parts[i] = NewTensor(n, c, h, w)
	}
	for b := 0; b < n; b++ {
		offset := 0
		for i, c := range channels {
			src := grad.Data[(b*total+offset)*plane : (b*total+offset+c)*plane]
			dst := parts[i].Data[b*c*plane : (b+1)*c*plane]
			copy(dst, src)
			offset += c
		}
	}
	return parts
}
