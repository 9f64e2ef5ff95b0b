package nn

import (
	"math/rand"

	"nasfit/internal/model"
)

type cellOp struct {
	layer     Layer
	input     int
	droppable bool
}

// Cell is one decoded micro cell: two preprocessed inputs feed a small DAG of
// primitive pairs whose intermediate outputs are concatenated. It takes two
// inputs and so does not satisfy the single-input Layer interface; the
// network chains cells explicitly.
type Cell struct {
	preprocess0 Layer
	preprocess1 Layer
	nodes       [][2]cellOp
	concat      []int
	channels    int
	reduction   bool

	dropRate float64
	rng      *rand.Rand

	// per-forward caches for the backward pass
	stateShapes [][]int
	keep        [][2]float32
}

// Multiplier is the number of concatenated node outputs.
func (c *Cell) Multiplier() int { return len(c.concat) }

// NewCell realizes spec at c channels. prevC and prevPrevC are the channel
// counts of the two incoming states; prevReduction selects a factorized
// reduce for state 0 so both inputs agree spatially.
func NewCell(spec model.CellSpec, prevPrevC, prevC, c int, reduction, prevReduction bool, rng *rand.Rand) (*Cell, error) {
	cell := &Cell{
		concat:    append([]int(nil), spec.Concat...),
		channels:  c,
		reduction: reduction,
		rng:       rng,
	}
	if prevReduction {
		cell.preprocess0 = NewFactorizedReduce(prevPrevC, c, rng)
	} else {
		cell.preprocess0 = NewReLUConvBN(prevPrevC, c, 1, 1, 0, rng)
	}
	cell.preprocess1 = NewReLUConvBN(prevC, c, 1, 1, 0, rng)

	cell.nodes = make([][2]cellOp, len(spec.Nodes))
	for i, node := range spec.Nodes {
		for j, choice := range node.Ops {
			stride := 1
			if reduction && choice.Input < 2 {
				stride = 2
			}
			layer, err := MakeOp(choice.Name, c, stride, rng)
			if err != nil {
				return nil, err
			}
			_, isIdentity := layer.(Identity)
			cell.nodes[i][j] = cellOp{
				layer:     layer,
				input:     choice.Input,
				droppable: !isIdentity && choice.Name != "none",
			}
		}
	}
	return cell, nil
}

// SetDropPath sets the per-op drop probability for subsequent training
// passes.
func (c *Cell) SetDropPath(rate float64) { c.dropRate = rate }

func (c *Cell) Forward(s0, s1 *Tensor, train bool) *Tensor {
	states := make([]*Tensor, 0, len(c.nodes)+2)
	states = append(states, c.preprocess0.Forward(s0, train))
	states = append(states, c.preprocess1.Forward(s1, train))

	c.keep = make([][2]float32, len(c.nodes))
	for i, node := range c.nodes {
		var sum *Tensor
		for j := 0; j < 2; j++ {
			h := node[j].layer.Forward(states[node[j].input], train)
			scale := float32(1)
			if train && c.dropRate > 0 && node[j].droppable {
				if c.rng.Float64() < c.dropRate {
					scale = 0
				} else {
					scale = float32(1 / (1 - c.dropRate))
				}
			}
			c.keep[i][j] = scale
			if scale != 1 {
				h = scaled(h, scale)
			}
			if sum == nil {
				sum = h.Clone()
			} else {
				AddInto(sum, h)
			}
		}
		states = append(states, sum)
	}

	c.stateShapes = make([][]int, len(states))
	for i, s := range states {
		c.stateShapes[i] = append([]int(nil), s.Shape...)
	}

	parts := make([]*Tensor, len(c.concat))
	for i, idx := range c.concat {
		parts[i] = states[idx]
	}
	return ConcatChannels(parts)
}

// Backward consumes the gradient of the cell output and returns the
// gradients of the two cell inputs.
func (c *Cell) Backward(grad *Tensor) (*Tensor, *Tensor) {
	concatChannels := make([]int, len(c.concat))
	for i, idx := range c.concat {
		concatChannels[i] = c.stateShapes[idx][1]
	}
	parts := SplitChannels(grad, concatChannels)

	stateGrads := make([]*Tensor, len(c.stateShapes))
	for i, idx := range c.concat {
		stateGrads[idx] = parts[i].Clone()
	}

	for i := len(c.nodes) - 1; i >= 0; i-- {
		nodeGrad := stateGrads[i+2]
		if nodeGrad == nil {
			continue
		}
		for j := 0; j < 2; j++ {
			op := c.nodes[i][j]
			g := nodeGrad
			if c.keep[i][j] != 1 {
				g = scaled(g, c.keep[i][j])
			}
			gin := op.layer.Backward(g)
			if stateGrads[op.input] == nil {
				stateGrads[op.input] = gin.Clone()
			} else {
				AddInto(stateGrads[op.input], gin)
			}
		}
	}

	for _, idx := range []int{0, 1} {
		if stateGrads[idx] == nil {
			stateGrads[idx] = NewTensor(c.stateShapes[idx]...)
		}
	}
	g1 := c.preprocess1.Backward(stateGrads[1])
	g0 := c.preprocess0.Backward(stateGrads[0])
	return g0, g1
}

func (c *Cell) Params() []*Param {
	var params []*Param
	params = append(params, c.preprocess0.Params()...)
	params = append(params, c.preprocess1.Params()...)
	for _, node := range c.nodes {
		for j := 0; j < 2; j++ {
			params = append(params, node[j].layer.Params()...)
		}
	}
	return params
}

func (c *Cell) Walk(fn func(Layer)) {
	WalkLayer(c.preprocess0, fn)
	WalkLayer(c.preprocess1, fn)
	for _, node := range c.nodes {
		for j := 0; j < 2; j++ {
			WalkLayer(node[j].layer, fn)
		}
	}
}

func scaled(t *Tensor, f float32) *Tensor {
	out := NewTensor(t.Shape...)
	if f != 0 {
		for i, v := range t.Data {
			out.Data[i] = v * f
		}
	}
	return out
}
