package netbuild

import (
	"fmt"
	"math/rand"

	"nasfit/internal/model"
	"nasfit/internal/nn"
)

// The stem widens the raw input to stemMultiplier times the initial cell
// channel count before the first cell.
const stemMultiplier = 3

// microNetwork stacks cells from the two decoded topologies, with reduction
// cells at the one-third and two-third depth marks and an optional auxiliary
// classifier branching off after the second reduction.
type microNetwork struct {
	stem       *nn.Sequential
	cells      []*nn.Cell
	aux        *nn.Sequential
	auxPos     int
	pool       *nn.GlobalAvgPool
	classifier *nn.Linear

	// cell outputs of the last training forward; states[0] and states[1]
	// alias the stem output.
	states []*nn.Tensor
}

func newMicroNetwork(spec *model.MicroSpec, hp model.HyperParameters, numClasses int, input model.Shape, rng *rand.Rand) (*microNetwork, error) {
	if hp.InitChannels%2 != 0 {
		return nil, fmt.Errorf("%w: cell networks need an even channel count, got %d", ErrIncompatibleSpec, hp.InitChannels)
	}
	if input.Height < 4 || input.Width < 4 {
		return nil, fmt.Errorf("%w: input %dx%d too small for two reductions", ErrIncompatibleSpec, input.Height, input.Width)
	}
	if hp.Auxiliary && (input.Height != 32 || input.Width != 32) {
		return nil, fmt.Errorf("%w: auxiliary head needs 32x32 inputs, got %dx%d", ErrIncompatibleSpec, input.Height, input.Width)
	}
	// With a single layer the two reduction marks coincide, so the feature
	// map at the attachment point is 16x16 rather than the 8x8 the head's
	// pooling pyramid expects.
	if hp.Auxiliary && hp.Layers < 2 {
		return nil, fmt.Errorf("%w: auxiliary head needs two reduction cells, got %d layer(s)", ErrIncompatibleSpec, hp.Layers)
	}

	cStem := stemMultiplier * hp.InitChannels
	net := &microNetwork{
		stem: nn.NewSequential(
			nn.NewConv2d(input.Channels, cStem, 3, nn.ConvOpts{Pad: 1}, rng),
			nn.NewBatchNorm2d(cStem),
		),
		auxPos: -1,
		pool:   nn.NewGlobalAvgPool(),
	}

	c := hp.InitChannels
	cPrevPrev, cPrev := cStem, cStem
	prevReduction := false
	auxPos := 2 * hp.Layers / 3
	for i := 0; i < hp.Layers; i++ {
		reduction := i == hp.Layers/3 || i == 2*hp.Layers/3
		cellSpec := spec.Normal
		if reduction {
			c *= 2
			cellSpec = spec.Reduce
		}
		cell, err := nn.NewCell(cellSpec, cPrevPrev, cPrev, c, reduction, prevReduction, rng)
		if err != nil {
			return nil, err
		}
		net.cells = append(net.cells, cell)
		cPrevPrev, cPrev = cPrev, cell.Multiplier()*c
		prevReduction = reduction

		if hp.Auxiliary && i == auxPos {
			net.aux = newAuxiliaryHead(cPrev, numClasses, rng)
			net.auxPos = i
		}
	}

	net.classifier = nn.NewLinear(cPrev, numClasses, rng)
	return net, nil
}

// newAuxiliaryHead builds the side classifier attached after the second
// reduction. The pooling pyramid assumes an 8x8 feature map there.
func newAuxiliaryHead(c, numClasses int, rng *rand.Rand) *nn.Sequential {
	return nn.NewSequential(
		nn.NewReLU(),
		nn.NewAvgPool2d(5, 3, 0),
		nn.NewConv2d(c, 128, 1, nn.ConvOpts{}, rng),
		nn.NewBatchNorm2d(128),
		nn.NewReLU(),
		nn.NewConv2d(128, 768, 2, nn.ConvOpts{}, rng),
		nn.NewBatchNorm2d(768),
		nn.NewReLU(),
		nn.NewFlatten(),
		nn.NewLinear(768, numClasses, rng),
	)
}

func (m *microNetwork) Forward(x *nn.Tensor, train bool) (*nn.Tensor, *nn.Tensor) {
	s := m.stem.Forward(x, train)
	m.states = m.states[:0]
	m.states = append(m.states, s, s)

	var auxLogits *nn.Tensor
	for i, cell := range m.cells {
		out := cell.Forward(m.states[i], m.states[i+1], train)
		m.states = append(m.states, out)
		if train && m.aux != nil && i == m.auxPos {
			auxLogits = m.aux.Forward(out, train)
		}
	}

	last := m.states[len(m.states)-1]
	logits := m.classifier.Forward(m.pool.Forward(last, train), train)
	return logits, auxLogits
}

func (m *microNetwork) Backward(gradLogits, gradAux *nn.Tensor) {
	grads := make([]*nn.Tensor, len(m.states))
	g := m.pool.Backward(m.classifier.Backward(gradLogits))
	grads[len(grads)-1] = g.Clone()

	if gradAux != nil && m.aux != nil {
		accumulate(grads, m.auxPos+2, m.aux.Backward(gradAux))
	}

	for i := len(m.cells) - 1; i >= 0; i-- {
		cg := grads[i+2]
		if cg == nil {
			continue
		}
		g0, g1 := m.cells[i].Backward(cg)
		accumulate(grads, i, g0)
		accumulate(grads, i+1, g1)
	}

	// states[0] and states[1] are the same stem output.
	stemGrad := grads[0]
	if stemGrad == nil {
		stemGrad = grads[1]
	} else if grads[1] != nil {
		nn.AddInto(stemGrad, grads[1])
	}
	m.stem.Backward(stemGrad)
}

func accumulate(grads []*nn.Tensor, idx int, g *nn.Tensor) {
	if grads[idx] == nil {
		grads[idx] = g.Clone()
		return
	}
	nn.AddInto(grads[idx], g)
}

func (m *microNetwork) Params() []*nn.Param {
	var params []*nn.Param
	params = append(params, m.stem.Params()...)
	for _, cell := range m.cells {
		params = append(params, cell.Params()...)
	}
	if m.aux != nil {
		params = append(params, m.aux.Params()...)
	}
	params = append(params, m.classifier.Params()...)
	return params
}

func (m *microNetwork) Walk(fn func(nn.Layer)) {
	m.stem.Walk(fn)
	for _, cell := range m.cells {
		cell.Walk(fn)
	}
	if m.aux != nil {
		m.aux.Walk(fn)
	}
	nn.WalkLayer(m.pool, fn)
	nn.WalkLayer(m.classifier, fn)
}

func (m *microNetwork) SetDropPath(rate float64) {
	for _, cell := range m.cells {
		cell.SetDropPath(rate)
	}
}

func (m *microNetwork) SetHalf(enabled bool) {
	m.Walk(func(l nn.Layer) {
		if h, ok := l.(nn.HalfAware); ok {
			h.SetHalf(enabled)
		}
	})
}
