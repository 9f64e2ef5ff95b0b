package netbuild

import (
	"fmt"
	"math/rand"

	"nasfit/internal/model"
	"nasfit/internal/nn"
)

// phaseNode is one uniform conv node of a phase graph. An empty inputs list
// means the node reads the projected phase input.
type phaseNode struct {
	layer  *nn.Sequential
	inputs []int
}

// phaseBlock realizes one phase: a 1x1 projection to the phase width, the
// connection graph of 3x3 conv nodes, and a residual edge from the projected
// input to the output.
type phaseBlock struct {
	proj     *nn.Sequential
	nodes    []phaseNode
	outNodes []int
}

func newPhaseBlock(spec model.PhaseSpec, inC, outC int, rng *rand.Rand) *phaseBlock {
	b := &phaseBlock{
		proj: convBNReLU(inC, outC, 1, 0, rng),
	}

	numNodes := len(spec.Conn) + 1
	hasOutgoing := make([]bool, numNodes)
	b.nodes = make([]phaseNode, numNodes)
	for j := 0; j < numNodes; j++ {
		node := phaseNode{layer: convBNReLU(outC, outC, 3, 1, rng)}
		if j > 0 {
			for i, on := range spec.Conn[j-1] {
				if on {
					node.inputs = append(node.inputs, i)
					hasOutgoing[i] = true
				}
			}
		}
		b.nodes[j] = node
	}
	for j := 0; j < numNodes; j++ {
		if !hasOutgoing[j] {
			b.outNodes = append(b.outNodes, j)
		}
	}
	return b
}

func convBNReLU(inC, outC, k, pad int, rng *rand.Rand) *nn.Sequential {
	return nn.NewSequential(
		nn.NewConv2d(inC, outC, k, nn.ConvOpts{Pad: pad}, rng),
		nn.NewBatchNorm2d(outC),
		nn.NewReLU(),
	)
}

func (b *phaseBlock) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	in := b.proj.Forward(x, train)
	outs := make([]*nn.Tensor, len(b.nodes))
	for j, node := range b.nodes {
		xin := in
		if len(node.inputs) > 0 {
			sum := outs[node.inputs[0]].Clone()
			for _, i := range node.inputs[1:] {
				nn.AddInto(sum, outs[i])
			}
			xin = sum
		}
		outs[j] = node.layer.Forward(xin, train)
	}

	out := in.Clone()
	for _, j := range b.outNodes {
		nn.AddInto(out, outs[j])
	}
	return out
}

func (b *phaseBlock) Backward(grad *nn.Tensor) *nn.Tensor {
	nodeGrads := make([]*nn.Tensor, len(b.nodes))
	inGrad := grad.Clone()
	for _, j := range b.outNodes {
		accumulate(nodeGrads, j, grad)
	}

	for j := len(b.nodes) - 1; j >= 0; j-- {
		if nodeGrads[j] == nil {
			continue
		}
		g := b.nodes[j].layer.Backward(nodeGrads[j])
		if len(b.nodes[j].inputs) == 0 {
			nn.AddInto(inGrad, g)
			continue
		}
		for _, i := range b.nodes[j].inputs {
			accumulate(nodeGrads, i, g)
		}
	}
	return b.proj.Backward(inGrad)
}

func (b *phaseBlock) Params() []*nn.Param {
	params := b.proj.Params()
	for _, node := range b.nodes {
		params = append(params, node.layer.Params()...)
	}
	return params
}

func (b *phaseBlock) Walk(fn func(nn.Layer)) {
	b.proj.Walk(fn)
	for _, node := range b.nodes {
		node.layer.Walk(fn)
	}
}

// macroNetwork chains phase blocks with 2x2 max-pool downsampling between
// them. It carries no auxiliary head; drop path does not apply to the
// uniform-node topology.
type macroNetwork struct {
	phases     []*phaseBlock
	pools      []*nn.MaxPool2d
	gap        *nn.GlobalAvgPool
	classifier *nn.Linear
}

func newMacroNetwork(spec *model.MacroSpec, hp model.HyperParameters, numClasses int, input model.Shape, rng *rand.Rand) (*macroNetwork, error) {
	if len(spec.Phases) == 0 {
		return nil, fmt.Errorf("%w: no phases", ErrIncompatibleSpec)
	}
	if spec.Channels[0].In != input.Channels {
		return nil, fmt.Errorf("%w: channel progression starts at %d, input has %d",
			ErrIncompatibleSpec, spec.Channels[0].In, input.Channels)
	}
	for i := 1; i < len(spec.Channels); i++ {
		if spec.Channels[i].In != spec.Channels[i-1].Out {
			return nil, fmt.Errorf("%w: channel progression broken at phase %d (%d != %d)",
				ErrIncompatibleSpec, i, spec.Channels[i].In, spec.Channels[i-1].Out)
		}
	}
	minDim := 1 << uint(len(spec.Phases)-1)
	if input.Height < minDim || input.Width < minDim {
		return nil, fmt.Errorf("%w: input %dx%d too small for %d pooling stages",
			ErrIncompatibleSpec, input.Height, input.Width, len(spec.Phases)-1)
	}

	net := &macroNetwork{gap: nn.NewGlobalAvgPool()}
	for i, phase := range spec.Phases {
		net.phases = append(net.phases, newPhaseBlock(phase, spec.Channels[i].In, spec.Channels[i].Out, rng))
		if i < len(spec.Phases)-1 {
			net.pools = append(net.pools, nn.NewMaxPool2d(2, 2, 0))
		}
	}
	net.classifier = nn.NewLinear(spec.Channels[len(spec.Channels)-1].Out, numClasses, rng)
	return net, nil
}

func (m *macroNetwork) Forward(x *nn.Tensor, train bool) (*nn.Tensor, *nn.Tensor) {
	for i, phase := range m.phases {
		x = phase.Forward(x, train)
		if i < len(m.pools) {
			x = m.pools[i].Forward(x, train)
		}
	}
	logits := m.classifier.Forward(m.gap.Forward(x, train), train)
	return logits, nil
}

func (m *macroNetwork) Backward(gradLogits, _ *nn.Tensor) {
	g := m.gap.Backward(m.classifier.Backward(gradLogits))
	for i := len(m.phases) - 1; i >= 0; i-- {
		if i < len(m.pools) {
			g = m.pools[i].Backward(g)
		}
		g = m.phases[i].Backward(g)
	}
}

func (m *macroNetwork) Params() []*nn.Param {
	var params []*nn.Param
	for _, phase := range m.phases {
		params = append(params, phase.Params()...)
	}
	params = append(params, m.classifier.Params()...)
	return params
}

func (m *macroNetwork) Walk(fn func(nn.Layer)) {
	for _, phase := range m.phases {
		phase.Walk(fn)
	}
	for _, pool := range m.pools {
		nn.WalkLayer(pool, fn)
	}
	nn.WalkLayer(m.gap, fn)
	nn.WalkLayer(m.classifier, fn)
}

func (m *macroNetwork) SetDropPath(rate float64) {}

func (m *macroNetwork) SetHalf(enabled bool) {
	m.Walk(func(l nn.Layer) {
		if h, ok := l.(nn.HalfAware); ok {
			h.SetHalf(enabled)
		}
	})
}
