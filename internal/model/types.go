package model

import (
	"fmt"
	"strings"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// GenePair is one (operation index, input index) choice of a micro genome node.
type GenePair struct {
	Op    int `json:"op"`
	Input int `json:"input"`
}

// Genome is the raw encoded architecture proposed by the outer search loop.
// Exactly one encoding field is populated, matching the search-space family
// passed alongside it.
//
// Micro: Cells[c][n] holds the two (op, input) pairs of node n in cell c.
// Macro: Phases[p][n] holds the incoming-connection bits of node n+1 in phase
// p, in triangular form (row n has n+1 bits, one per preceding node).
type Genome struct {
	Cells  [][][]GenePair `json:"cells,omitempty"`
	Phases [][][]int      `json:"phases,omitempty"`
}

// ChannelSpan is one (in, out) entry of the macro channel progression.
type ChannelSpan struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// Shape describes a single input example as channels x height x width.
type Shape struct {
	Channels int `json:"channels"`
	Height   int `json:"height"`
	Width    int `json:"width"`
}

// ArchitectureSpec is the decoded, fully resolved architecture. Exactly one
// variant is non-nil; consumers switch on the variant, never on the raw
// family tag.
type ArchitectureSpec struct {
	Micro *MicroSpec `json:"micro,omitempty"`
	Macro *MacroSpec `json:"macro,omitempty"`
}

// MicroSpec holds the two reusable cell topologies of a cell-based network.
type MicroSpec struct {
	Normal CellSpec `json:"normal"`
	Reduce CellSpec `json:"reduce"`
}

// CellSpec is a resolved cell topology: each node combines two operations
// applied to earlier states, and Concat lists the node outputs that form the
// cell output.
type CellSpec struct {
	Nodes  []NodeSpec `json:"nodes"`
	Concat []int      `json:"concat"`
}

type NodeSpec struct {
	Ops [2]OpChoice `json:"ops"`
}

// OpChoice names one primitive operation and the state index it consumes.
// Indices 0 and 1 are the outputs of the two preceding cells; index i+2 is
// the output of node i within the same cell.
type OpChoice struct {
	Name  string `json:"name"`
	Input int    `json:"input"`
}

// MacroSpec holds a block-based topology: per-phase connection graphs over
// uniform conv nodes plus the channel progression realized between phases.
type MacroSpec struct {
	Phases   []PhaseSpec   `json:"phases"`
	Channels []ChannelSpan `json:"channels"`
}

// PhaseSpec describes one phase graph. Conn[n] holds the incoming-edge flags
// of node n+1 from nodes [0..n]; the phase always carries an implicit
// input -> first-node edge and a residual input -> output edge.
type PhaseSpec struct {
	Conn [][]bool `json:"conn"`
}

// HyperParameters is the flat per-evaluation configuration, supplied once at
// evaluation start and read-only afterward. Zero values are replaced by the
// reference defaults via Normalize.
type HyperParameters struct {
	InitChannels        int     `json:"init_channels"`
	Layers              int     `json:"layers"`
	Auxiliary           bool    `json:"auxiliary"`
	Cutout              bool    `json:"cutout"`
	CutoutLength        int     `json:"cutout_length"`
	DropPathProb        float64 `json:"drop_path_prob"`
	LearningRate        float64 `json:"learning_rate"`
	Momentum            float64 `json:"momentum"`
	WeightDecay         float64 `json:"weight_decay"`
	BatchSize           int     `json:"batch_size"`
	Epochs              int     `json:"epochs"`
	GradClipNorm        float64 `json:"grad_clip_norm"`
	AuxiliaryLossWeight float64 `json:"auxiliary_loss_weight"`
	Seed                int64   `json:"seed"`
}

// Reference defaults from the CIFAR search setup.
const (
	DefaultInitChannels        = 24
	DefaultLayers              = 11
	DefaultCutoutLength        = 16
	DefaultLearningRate        = 0.025
	DefaultMomentum            = 0.9
	DefaultWeightDecay         = 3e-4
	DefaultBatchSize           = 128
	DefaultGradClipNorm        = 5.0
	DefaultAuxiliaryLossWeight = 0.4
)

// Normalize fills unset numeric fields with the reference defaults and
// returns the result. The receiver is not modified.
func (hp HyperParameters) Normalize() HyperParameters {
	if hp.InitChannels <= 0 {
		hp.InitChannels = DefaultInitChannels
	}
	if hp.Layers <= 0 {
		hp.Layers = DefaultLayers
	}
	if hp.CutoutLength <= 0 {
		hp.CutoutLength = DefaultCutoutLength
	}
	if hp.LearningRate <= 0 {
		hp.LearningRate = DefaultLearningRate
	}
	if hp.Momentum <= 0 {
		hp.Momentum = DefaultMomentum
	}
	if hp.WeightDecay <= 0 {
		hp.WeightDecay = DefaultWeightDecay
	}
	if hp.BatchSize <= 0 {
		hp.BatchSize = DefaultBatchSize
	}
	if hp.Epochs <= 0 {
		hp.Epochs = 1
	}
	if hp.GradClipNorm <= 0 {
		hp.GradClipNorm = DefaultGradClipNorm
	}
	if hp.AuxiliaryLossWeight <= 0 {
		hp.AuxiliaryLossWeight = DefaultAuxiliaryLossWeight
	}
	return hp
}

// ResultRecord is the harness's sole externally visible output: the fitness
// vector of one genome plus enough context to reproduce it.
type ResultRecord struct {
	VersionedRecord
	ID            string  `json:"id"`
	Genome        Genome  `json:"genome"`
	Architecture  string  `json:"architecture"`
	ParamMillions float64 `json:"param_millions"`
	FLOPMillions  float64 `json:"flop_millions"`
	ValidAccuracy float64 `json:"valid_accuracy"`
	ValidLoss     float64 `json:"valid_loss"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

func (s ArchitectureSpec) String() string {
	switch {
	case s.Micro != nil:
		return s.Micro.String()
	case s.Macro != nil:
		return s.Macro.String()
	default:
		return "empty"
	}
}

func (s *MicroSpec) String() string {
	return fmt.Sprintf("micro(normal=%s reduce=%s)", s.Normal, s.Reduce)
}

func (c CellSpec) String() string {
	parts := make([]string, 0, len(c.Nodes))
	for _, node := range c.Nodes {
		parts = append(parts, fmt.Sprintf("(%s<-%d, %s<-%d)",
			node.Ops[0].Name, node.Ops[0].Input, node.Ops[1].Name, node.Ops[1].Input))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (s *MacroSpec) String() string {
	parts := make([]string, 0, len(s.Phases))
	for i, phase := range s.Phases {
		edges := 0
		for _, row := range phase.Conn {
			for _, on := range row {
				if on {
					edges++
				}
			}
		}
		parts = append(parts, fmt.Sprintf("phase%d(nodes=%d edges=%d ch=%d->%d)",
			i, len(phase.Conn)+1, edges, s.Channels[i].In, s.Channels[i].Out))
	}
	return "macro[" + strings.Join(parts, " ") + "]"
}

func (g Genome) String() string {
	switch {
	case len(g.Cells) > 0:
		parts := make([]string, 0, len(g.Cells))
		for _, cell := range g.Cells {
			nodes := make([]string, 0, len(cell))
			for _, node := range cell {
				pairs := make([]string, 0, len(node))
				for _, pair := range node {
					pairs = append(pairs, fmt.Sprintf("[%d %d]", pair.Op, pair.Input))
				}
				nodes = append(nodes, "["+strings.Join(pairs, " ")+"]")
			}
			parts = append(parts, "["+strings.Join(nodes, " ")+"]")
		}
		return "[" + strings.Join(parts, " ") + "]"
	case len(g.Phases) > 0:
		return fmt.Sprintf("%v", g.Phases)
	default:
		return "[]"
	}
}
