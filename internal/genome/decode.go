// Package genome translates raw architecture genomes into fully resolved
// architecture specs, dispatched by search-space family.
package genome

import (
	"errors"
	"fmt"

	"nasfit/internal/model"
)

var (
	// ErrMalformedGenome reports a genome whose structure does not match the
	// declared encoding family.
	ErrMalformedGenome = errors.New("malformed genome")
	// ErrUnsupportedSearchSpace reports an unknown encoding family tag.
	ErrUnsupportedSearchSpace = errors.New("unsupported search space")
)

// Search-space family tags.
const (
	FamilyMicro = "micro"
	FamilyMacro = "macro"
)

// Primitive operation table for the micro search space. Genome op indices
// index into this table, so the order is part of the encoding.
var MicroOps = []string{
	"none",
	"max_pool_3x3",
	"avg_pool_3x3",
	"skip_connect",
	"sep_conv_3x3",
	"sep_conv_5x5",
	"dil_conv_3x3",
	"dil_conv_5x5",
}

// Decode resolves a raw genome into an architecture spec for the given
// family. It is a pure function: identical inputs always yield structurally
// identical specs.
//
// The macro family additionally needs the channel progression the decoded
// phases will realize; it must carry exactly one span per phase.
func Decode(g model.Genome, family string, channels []model.ChannelSpan) (model.ArchitectureSpec, error) {
	switch family {
	case FamilyMicro:
		spec, err := decodeMicro(g)
		if err != nil {
			return model.ArchitectureSpec{}, err
		}
		return model.ArchitectureSpec{Micro: spec}, nil
	case FamilyMacro:
		spec, err := decodeMacro(g, channels)
		if err != nil {
			return model.ArchitectureSpec{}, err
		}
		return model.ArchitectureSpec{Macro: spec}, nil
	default:
		return model.ArchitectureSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedSearchSpace, family)
	}
}

// DefaultChannelProgression is the reference three-phase progression for the
// macro family: C, 2C, 4C on top of a 3-channel input.
func DefaultChannelProgression(initChannels int) []model.ChannelSpan {
	return []model.ChannelSpan{
		{In: 3, Out: initChannels},
		{In: initChannels, Out: 2 * initChannels},
		{In: 2 * initChannels, Out: 4 * initChannels},
	}
}

func decodeMicro(g model.Genome) (*model.MicroSpec, error) {
	if len(g.Phases) != 0 {
		return nil, fmt.Errorf("%w: micro genome carries phase encoding", ErrMalformedGenome)
	}
	if len(g.Cells) == 0 || len(g.Cells) > 2 {
		return nil, fmt.Errorf("%w: micro genome must hold 1 or 2 cells, got %d", ErrMalformedGenome, len(g.Cells))
	}

	normal, err := decodeCell(g.Cells[0])
	if err != nil {
		return nil, fmt.Errorf("cell 0: %w", err)
	}
	// A single-cell genome reuses the normal topology in reduction slots.
	reduce := normal
	if len(g.Cells) == 2 {
		reduce, err = decodeCell(g.Cells[1])
		if err != nil {
			return nil, fmt.Errorf("cell 1: %w", err)
		}
	}
	return &model.MicroSpec{Normal: normal, Reduce: reduce}, nil
}

func decodeCell(cell [][]model.GenePair) (model.CellSpec, error) {
	if len(cell) == 0 {
		return model.CellSpec{}, fmt.Errorf("%w: empty cell", ErrMalformedGenome)
	}

	nodes := make([]model.NodeSpec, len(cell))
	for i, node := range cell {
		if len(node) != 2 {
			return model.CellSpec{}, fmt.Errorf("%w: node %d must hold 2 gene pairs, got %d", ErrMalformedGenome, i, len(node))
		}
		for j, pair := range node {
			if pair.Op < 0 || pair.Op >= len(MicroOps) {
				return model.CellSpec{}, fmt.Errorf("%w: node %d op index %d out of range [0,%d)", ErrMalformedGenome, i, pair.Op, len(MicroOps))
			}
			// Node i may consume the two cell inputs or any earlier node.
			if pair.Input < 0 || pair.Input >= i+2 {
				return model.CellSpec{}, fmt.Errorf("%w: node %d input index %d out of range [0,%d)", ErrMalformedGenome, i, pair.Input, i+2)
			}
			nodes[i].Ops[j] = model.OpChoice{Name: MicroOps[pair.Op], Input: pair.Input}
		}
	}

	// The cell output concatenates every intermediate node.
	concat := make([]int, len(nodes))
	for i := range concat {
		concat[i] = i + 2
	}
	return model.CellSpec{Nodes: nodes, Concat: concat}, nil
}

func decodeMacro(g model.Genome, channels []model.ChannelSpan) (*model.MacroSpec, error) {
	if len(g.Cells) != 0 {
		return nil, fmt.Errorf("%w: macro genome carries cell encoding", ErrMalformedGenome)
	}
	if len(g.Phases) == 0 {
		return nil, fmt.Errorf("%w: macro genome holds no phases", ErrMalformedGenome)
	}
	if len(channels) != len(g.Phases) {
		return nil, fmt.Errorf("%w: channel progression has %d spans for %d phases", ErrMalformedGenome, len(channels), len(g.Phases))
	}

	phases := make([]model.PhaseSpec, len(g.Phases))
	for p, rows := range g.Phases {
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: phase %d holds no connection rows", ErrMalformedGenome, p)
		}
		conn := make([][]bool, len(rows))
		for n, row := range rows {
			// Triangular form: the row for node n+1 names each preceding node.
			if len(row) != n+1 {
				return nil, fmt.Errorf("%w: phase %d row %d must hold %d bits, got %d", ErrMalformedGenome, p, n, n+1, len(row))
			}
			bits := make([]bool, len(row))
			for k, bit := range row {
				switch bit {
				case 0:
					bits[k] = false
				case 1:
					bits[k] = true
				default:
					return nil, fmt.Errorf("%w: phase %d row %d bit %d is %d, want 0 or 1", ErrMalformedGenome, p, n, k, bit)
				}
			}
			conn[n] = bits
		}
		phases[p] = model.PhaseSpec{Conn: conn}
	}

	for i, span := range channels {
		if span.In <= 0 || span.Out <= 0 {
			return nil, fmt.Errorf("%w: channel span %d is %d->%d, want positive", ErrMalformedGenome, i, span.In, span.Out)
		}
	}

	spans := make([]model.ChannelSpan, len(channels))
	copy(spans, channels)
	return &model.MacroSpec{Phases: phases, Channels: spans}, nil
}
