package genome

import (
	"errors"
	"reflect"
	"testing"

	"nasfit/internal/model"
)

func microGenome() model.Genome {
	return model.Genome{Cells: [][][]model.GenePair{
		{
			{{Op: 3, Input: 0}, {Op: 3, Input: 1}},
			{{Op: 3, Input: 0}, {Op: 3, Input: 1}},
			{{Op: 3, Input: 1}, {Op: 2, Input: 0}},
			{{Op: 2, Input: 0}, {Op: 5, Input: 2}},
		},
		{
			{{Op: 0, Input: 0}, {Op: 0, Input: 1}},
			{{Op: 2, Input: 2}, {Op: 0, Input: 1}},
			{{Op: 0, Input: 0}, {Op: 2, Input: 2}},
			{{Op: 2, Input: 2}, {Op: 0, Input: 1}},
		},
	}}
}

func macroGenome() model.Genome {
	return model.Genome{Phases: [][][]int{
		{{1}, {0, 1}, {1, 0, 1}},
		{{0}, {1, 1}, {0, 1, 0}},
		{{1}, {1, 0}, {1, 1, 1}},
	}}
}

func TestDecodeMicro(t *testing.T) {
	spec, err := Decode(microGenome(), FamilyMicro, nil)
	if err != nil {
		t.Fatalf("decode micro failed: %v", err)
	}
	if spec.Micro == nil || spec.Macro != nil {
		t.Fatalf("expected micro variant only, got %+v", spec)
	}
	if got := len(spec.Micro.Normal.Nodes); got != 4 {
		t.Fatalf("unexpected normal node count: %d", got)
	}
	if got := spec.Micro.Normal.Nodes[0].Ops[0].Name; got != "skip_connect" {
		t.Fatalf("unexpected op for gene [3 0]: %s", got)
	}
	if got := spec.Micro.Reduce.Nodes[1].Ops[0].Name; got != "avg_pool_3x3" {
		t.Fatalf("unexpected reduce op: %s", got)
	}
	if want := []int{2, 3, 4, 5}; !reflect.DeepEqual(spec.Micro.Normal.Concat, want) {
		t.Fatalf("unexpected concat set: got=%v want=%v", spec.Micro.Normal.Concat, want)
	}
}

func TestDecodeMicroSingleCellReusesNormal(t *testing.T) {
	g := model.Genome{Cells: [][][]model.GenePair{
		{{{Op: 3, Input: 0}, {Op: 3, Input: 1}}},
	}}
	spec, err := Decode(g, FamilyMicro, nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(spec.Micro.Normal, spec.Micro.Reduce) {
		t.Fatal("single-cell genome should reuse normal topology for reduction")
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	first, err := Decode(microGenome(), FamilyMicro, nil)
	if err != nil {
		t.Fatalf("first decode failed: %v", err)
	}
	second, err := Decode(microGenome(), FamilyMicro, nil)
	if err != nil {
		t.Fatalf("second decode failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("decoding the same genome twice produced different specs")
	}
}

func TestDecodeMicroMalformed(t *testing.T) {
	cases := map[string]model.Genome{
		"empty":             {},
		"phase encoding":    macroGenome(),
		"empty cell":        {Cells: [][][]model.GenePair{{}}},
		"one pair per node": {Cells: [][][]model.GenePair{{{{Op: 3, Input: 0}}}}},
		"op out of range":   {Cells: [][][]model.GenePair{{{{Op: 8, Input: 0}, {Op: 3, Input: 1}}}}},
		"input out of range": {Cells: [][][]model.GenePair{{
			{{Op: 3, Input: 0}, {Op: 3, Input: 2}},
		}}},
	}
	for name, g := range cases {
		if _, err := Decode(g, FamilyMicro, nil); !errors.Is(err, ErrMalformedGenome) {
			t.Fatalf("%s: expected ErrMalformedGenome, got %v", name, err)
		}
	}
}

func TestDecodeMacro(t *testing.T) {
	channels := DefaultChannelProgression(16)
	spec, err := Decode(macroGenome(), FamilyMacro, channels)
	if err != nil {
		t.Fatalf("decode macro failed: %v", err)
	}
	if spec.Macro == nil || spec.Micro != nil {
		t.Fatalf("expected macro variant only, got %+v", spec)
	}
	if got := len(spec.Macro.Phases); got != 3 {
		t.Fatalf("unexpected phase count: %d", got)
	}
	if !spec.Macro.Phases[0].Conn[0][0] {
		t.Fatal("expected phase 0 node 1 connected to node 0")
	}
	if got := spec.Macro.Channels[2]; got != (model.ChannelSpan{In: 32, Out: 64}) {
		t.Fatalf("unexpected final channel span: %+v", got)
	}
}

func TestDecodeMacroMissingChannelSpanFails(t *testing.T) {
	channels := DefaultChannelProgression(16)[:2]
	if _, err := Decode(macroGenome(), FamilyMacro, channels); !errors.Is(err, ErrMalformedGenome) {
		t.Fatalf("expected ErrMalformedGenome for short progression, got %v", err)
	}
}

func TestDecodeMacroMalformed(t *testing.T) {
	channels := DefaultChannelProgression(16)
	cases := map[string]model.Genome{
		"cell encoding": microGenome(),
		"no phases":     {},
		"bad triangle":  {Phases: [][][]int{{{1, 1}}, {{0}}, {{1}}}},
		"bad bit":       {Phases: [][][]int{{{2}}, {{0}}, {{1}}}},
	}
	for name, g := range cases {
		if _, err := Decode(g, FamilyMacro, channels); !errors.Is(err, ErrMalformedGenome) {
			t.Fatalf("%s: expected ErrMalformedGenome, got %v", name, err)
		}
	}
}

func TestDecodeUnknownFamily(t *testing.T) {
	if _, err := Decode(microGenome(), "mega", nil); !errors.Is(err, ErrUnsupportedSearchSpace) {
		t.Fatalf("expected ErrUnsupportedSearchSpace, got %v", err)
	}
}
