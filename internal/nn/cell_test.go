package nn

import (
	"math/rand"
	"testing"

	"nasfit/internal/model"
)

func testCellSpec() model.CellSpec {
	return model.CellSpec{
		Nodes: []model.NodeSpec{
			{Ops: [2]model.OpChoice{{Name: "sep_conv_3x3", Input: 0}, {Name: "skip_connect", Input: 1}}},
			{Ops: [2]model.OpChoice{{Name: "max_pool_3x3", Input: 1}, {Name: "dil_conv_3x3", Input: 2}}},
		},
		Concat: []int{2, 3},
	}
}

func TestCellForwardShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cell, err := NewCell(testCellSpec(), 4, 4, 6, false, false, rng)
	if err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	if cell.Multiplier() != 2 {
		t.Fatalf("multiplier: got=%d want=2", cell.Multiplier())
	}

	s0 := randTensor(rng, 2, 4, 8, 8)
	s1 := randTensor(rng, 2, 4, 8, 8)
	out := cell.Forward(s0, s1, true)
	want := []int{2, 12, 8, 8}
	for i, d := range want {
		if out.Shape[i] != d {
			t.Fatalf("forward shape: got=%v want=%v", out.Shape, want)
		}
	}
}

func TestReductionCellHalvesSpatial(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	cell, err := NewCell(testCellSpec(), 4, 4, 6, true, false, rng)
	if err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	out := cell.Forward(randTensor(rng, 1, 4, 8, 8), randTensor(rng, 1, 4, 8, 8), false)
	if out.Shape[2] != 4 || out.Shape[3] != 4 {
		t.Fatalf("reduction cell output shape: %v", out.Shape)
	}
}

func TestCellBackwardShapesMatchInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cell, err := NewCell(testCellSpec(), 4, 4, 6, false, false, rng)
	if err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	s0 := randTensor(rng, 2, 4, 6, 6)
	s1 := randTensor(rng, 2, 4, 6, 6)
	out := cell.Forward(s0, s1, true)

	grad := randTensor(rng, out.Shape...)
	g0, g1 := cell.Backward(grad)
	for i := range s0.Shape {
		if g0.Shape[i] != s0.Shape[i] || g1.Shape[i] != s1.Shape[i] {
			t.Fatalf("input grad shapes %v %v, want %v", g0.Shape, g1.Shape, s0.Shape)
		}
	}
}

func TestCellDropPathZeroKeepsOutputFinite(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	cell, err := NewCell(testCellSpec(), 4, 4, 6, false, false, rng)
	if err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	cell.SetDropPath(0.9)
	out := cell.Forward(randTensor(rng, 1, 4, 6, 6), randTensor(rng, 1, 4, 6, 6), true)
	for _, v := range out.Data {
		if v != v {
			t.Fatal("drop path produced NaN")
		}
	}
}

func TestMakeOpUnknownPrimitive(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	if _, err := MakeOp("bogus_op", 4, 1, rng); err == nil {
		t.Fatal("expected error for unknown primitive")
	}
}
