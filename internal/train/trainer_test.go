package train

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"testing"

	"nasfit/internal/data"
	"nasfit/internal/model"
	"nasfit/internal/netbuild"
	"nasfit/internal/nn"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestCosineLRSchedule(t *testing.T) {
	if lr := CosineLR(0.025, 0, 0, 10); lr != 0.025 {
		t.Fatalf("first epoch lr: got=%f want=0.025", lr)
	}
	if lr := CosineLR(0.025, 0, 5, 10); math.Abs(lr-0.0125) > 1e-12 {
		t.Fatalf("midpoint lr: got=%f want=0.0125", lr)
	}
	if lr := CosineLR(0.025, 0, 9, 10); lr <= 0 {
		t.Fatalf("last epoch lr must stay above the floor, got %f", lr)
	}
	prev := math.Inf(1)
	for e := 0; e < 10; e++ {
		lr := CosineLR(0.025, 0, e, 10)
		if lr >= prev {
			t.Fatalf("schedule not decreasing at epoch %d: %f >= %f", e, lr, prev)
		}
		prev = lr
	}
	if lr := CosineLR(0.025, 0, 0, 1); lr != 0.025 {
		t.Fatalf("single-epoch schedule: got=%f want=0.025", lr)
	}
}

func TestGradScaler(t *testing.T) {
	s := NewGradScaler(3)
	base := s.Scale()

	s.Update(true)
	if s.Scale() != base/2 {
		t.Fatalf("overflow must halve: got=%f want=%f", s.Scale(), base/2)
	}

	for i := 0; i < 3; i++ {
		s.Update(false)
	}
	if s.Scale() != base {
		t.Fatalf("growth interval must double: got=%f want=%f", s.Scale(), base)
	}

	for i := 0; i < 64; i++ {
		s.Update(true)
	}
	if s.Scale() < minScale {
		t.Fatalf("scale fell below floor: %f", s.Scale())
	}
}

func TestSGDStep(t *testing.T) {
	p := &nn.Param{Name: "w", Value: nn.NewTensor(1), Grad: nn.NewTensor(1)}
	p.Value.Data[0] = 1
	p.Grad.Data[0] = 1

	opt := NewSGD(0.1, 0.9, 0)
	opt.Step([]*nn.Param{p})
	if got := p.Value.Data[0]; math.Abs(float64(got)-0.9) > 1e-6 {
		t.Fatalf("first step: got=%f want=0.9", got)
	}

	p.Grad.Data[0] = 1
	opt.Step([]*nn.Param{p})
	// velocity 0.9*1 + 1 = 1.9
	if got := p.Value.Data[0]; math.Abs(float64(got)-0.71) > 1e-6 {
		t.Fatalf("second step: got=%f want=0.71", got)
	}
}

func TestSGDSkipsFrozen(t *testing.T) {
	p := &nn.Param{Name: "w", Value: nn.NewTensor(1), Grad: nn.NewTensor(1), Frozen: true}
	p.Value.Data[0] = 1
	p.Grad.Data[0] = 1
	NewSGD(0.1, 0.9, 0).Step([]*nn.Param{p})
	if p.Value.Data[0] != 1 {
		t.Fatal("frozen parameter moved")
	}
}

// stubNetwork emits constant logits favoring class 0, or NaN when poisoned.
type stubNetwork struct {
	classes int
	nan     bool
	w       *nn.Param
}

func newStubNetwork(classes int) *stubNetwork {
	return &stubNetwork{
		classes: classes,
		w:       &nn.Param{Name: "w", Value: nn.NewTensor(1), Grad: nn.NewTensor(1)},
	}
}

func (s *stubNetwork) Forward(x *nn.Tensor, train bool) (*nn.Tensor, *nn.Tensor) {
	n := x.Shape[0]
	logits := nn.NewTensor(n, s.classes)
	for b := 0; b < n; b++ {
		logits.Data[b*s.classes] = 1
		if s.nan {
			logits.Data[b*s.classes] = float32(math.NaN())
		}
	}
	return logits, nil
}

func (s *stubNetwork) Backward(gradLogits, gradAux *nn.Tensor) {
	for _, g := range gradLogits.Data {
		s.w.Grad.Data[0] += g
	}
}

func (s *stubNetwork) Params() []*nn.Param    { return []*nn.Param{s.w} }
func (s *stubNetwork) Walk(fn func(nn.Layer)) {}
func (s *stubNetwork) SetDropPath(float64)    {}
func (s *stubNetwork) SetHalf(bool)           {}

func TestTrainEpochDiverges(t *testing.T) {
	net := newStubNetwork(4)
	net.nan = true
	hp := model.HyperParameters{Epochs: 2, BatchSize: 4, Seed: 1}
	trainer := NewTrainer(net, hp, discardLogger())

	ds := data.Synthetic(16, 4, model.Shape{Channels: 1, Height: 2, Width: 2}, 1)
	loader := data.NewLoader(ds, 4, nil, 1)

	_, err := trainer.TrainEpoch(context.Background(), loader, 0)
	var diverged *DivergedError
	if !errors.As(err, &diverged) {
		t.Fatalf("got %v, want DivergedError", err)
	}
	if diverged.Epoch != 0 {
		t.Fatalf("diverged epoch: got=%d want=0", diverged.Epoch)
	}
}

func TestTrainEpochOnRealNetwork(t *testing.T) {
	cell := model.CellSpec{
		Nodes: []model.NodeSpec{
			{Ops: [2]model.OpChoice{{Name: "skip_connect", Input: 0}, {Name: "sep_conv_3x3", Input: 1}}},
		},
		Concat: []int{2},
	}
	spec := model.ArchitectureSpec{Micro: &model.MicroSpec{Normal: cell, Reduce: cell}}
	hp := model.HyperParameters{
		InitChannels: 4, Layers: 2, Epochs: 1, BatchSize: 8,
		LearningRate: 0.01, Seed: 3,
	}
	shape := model.Shape{Channels: 3, Height: 8, Width: 8}
	net, err := netbuild.Build(spec, hp, 4, shape)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ds := data.Synthetic(32, 4, shape, 3)
	loader := data.NewLoader(ds, 8, nil, 3)
	trainer := NewTrainer(net, hp, discardLogger())

	m, err := trainer.TrainEpoch(context.Background(), loader, 0)
	if err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}
	if m.Examples != 32 {
		t.Fatalf("examples: got=%d want=32", m.Examples)
	}
	if m.Accuracy < 0 || m.Accuracy > 100 {
		t.Fatalf("accuracy out of range: %f", m.Accuracy)
	}
	if math.IsNaN(m.Loss) || m.Loss <= 0 {
		t.Fatalf("bad loss: %f", m.Loss)
	}
}

func TestEvaluateCountsExactly(t *testing.T) {
	net := newStubNetwork(4)
	shape := model.Shape{Channels: 1, Height: 2, Width: 2}
	ds := data.Synthetic(21, 4, shape, 2)
	loader := data.NewLoader(ds, 5, nil, 2)

	m, err := Evaluate(context.Background(), net, loader)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if m.Examples != 21 {
		t.Fatalf("examples: got=%d want=21", m.Examples)
	}

	zeros := 0
	for _, l := range ds.Labels {
		if l == 0 {
			zeros++
		}
	}
	want := 100 * float64(zeros) / 21
	if math.Abs(m.Accuracy-want) > 1e-9 {
		t.Fatalf("accuracy: got=%f want=%f", m.Accuracy, want)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	net := newStubNetwork(4)
	ds := data.Synthetic(8, 4, model.Shape{Channels: 1, Height: 2, Width: 2}, 1)
	if _, err := Evaluate(ctx, net, data.NewLoader(ds, 4, nil, 1)); err == nil {
		t.Fatal("expected context error")
	}
}
