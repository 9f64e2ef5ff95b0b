package harness

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nasfit/internal/data"
	"nasfit/internal/genome"
	"nasfit/internal/model"
	"nasfit/internal/storage"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func microGenome() model.Genome {
	node := func(op1, in1, op2, in2 int) []model.GenePair {
		return []model.GenePair{{Op: op1, Input: in1}, {Op: op2, Input: in2}}
	}
	cell := [][]model.GenePair{
		node(3, 0, 4, 1),
		node(3, 1, 6, 2),
	}
	return model.Genome{Cells: [][][]model.GenePair{cell}}
}

func testConfig() Config {
	return Config{
		NumClasses: 4,
		InputShape: model.Shape{Channels: 3, Height: 8, Width: 8},
	}
}

func testRequest() Request {
	shape := model.Shape{Channels: 3, Height: 8, Width: 8}
	return Request{
		Genome: microGenome(),
		Family: genome.FamilyMicro,
		HP: model.HyperParameters{
			InitChannels: 4, Layers: 2, Epochs: 1, BatchSize: 8,
			LearningRate: 0.01, Seed: 5,
		},
		Train: data.Synthetic(24, 4, shape, 5),
		Valid: data.Synthetic(16, 4, shape, 6),
	}
}

func TestEvaluateEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg := testConfig()
	cfg.ExprRoot = t.TempDir()
	cfg.Save = "eval-e2e"
	ev := New(store, cfg, discardLogger())

	record, err := ev.Evaluate(ctx, testRequest())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if record.ID == "" {
		t.Fatal("record has no id")
	}
	if record.ParamMillions <= 0 {
		t.Fatalf("bad parameter count: %f", record.ParamMillions)
	}
	if record.FLOPMillions <= 0 {
		t.Fatalf("bad work estimate: %f", record.FLOPMillions)
	}
	if record.ValidAccuracy < 0 || record.ValidAccuracy > 100 {
		t.Fatalf("accuracy out of range: %f", record.ValidAccuracy)
	}

	if _, ok, _ := store.GetResult(ctx, record.ID); !ok {
		t.Fatal("record not persisted")
	}
	raw, err := os.ReadFile(filepath.Join(cfg.ExprRoot, cfg.Save, "log.txt"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(raw), "valid_acc = ") {
		t.Fatalf("artifact incomplete:\n%s", raw)
	}
}

func TestEvaluateMacroFamilyDefaults(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	req := testRequest()
	req.Genome = model.Genome{Phases: [][][]int{
		{{1}, {0, 1}},
		{{1}, {1, 0}},
		{{0}, {1, 1}},
	}}
	req.Family = genome.FamilyMacro
	req.Channels = nil

	ev := New(store, testConfig(), discardLogger())
	record, err := ev.Evaluate(ctx, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if record.ParamMillions <= 0 {
		t.Fatalf("bad parameter count: %f", record.ParamMillions)
	}
}

func TestEvaluateMalformedGenome(t *testing.T) {
	ctx := context.Background()
	ev := New(nil, testConfig(), discardLogger())

	req := testRequest()
	req.Genome = model.Genome{}
	if _, err := ev.Evaluate(ctx, req); !errors.Is(err, genome.ErrMalformedGenome) {
		t.Fatalf("got %v, want ErrMalformedGenome", err)
	}
}

func TestEvaluateUnknownFamily(t *testing.T) {
	ctx := context.Background()
	ev := New(nil, testConfig(), discardLogger())

	req := testRequest()
	req.Family = "mesoscale"
	if _, err := ev.Evaluate(ctx, req); !errors.Is(err, genome.ErrUnsupportedSearchSpace) {
		t.Fatalf("got %v, want ErrUnsupportedSearchSpace", err)
	}
}

func TestEvaluateIsolation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	ev := New(store, testConfig(), discardLogger())

	a, err := ev.Evaluate(ctx, testRequest())
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	b, err := ev.Evaluate(ctx, testRequest())
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("evaluations must produce distinct records")
	}
	if a.ValidAccuracy != b.ValidAccuracy || a.ValidLoss != b.ValidLoss {
		t.Fatalf("identical requests must score identically: %+v vs %+v", a, b)
	}
}
