package report

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nasfit/internal/model"
	"nasfit/internal/storage"
)

func testOutcome() Outcome {
	cell := model.CellSpec{
		Nodes: []model.NodeSpec{
			{Ops: [2]model.OpChoice{{Name: "skip_connect", Input: 0}, {Name: "sep_conv_3x3", Input: 1}}},
		},
		Concat: []int{2},
	}
	return Outcome{
		Genome: model.Genome{Cells: [][][]model.GenePair{
			{{{Op: 3, Input: 0}, {Op: 4, Input: 1}}},
		}},
		Spec:          model.ArchitectureSpec{Micro: &model.MicroSpec{Normal: cell, Reduce: cell}},
		ParamMillions: 1.5,
		FLOPMillions:  120.25,
		ValidAccuracy: 88.1,
		ValidLoss:     0.37,
	}
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestReportPersistsRecord(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	r := NewReporter(store, t.TempDir(), "eval-1", discardLogger())
	record, err := r.Report(ctx, testOutcome())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if record.ID == "" {
		t.Fatal("record has no id")
	}
	if record.SchemaVersion != storage.CurrentSchemaVersion {
		t.Fatalf("record not stamped: %+v", record.VersionedRecord)
	}
	if _, err := time.Parse(time.RFC3339, record.CreatedAtUTC); err != nil {
		t.Fatalf("bad timestamp %q: %v", record.CreatedAtUTC, err)
	}

	saved, ok, err := store.GetResult(ctx, record.ID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if !ok {
		t.Fatal("record not persisted")
	}
	if saved.ValidAccuracy != 88.1 {
		t.Fatalf("unexpected persisted record: %+v", saved)
	}
}

func TestReportWritesArtifact(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	root := t.TempDir()
	r := NewReporter(store, root, "eval-2", discardLogger())
	if _, err := r.Report(ctx, testOutcome()); err != nil {
		t.Fatalf("report: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(root, "eval-2", "log.txt"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	text := string(raw)
	for _, want := range []string{
		"Genome = ",
		"Architecture = ",
		"param size = 1.500000MB",
		"flops = 120.250000MB",
		"valid_acc = 88.100000",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("artifact missing %q:\n%s", want, text)
		}
	}
}

// flakyStore fails a fixed number of saves before succeeding.
type flakyStore struct {
	*storage.MemoryStore
	failures int
}

func (s *flakyStore) SaveResult(ctx context.Context, record model.ResultRecord) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("transient store failure")
	}
	return s.MemoryStore.SaveResult(ctx, record)
}

func TestReportRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	if err := mem.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	store := &flakyStore{MemoryStore: mem, failures: 2}

	r := NewReporter(store, "", "", discardLogger())
	r.RetryMaxElapsed = 2 * time.Second
	record, err := r.Report(ctx, testOutcome())
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if _, ok, _ := mem.GetResult(ctx, record.ID); !ok {
		t.Fatal("record not persisted after retries")
	}
}

func TestReportGivesUpEventually(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	if err := mem.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	store := &flakyStore{MemoryStore: mem, failures: 1 << 30}

	r := NewReporter(store, "", "", discardLogger())
	r.RetryMaxElapsed = 200 * time.Millisecond
	if _, err := r.Report(ctx, testOutcome()); err == nil {
		t.Fatal("expected persistence error")
	}
}

func TestReportWithoutArtifactDir(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	r := NewReporter(store, "", "", discardLogger())
	if _, err := r.Report(ctx, testOutcome()); err != nil {
		t.Fatalf("report without artifact dir: %v", err)
	}
}
