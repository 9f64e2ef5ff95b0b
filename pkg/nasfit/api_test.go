package nasfit

import (
	"context"
	"io"
	"log"
	"testing"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{
		StoreKind:  "memory",
		ExprRoot:   t.TempDir(),
		Save:       "api-test",
		NumClasses: 4,
		InputShape: Shape{Channels: 3, Height: 8, Width: 8},
		Logger:     log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientEvaluateAndList(t *testing.T) {
	ctx := context.Background()
	client := testClient(t)

	req := EvaluateRequest{
		Genome: Genome{Cells: [][][]GenePair{{
			{{Op: 3, Input: 0}, {Op: 4, Input: 1}},
		}}},
		Family: FamilyMicro,
		HP: HyperParameters{
			InitChannels: 4, Layers: 2, Epochs: 1, BatchSize: 8,
			LearningRate: 0.01, Seed: 9,
		},
		SyntheticExamples: 24,
	}

	record, err := client.Evaluate(ctx, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if record.ID == "" {
		t.Fatal("record has no id")
	}

	results, err := client.Results(ctx)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 || results[0].ID != record.ID {
		t.Fatalf("unexpected results: %+v", results)
	}

	got, ok, err := client.Result(ctx, record.ID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if !ok || got.ID != record.ID {
		t.Fatalf("lookup failed: ok=%v record=%+v", ok, got)
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	if _, err := New(Options{StoreKind: "redis"}); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}
