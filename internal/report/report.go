// Package report assembles evaluation results, persists them, and writes
// the per-run text artifact.
package report

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"nasfit/internal/model"
	"nasfit/internal/storage"
)

// Reporter finalizes one evaluation. Store writes retry transient failures
// with exponential backoff; the log.txt artifact is best effort and never
// fails the evaluation.
type Reporter struct {
	Store    storage.Store
	ExprRoot string
	Save     string
	Logger   *log.Logger

	// RetryMaxElapsed bounds the total time spent retrying a store write.
	RetryMaxElapsed time.Duration

	now func() time.Time
}

func NewReporter(store storage.Store, exprRoot, save string, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{
		Store:           store,
		ExprRoot:        exprRoot,
		Save:            save,
		Logger:          logger,
		RetryMaxElapsed: 5 * time.Second,
		now:             time.Now,
	}
}

// Outcome carries the measured fitness of one candidate into the report.
type Outcome struct {
	Genome        model.Genome
	Spec          model.ArchitectureSpec
	ParamMillions float64
	FLOPMillions  float64
	ValidAccuracy float64
	ValidLoss     float64
}

// Report builds the result record, persists it, and writes the text
// artifact. The returned record is valid even when persistence failed.
func (r *Reporter) Report(ctx context.Context, outcome Outcome) (model.ResultRecord, error) {
	record := model.ResultRecord{
		ID:            uuid.NewString(),
		Genome:        outcome.Genome,
		Architecture:  outcome.Spec.String(),
		ParamMillions: outcome.ParamMillions,
		FLOPMillions:  outcome.FLOPMillions,
		ValidAccuracy: outcome.ValidAccuracy,
		ValidLoss:     outcome.ValidLoss,
		CreatedAtUTC:  r.now().UTC().Format(time.RFC3339),
	}
	storage.StampVersions(&record)

	if err := r.writeArtifact(record); err != nil {
		r.Logger.Printf("result artifact not written: %v", err)
	}

	if r.Store == nil {
		return record, nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = r.RetryMaxElapsed
	err := backoff.Retry(func() error {
		return r.Store.SaveResult(ctx, record)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return record, fmt.Errorf("persist result %s: %w", record.ID, err)
	}
	return record, nil
}

// writeArtifact appends the evaluation summary to {ExprRoot}/{Save}/log.txt.
func (r *Reporter) writeArtifact(record model.ResultRecord) error {
	if r.ExprRoot == "" {
		return nil
	}
	dir := filepath.Join(r.ExprRoot, r.Save)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, "log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "Genome = %s\nArchitecture = %s\nparam size = %fMB\nflops = %fMB\nvalid_acc = %f\n",
		record.Genome, record.Architecture, record.ParamMillions, record.FLOPMillions, record.ValidAccuracy)
	return err
}
