package storage

import (
	"context"

	"nasfit/internal/model"
)

// Store defines persistence operations for evaluation results.
type Store interface {
	Init(ctx context.Context) error
	SaveResult(ctx context.Context, record model.ResultRecord) error
	GetResult(ctx context.Context, id string) (model.ResultRecord, bool, error)
	ListResults(ctx context.Context) ([]model.ResultRecord, error)
}
