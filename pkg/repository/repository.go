package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
)

var (
	ErrRunNotFound = goerr.New("run not found")
)

// Repository defines the interface for run history persistence
type Repository interface {
	// PutRun saves a run summary, replacing any summary with the same ID
	PutRun(ctx context.Context, run *model.RunSummary) error

	// GetRun retrieves a run summary by ID. Returns ErrRunNotFound when absent.
	GetRun(ctx context.Context, id model.RunID) (*model.RunSummary, error)

	// ListRuns retrieves run summaries, most recent first
	ListRuns(ctx context.Context, offset, limit int) ([]*model.RunSummary, error)
}
