package store

import (
	"context"

	"github.com/sells-group/catalog-dedup/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status      model.RunStatus `json:"status,omitempty"`
	SourceTable string          `json:"source_table,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the dedup pipeline.
type Store interface {
	// Source records
	ListRecords(ctx context.Context, table string) ([]*model.Record, error)
	InsertRecords(ctx context.Context, table string, records []*model.Record) error

	// Runs
	CreateRun(ctx context.Context, sourceTable string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Resolved output and review
	SaveResults(ctx context.Context, runID string, outputTable string, records []*model.Record) error
	ListResults(ctx context.Context, runID string) ([]*model.Record, error)
	UpdateResults(ctx context.Context, runID string, records []*model.Record) error
	ListReviewGroups(ctx context.Context, runID string) ([]model.ReviewGroup, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
