// Package store persists processing-run audit records. Two backends are
// provided: SQLite for single-user setups and Postgres for shared
// deployments.
package store

import (
	"context"

	"github.com/lmeira/docsqueeze/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	DocID  int             `json:"doc_id,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for run auditing.
type Store interface {
	CreateRun(ctx context.Context, docID int) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, result *model.ProcessingResult) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	LatestRunForDoc(ctx context.Context, docID int) (*model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}
