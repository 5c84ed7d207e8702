package database

import (
	"context"
	"errors"

	"github.com/cxrgraph/cxrgraph-api/internal/database/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected: version mismatch")
)

// LedgerRepository persists ingest runs and their per-document items
type LedgerRepository interface {
	CreateRun(ctx context.Context, run *models.IngestRun) error
	GetRun(ctx context.Context, id string) (*models.IngestRun, error)
	LatestRun(ctx context.Context) (*models.IngestRun, error)
	// FinishRun stores the final counters. It fails with ErrConcurrentUpdate
	// when run.Version is stale.
	FinishRun(ctx context.Context, run *models.IngestRun) error

	RecordItem(ctx context.Context, item *models.IngestItem) error
	ListItems(ctx context.Context, runID string) ([]*models.IngestItem, error)

	Close() error
}
