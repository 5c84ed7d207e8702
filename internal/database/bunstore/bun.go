package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cxrgraph/cxrgraph-api/internal/database"
	"github.com/cxrgraph/cxrgraph-api/internal/database/models"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

type BunStore struct {
	db *bun.DB
}

var _ database.LedgerRepository = (*BunStore)(nil)

// Open opens the ledger database at dsn and creates its tables.
func Open(ctx context.Context, dsn string) (*BunStore, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	if _, err := sqldb.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store, err := NewBunStore(ctx, sqldb, sqlitedialect.New())
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return store, nil
}

func NewBunStore(ctx context.Context, db *sql.DB, dialect schema.Dialect) (*BunStore, error) {
	bunDB := bun.NewDB(db, dialect)

	store := &BunStore{db: bunDB}

	// Create tables if they don't exist
	if _, err := bunDB.NewCreateTable().Model((*models.IngestRun)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create ingest_runs table: %w", err)
	}
	if _, err := bunDB.NewCreateTable().Model((*models.IngestItem)(nil)).IfNotExists().
		ForeignKey(`("run_id") REFERENCES "ingest_runs" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create ingest_items table: %w", err)
	}

	return store, nil
}

// CreateRun inserts run, assigning an ID and start time when unset.
func (s *BunStore) CreateRun(ctx context.Context, run *models.IngestRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Version == 0 {
		run.Version = 1
	}
	if _, err := s.db.NewInsert().Model(run).Exec(ctx); err != nil {
		return err
	}
	return nil
}

func (s *BunStore) GetRun(ctx context.Context, id string) (*models.IngestRun, error) {
	run := new(models.IngestRun)
	if err := s.db.NewSelect().Model(run).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *BunStore) LatestRun(ctx context.Context) (*models.IngestRun, error) {
	run := new(models.IngestRun)
	if err := s.db.NewSelect().Model(run).
		Order("started_at DESC").
		OrderExpr("rowid DESC").
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *BunStore) FinishRun(ctx context.Context, run *models.IngestRun) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	res, err := s.db.NewUpdate().Model((*models.IngestRun)(nil)).
		Set("status = ?", run.Status).
		Set("documents = ?", run.Documents).
		Set("succeeded = ?", run.Succeeded).
		Set("failed = ?", run.Failed).
		Set("images = ?", run.Images).
		Set("links = ?", run.Links).
		Set("error_message = ?", run.ErrorMessage).
		Set("finished_at = ?", run.FinishedAt).
		Set("version = version + 1").
		Where("id = ? AND version = ?", run.ID, run.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.GetRun(ctx, run.ID); errors.Is(getErr, database.ErrNotFound) {
			return database.ErrNotFound
		}
		return database.ErrConcurrentUpdate
	}
	run.Version++
	return nil
}

// RecordItem inserts or replaces the item for (run, document).
func (s *BunStore) RecordItem(ctx context.Context, item *models.IngestItem) error {
	_, err := s.db.NewInsert().Model(item).
		On("CONFLICT (run_id, doc_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("stage = EXCLUDED.stage").
		Set("strategy = EXCLUDED.strategy").
		Set("entities = EXCLUDED.entities").
		Set("relationships = EXCLUDED.relationships").
		Set("images = EXCLUDED.images").
		Set("links = EXCLUDED.links").
		Set("error_log = EXCLUDED.error_log").
		Set("updated_at = current_timestamp").
		Exec(ctx)
	return err
}

func (s *BunStore) ListItems(ctx context.Context, runID string) ([]*models.IngestItem, error) {
	var items []*models.IngestItem
	if err := s.db.NewSelect().Model(&items).Where("run_id = ?", runID).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
