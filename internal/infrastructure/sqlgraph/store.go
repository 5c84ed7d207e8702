// Package sqlgraph is an embedded GraphRepository on SQLite through bun.
// Every merge key is backed by a unique index, so repeated and concurrent
// upserts converge on one row.
package sqlgraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
	"github.com/cxrgraph/cxrgraph-api/internal/vector"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var logger = logging.Component("SQLGraph")

// Store implements repository.GraphRepository.
type Store struct {
	db *bun.DB
}

var _ repository.GraphRepository = (*Store)(nil)

// Open opens (or creates) a SQLite graph at dsn. Use ":memory:" for a
// throwaway graph.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps an
	// in-memory database alive for the life of the store.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	if _, err := sqldb.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := sqldb.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store, err := NewStore(ctx, bun.NewDB(sqldb, sqlitedialect.New()))
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return store, nil
}

// NewStore creates the graph tables on db if needed.
func NewStore(ctx context.Context, db *bun.DB) (*Store, error) {
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to create graph table: %w", err)
		}
	}
	if _, err := db.NewCreateIndex().Model((*entityRow)(nil)).Index("graph_entities_name_idx").
		Column("name").IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create entity name index: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) UpsertDocument(ctx context.Context, docID, text string) error {
	row := &documentRow{DocID: docID, Text: text}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (doc_id) DO UPDATE").
		Set("text = EXCLUDED.text").
		Exec(ctx)
	return wrap("upsert document", err)
}

func (s *Store) UpsertEntity(ctx context.Context, name, entityType, description string) (models.EntityRef, error) {
	if entityType == "" {
		entityType = models.UnknownEntityType
	}
	row := &entityRow{Name: name, Type: entityType, Description: description}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (name, type) DO UPDATE").
		Set("description = EXCLUDED.description").
		Exec(ctx)
	if err != nil {
		return models.EntityRef{}, wrap("upsert entity", err)
	}
	return models.EntityRef{Name: name, Type: entityType}, nil
}

func (s *Store) LinkDocumentMentionsEntity(ctx context.Context, docID, name, entityType string) error {
	if entityType == "" {
		entityType = models.UnknownEntityType
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		documentID, err := documentIDByDocID(ctx, tx, docID)
		if err != nil {
			return err
		}
		entityID, err := entityIDByKey(ctx, tx, name, entityType)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(&mentionRow{DocumentID: documentID, EntityID: entityID}).
			On("CONFLICT (document_id, entity_id) DO NOTHING").
			Exec(ctx)
		return err
	})
	return wrap("link mentions", err)
}

func (s *Store) LinkEntityRelatedTo(ctx context.Context, source, target, description, strength string) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sources, err := entityIDsByName(ctx, tx, source)
		if err != nil {
			return err
		}
		targets, err := entityIDsByName(ctx, tx, target)
		if err != nil {
			return err
		}
		if len(sources) > 1 || len(targets) > 1 {
			logger.Debug("relationship endpoint name matches several entities",
				"source", source, "sources", len(sources), "target", target, "targets", len(targets))
		}

		score := models.StrengthScore(strength)
		for _, sid := range sources {
			for _, tid := range targets {
				row := &relatedRow{
					SourceID:      sid,
					TargetID:      tid,
					Description:   description,
					Strength:      strength,
					StrengthScore: score,
				}
				if _, err := tx.NewInsert().Model(row).
					On("CONFLICT (source_id, target_id, description, strength) DO NOTHING").
					Exec(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return wrap("link related", err)
}

func (s *Store) UpsertImage(ctx context.Context, path string, vec []float32, docID string) error {
	if len(vec) == 0 {
		return fmt.Errorf("upsert image %s: empty feature vector: %w", path, repository.ErrDimensionMismatch)
	}
	encoded, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("upsert image %s: failed to encode vector: %w", path, err)
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var dims []int
		if err := tx.NewSelect().Model((*imageRow)(nil)).
			Column("dim").
			Where("path != ?", path).
			Limit(1).
			Scan(ctx, &dims); err != nil {
			return err
		}
		if len(dims) > 0 && dims[0] != len(vec) {
			return fmt.Errorf("stored %d, got %d: %w", dims[0], len(vec), repository.ErrDimensionMismatch)
		}

		row := &imageRow{Path: path, Vector: string(encoded), Dim: len(vec), DocID: docID}
		_, err := tx.NewInsert().Model(row).
			On("CONFLICT (path) DO UPDATE").
			Set("vector = EXCLUDED.vector").
			Set("dim = EXCLUDED.dim").
			Set("doc_id = EXCLUDED.doc_id").
			Exec(ctx)
		return err
	})
	return wrap("upsert image", err)
}

func (s *Store) LinkDocumentHasImage(ctx context.Context, docID, path string) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		documentID, err := documentIDByDocID(ctx, tx, docID)
		if err != nil {
			return err
		}
		imageID, err := imageIDByPath(ctx, tx, path)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(&hasImageRow{DocumentID: documentID, ImageID: imageID}).
			On("CONFLICT (document_id, image_id) DO NOTHING").
			Exec(ctx)
		return err
	})
	return wrap("link has image", err)
}

func (s *Store) LinkEntityAppearsInImage(ctx context.Context, name, entityType, path string, similarity float64) error {
	if entityType == "" {
		entityType = models.UnknownEntityType
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		entityID, err := entityIDByKey(ctx, tx, name, entityType)
		if err != nil {
			return err
		}
		imageID, err := imageIDByPath(ctx, tx, path)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(&appearsInRow{EntityID: entityID, ImageID: imageID, Similarity: similarity}).
			On("CONFLICT (entity_id, image_id) DO UPDATE").
			Set("similarity = EXCLUDED.similarity").
			Exec(ctx)
		return err
	})
	return wrap("link appears in", err)
}

// FindNearestImages scans every image in insertion order, so equal
// similarities keep insertion order.
func (s *Store) FindNearestImages(ctx context.Context, query []float32, k int) ([]models.ImageMatch, error) {
	if k <= 0 {
		return []models.ImageMatch{}, nil
	}

	var rows []imageRow
	if err := s.db.NewSelect().Model(&rows).
		Column("path", "vector").
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, wrap("find nearest images", err)
	}

	candidates := make([]vector.Candidate, 0, len(rows))
	for _, row := range rows {
		var vec []float32
		if err := json.Unmarshal([]byte(row.Vector), &vec); err != nil {
			logger.Warn("skipping image with unreadable vector", "path", row.Path, "err", err)
			continue
		}
		candidates = append(candidates, vector.Candidate{Key: row.Path, Vector: vec})
	}

	scored, skipped := vector.TopK(query, candidates, k)
	if skipped > 0 {
		logger.Warn("skipped images with a different dimension", "count", skipped, "query_dim", len(query))
	}

	matches := make([]models.ImageMatch, len(scored))
	for i, sc := range scored {
		matches[i] = models.ImageMatch{Path: sc.Key, Similarity: sc.Score}
	}
	return matches, nil
}

func (s *Store) GetDocumentForImage(ctx context.Context, path string) (*models.Document, error) {
	row := new(documentRow)
	err := s.db.NewSelect().Model(row).
		Join("JOIN graph_has_image AS gh ON gh.document_id = gd.id").
		Join("JOIN graph_images AS gi ON gi.id = gh.image_id").
		Where("gi.path = ?", path).
		Order("gd.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrap("get document for image", err)
	}
	return &models.Document{DocID: row.DocID, Text: row.Text}, nil
}

type imageEntityScan struct {
	Name        string
	Type        string
	Description string
	Similarity  float64
}

func (s *Store) GetEntitiesForImage(ctx context.Context, path string) ([]models.ImageEntity, error) {
	var rows []imageEntityScan
	err := s.db.NewSelect().
		TableExpr("graph_appears_in AS ga").
		ColumnExpr("ge.name, ge.type, ge.description, ga.similarity").
		Join("JOIN graph_entities AS ge ON ge.id = ga.entity_id").
		Join("JOIN graph_images AS gi ON gi.id = ga.image_id").
		Where("gi.path = ?", path).
		OrderExpr("ga.similarity DESC, ge.id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, wrap("get entities for image", err)
	}

	out := make([]models.ImageEntity, len(rows))
	for i, r := range rows {
		out[i] = models.ImageEntity{
			Entity:     models.Entity{Name: r.Name, Type: r.Type, Description: r.Description},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

type relatedScan struct {
	EdgeID        int64
	Name          string
	Type          string
	Description   string
	RelDesc       string
	Strength      string
	StrengthScore float64
}

// GetRelatedEntities follows RELATED_TO in both directions.
func (s *Store) GetRelatedEntities(ctx context.Context, name, entityType string) ([]models.RelatedEntity, error) {
	if entityType == "" {
		entityType = models.UnknownEntityType
	}
	entityID, err := entityIDByKey(ctx, s.db, name, entityType)
	if err != nil {
		return nil, wrap("get related entities", err)
	}

	var outgoing, incoming []relatedScan
	if err := s.relatedQuery(entityID, "gr.source_id", "gr.target_id").Scan(ctx, &outgoing); err != nil {
		return nil, wrap("get related entities", err)
	}
	if err := s.relatedQuery(entityID, "gr.target_id", "gr.source_id").Scan(ctx, &incoming); err != nil {
		return nil, wrap("get related entities", err)
	}

	seen := make(map[int64]bool, len(outgoing)+len(incoming))
	var rows []relatedScan
	for _, r := range append(outgoing, incoming...) {
		if seen[r.EdgeID] {
			continue
		}
		seen[r.EdgeID] = true
		rows = append(rows, r)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].StrengthScore != rows[j].StrengthScore {
			return rows[i].StrengthScore > rows[j].StrengthScore
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].EdgeID < rows[j].EdgeID
	})

	out := make([]models.RelatedEntity, len(rows))
	for i, r := range rows {
		out[i] = models.RelatedEntity{
			Entity:              models.Entity{Name: r.Name, Type: r.Type, Description: r.Description},
			RelationDescription: r.RelDesc,
			Strength:            r.Strength,
			StrengthScore:       r.StrengthScore,
		}
	}
	return out, nil
}

func (s *Store) relatedQuery(entityID int64, self, other string) *bun.SelectQuery {
	return s.db.NewSelect().
		TableExpr("graph_related AS gr").
		ColumnExpr("gr.id AS edge_id, ge.name, ge.type, ge.description").
		ColumnExpr("gr.description AS rel_desc, gr.strength, gr.strength_score").
		Join("JOIN graph_entities AS ge ON ge.id = " + other).
		Where(self+" = ?", entityID)
}

func (s *Store) ClearAll(ctx context.Context) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := tx.NewDelete().Model(tables[i]).Where("1 = 1").Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		logger.Info("graph cleared")
	}
	return wrap("clear all", err)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

func documentIDByDocID(ctx context.Context, db bun.IDB, docID string) (int64, error) {
	var id int64
	err := db.NewSelect().Model((*documentRow)(nil)).Column("id").Where("doc_id = ?", docID).Scan(ctx, &id)
	if err != nil {
		return 0, notFound(err, "document %q", docID)
	}
	return id, nil
}

func entityIDByKey(ctx context.Context, db bun.IDB, name, entityType string) (int64, error) {
	var id int64
	err := db.NewSelect().Model((*entityRow)(nil)).Column("id").
		Where("name = ? AND type = ?", name, entityType).
		Scan(ctx, &id)
	if err != nil {
		return 0, notFound(err, "entity (%q, %q)", name, entityType)
	}
	return id, nil
}

func entityIDsByName(ctx context.Context, db bun.IDB, name string) ([]int64, error) {
	var ids []int64
	if err := db.NewSelect().Model((*entityRow)(nil)).Column("id").
		Where("name = ?", name).
		Order("id ASC").
		Scan(ctx, &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("entity named %q: %w", name, repository.ErrNotFound)
	}
	return ids, nil
}

func imageIDByPath(ctx context.Context, db bun.IDB, path string) (int64, error) {
	var id int64
	err := db.NewSelect().Model((*imageRow)(nil)).Column("id").Where("path = ?", path).Scan(ctx, &id)
	if err != nil {
		return 0, notFound(err, "image %q", path)
	}
	return id, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, repository.ErrNotFound)...)
	}
	return err
}

// wrap tags the error with the operation and classifies sqlite busy and
// closed-connection failures as unavailable.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrDimensionMismatch):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.DeadlineExceeded), isBusy(err):
		return fmt.Errorf("%s: %w: %v", op, repository.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
