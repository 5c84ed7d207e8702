package repository

import (
	"context"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
)

// GraphRepository defines the persistent multimodal graph.
// Every write is an idempotent merge on the node or edge key.
type GraphRepository interface {
	UpsertDocument(ctx context.Context, docID, text string) error
	UpsertEntity(ctx context.Context, name, entityType, description string) (models.EntityRef, error)
	LinkDocumentMentionsEntity(ctx context.Context, docID, name, entityType string) error
	// LinkEntityRelatedTo matches both endpoints by name only.
	LinkEntityRelatedTo(ctx context.Context, source, target, description, strength string) error
	UpsertImage(ctx context.Context, path string, vector []float32, docID string) error
	LinkDocumentHasImage(ctx context.Context, docID, path string) error
	LinkEntityAppearsInImage(ctx context.Context, name, entityType, path string, similarity float64) error

	FindNearestImages(ctx context.Context, query []float32, k int) ([]models.ImageMatch, error)
	GetDocumentForImage(ctx context.Context, path string) (*models.Document, error)
	GetEntitiesForImage(ctx context.Context, path string) ([]models.ImageEntity, error)
	GetRelatedEntities(ctx context.Context, name, entityType string) ([]models.RelatedEntity, error)

	ClearAll(ctx context.Context) error
	Close(ctx context.Context) error
}

// ImageIndex is a vector index over image feature vectors kept next to
// the graph.
type ImageIndex interface {
	UpsertImage(ctx context.Context, path string, vector []float32, docID string) error
	Search(ctx context.Context, query []float32, k int) ([]models.ImageMatch, error)
	Reset(ctx context.Context) error
	Close() error
}
