package ingest

import (
	"context"
	"fmt"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
	"github.com/cxrgraph/cxrgraph-api/internal/vector"
)

// DefaultLinkThreshold is the minimum entity-to-image similarity, exclusive.
const DefaultLinkThreshold = 0.3

var linkLog = logging.Component("Linker")

// Linker materializes APPEARS_IN edges between entities and images whose
// embeddings are more similar than the threshold.
type Linker struct {
	embedder  repository.TextEmbedder
	store     repository.GraphRepository
	threshold float64
}

// NewLinker creates a linker. A nil embedder disables linking.
func NewLinker(embedder repository.TextEmbedder, store repository.GraphRepository, threshold float64) *Linker {
	return &Linker{embedder: embedder, store: store, threshold: threshold}
}

// Threshold returns the configured similarity threshold.
func (l *Linker) Threshold() float64 { return l.threshold }

// EmbedEntities returns one text vector per entity name, in order. When the
// embedding collaborator fails every vector is nil.
func (l *Linker) EmbedEntities(ctx context.Context, entities []models.Entity) [][]float32 {
	vecs := make([][]float32, len(entities))
	if l.embedder == nil || len(entities) == 0 {
		return vecs
	}

	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	got, err := l.embedder.EmbedTexts(ctx, names)
	if err != nil || len(got) != len(entities) {
		linkLog.Warn("entity embeddings unavailable, skipping linking", "entities", len(entities), "err", err)
		return vecs
	}
	return got
}

// Similarity is the cosine similarity of an entity and an image vector,
// or 0 when either is missing.
func Similarity(textVec, imageVec []float32) float64 {
	if len(textVec) == 0 || len(imageVec) == 0 {
		return 0
	}
	return vector.CosineSimilarity(textVec, imageVec)
}

// Link stores an APPEARS_IN edge when similarity is above the threshold.
// It reports whether an edge was written.
func (l *Linker) Link(ctx context.Context, entity models.Entity, imagePath string, similarity float64) (bool, error) {
	if !(similarity > l.threshold) {
		return false, nil
	}
	if err := l.store.LinkEntityAppearsInImage(ctx, entity.Name, entity.Type, imagePath, similarity); err != nil {
		return false, fmt.Errorf("link %q to %s: %w", entity.Name, imagePath, err)
	}
	return true, nil
}

// LinkImage scores every entity against one image and links those above
// the threshold. textVecs must come from EmbedEntities for the same slice.
// It returns the number of edges written and the first store error.
func (l *Linker) LinkImage(ctx context.Context, entities []models.Entity, textVecs [][]float32, imagePath string, imageVec []float32) (int, error) {
	linked := 0
	for i, e := range entities {
		var tv []float32
		if i < len(textVecs) {
			tv = textVecs[i]
		}
		ok, err := l.Link(ctx, e, imagePath, Similarity(tv, imageVec))
		if err != nil {
			return linked, err
		}
		if ok {
			linked++
		}
	}
	linkLog.Debug("linked image", "path", imagePath, "entities", len(entities), "linked", linked)
	return linked, nil
}
