package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
)

// Retrieval defaults.
const (
	DefaultTopK         = 3
	DefaultRelatedLimit = 3
	DefaultTextLimit    = 1000
	TruncationMarker    = "..."
)

var logger = logging.Component("Retriever")

// Status tells whether retrieval produced a context.
type Status int

const (
	StatusOK Status = iota
	// StatusNoMatches means the graph holds no comparable image.
	StatusNoMatches
	// StatusNoDocument means the best image has no HAS_IMAGE document.
	StatusNoDocument
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoMatches:
		return "no_matches"
	case StatusNoDocument:
		return "no_document"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of AnswerContext. Context is set only for StatusOK.
type Result struct {
	Status  Status              `json:"status"`
	Matches []models.ImageMatch `json:"matches"`
	Context *models.Context     `json:"context,omitempty"`
}

// EngineOptions bound the assembled context. Zero values use the defaults.
type EngineOptions struct {
	RelatedLimit int
	TextLimit    int
}

// Engine assembles bounded graph context for a query image embedding.
type Engine struct {
	store        repository.GraphRepository
	relatedLimit int
	textLimit    int
}

// NewEngine creates a retrieval engine over store.
func NewEngine(store repository.GraphRepository, opts EngineOptions) *Engine {
	if opts.RelatedLimit <= 0 {
		opts.RelatedLimit = DefaultRelatedLimit
	}
	if opts.TextLimit <= 0 {
		opts.TextLimit = DefaultTextLimit
	}
	return &Engine{store: store, relatedLimit: opts.RelatedLimit, textLimit: opts.TextLimit}
}

// AnswerContext finds the images nearest to query, then walks one hop from
// the best match: its document, its APPEARS_IN entities and each entity's
// strongest RELATED_TO neighbours. topK <= 0 uses DefaultTopK.
// "No matches" and "no document" are reported through Result.Status.
func (e *Engine) AnswerContext(ctx context.Context, query []float32, topK int) (*Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	matches, err := e.store.FindNearestImages(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("find nearest images: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("no similar images found")
		return &Result{Status: StatusNoMatches, Matches: []models.ImageMatch{}}, nil
	}
	best := matches[0]
	logger.Debug("nearest images", "count", len(matches), "best", best.Path, "similarity", best.Similarity)

	doc, err := e.store.GetDocumentForImage(ctx, best.Path)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Info("no document for image", "path", best.Path)
		return &Result{Status: StatusNoDocument, Matches: matches}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document for %s: %w", best.Path, err)
	}

	entities, err := e.store.GetEntitiesForImage(ctx, best.Path)
	if err != nil {
		return nil, fmt.Errorf("get entities for %s: %w", best.Path, err)
	}

	text, truncated := Truncate(doc.Text, e.textLimit)
	c := &models.Context{
		Document:        models.Document{DocID: doc.DocID, Text: text},
		Truncated:       truncated,
		ImagePath:       best.Path,
		ImageSimilarity: best.Similarity,
		Entities:        make([]models.ContextEntity, 0, len(entities)),
	}

	for _, ent := range entities {
		related, err := e.store.GetRelatedEntities(ctx, ent.Name, ent.Type)
		if errors.Is(err, repository.ErrNotFound) {
			related = nil
		} else if err != nil {
			return nil, fmt.Errorf("get related entities for %q: %w", ent.Name, err)
		}
		if len(related) > e.relatedLimit {
			related = related[:e.relatedLimit]
		}
		c.Entities = append(c.Entities, models.ContextEntity{ImageEntity: ent, Related: related})
	}

	return &Result{Status: StatusOK, Matches: matches, Context: c}, nil
}

// Truncate keeps the first limit runes of text and appends
// TruncationMarker when anything was cut.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]) + TruncationMarker, true
}
