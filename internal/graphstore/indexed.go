// Package graphstore selects and composes GraphRepository backends.
package graphstore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/resilience"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
)

var logger = logging.Component("GraphStore")

// Indexed serves nearest-image search from an ImageIndex and everything
// else from the wrapped graph. The graph stays the source of truth: images
// are written there first, then indexed. Once an index write or reset
// fails for good the index is marked stale and every search is served by
// the graph scan until a reset succeeds.
type Indexed struct {
	repository.GraphRepository
	index   repository.ImageIndex
	retries int
	backoff time.Duration
	stale   atomic.Bool
}

// NewIndexed wraps graph with index.
func NewIndexed(graph repository.GraphRepository, index repository.ImageIndex) *Indexed {
	return &Indexed{GraphRepository: graph, index: index, retries: 3, backoff: 200 * time.Millisecond}
}

// WithRetry sets how often an unavailable index is retried.
func (s *Indexed) WithRetry(tries int, backoff time.Duration) *Indexed {
	s.retries = tries
	s.backoff = backoff
	return s
}

// Stale reports whether the index may disagree with the graph.
func (s *Indexed) Stale() bool { return s.stale.Load() }

func (s *Indexed) UpsertImage(ctx context.Context, path string, vec []float32, docID string) error {
	if err := s.GraphRepository.UpsertImage(ctx, path, vec, docID); err != nil {
		return err
	}
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.index.UpsertImage(ctx, path, vec, docID)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.markStale("index image "+path, err)
	return nil
}

// FindNearestImages falls back to the graph's full scan when the index is
// stale or fails, so every stored image stays reachable.
func (s *Indexed) FindNearestImages(ctx context.Context, query []float32, k int) ([]models.ImageMatch, error) {
	if s.stale.Load() {
		return s.GraphRepository.FindNearestImages(ctx, query, k)
	}
	matches, err := s.index.Search(ctx, query, k)
	if err == nil {
		return matches, nil
	}
	logger.Warn("image index search failed, using graph scan", "err", err)
	return s.GraphRepository.FindNearestImages(ctx, query, k)
}

func (s *Indexed) ClearAll(ctx context.Context) error {
	if err := s.GraphRepository.ClearAll(ctx); err != nil {
		return err
	}
	err := s.retry(ctx, s.index.Reset)
	if err == nil {
		s.stale.Store(false)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.stale.Store(true)
		return ctxErr
	}
	s.markStale("reset index", err)
	return nil
}

func (s *Indexed) Close(ctx context.Context) error {
	return errors.Join(s.GraphRepository.Close(ctx), s.index.Close())
}

func (s *Indexed) retry(ctx context.Context, fn func(context.Context) error) error {
	return resilience.RetryIf(ctx, s.retries, s.backoff, func(err error) bool {
		return errors.Is(err, repository.ErrUnavailable)
	}, fn)
}

func (s *Indexed) markStale(op string, err error) {
	if !s.stale.Swap(true) {
		logger.Warn("image index out of sync, searching the graph instead", "op", op, "err", err)
		return
	}
	logger.Debug("image index still stale", "op", op, "err", err)
}
