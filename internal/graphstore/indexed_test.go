package graphstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cxrgraph/cxrgraph-api/internal/config"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/sqlgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	upserted  []string
	matches   []models.ImageMatch
	searchErr error
	// upsertErrs fail the next calls in order before upsertErr applies.
	upsertErrs []error
	upsertErr  error
	upsertCall int
	resetErr   error
	resets     int
	closed     bool
}

func (f *fakeIndex) UpsertImage(_ context.Context, path string, _ []float32, _ string) error {
	f.upsertCall++
	if len(f.upsertErrs) > 0 {
		err := f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		return err
	}
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, path)
	return nil
}

func (f *fakeIndex) Search(context.Context, []float32, int) ([]models.ImageMatch, error) {
	return f.matches, f.searchErr
}

func (f *fakeIndex) Reset(context.Context) error {
	f.resets++
	return f.resetErr
}

func (f *fakeIndex) Close() error {
	f.closed = true
	return nil
}

func newIndexed(t *testing.T, idx *fakeIndex) *Indexed {
	t.Helper()
	g, err := sqlgraph.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	s := NewIndexed(g, idx).WithRetry(3, 0)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestIndexedWritesGraphThenIndex(t *testing.T) {
	ctx := context.Background()
	idx := &fakeIndex{}
	s := newIndexed(t, idx)

	require.NoError(t, s.UpsertImage(ctx, "a.png", []float32{1, 0}, "doc_1"))
	assert.Equal(t, []string{"a.png"}, idx.upserted)

	// A graph failure must not reach the index.
	err := s.UpsertImage(ctx, "b.png", []float32{1, 0, 0}, "doc_1")
	require.Error(t, err)
	assert.Equal(t, []string{"a.png"}, idx.upserted)
}

func TestIndexedRetriesUnavailableIndex(t *testing.T) {
	down := fmt.Errorf("qdrant upsert: connection refused: %w", repository.ErrUnavailable)
	idx := &fakeIndex{upsertErrs: []error{down, down}}
	s := newIndexed(t, idx)

	require.NoError(t, s.UpsertImage(context.Background(), "a.png", []float32{1, 0}, "doc_1"))
	assert.Equal(t, 3, idx.upsertCall)
	assert.Equal(t, []string{"a.png"}, idx.upserted)
	assert.False(t, s.Stale())
}

func TestIndexedFailedIndexWriteKeepsImageSearchable(t *testing.T) {
	ctx := context.Background()
	// The index answers searches but never received the image.
	idx := &fakeIndex{
		upsertErr: fmt.Errorf("qdrant: connection refused: %w", repository.ErrUnavailable),
		matches:   []models.ImageMatch{},
	}
	s := newIndexed(t, idx)

	require.NoError(t, s.UpsertImage(ctx, "a.png", []float32{1, 0}, "doc_1"))
	assert.Equal(t, 3, idx.upsertCall)
	assert.True(t, s.Stale())

	got, err := s.FindNearestImages(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.png", got[0].Path)
}

func TestIndexedPermanentIndexErrorIsNotRetried(t *testing.T) {
	idx := &fakeIndex{upsertErr: fmt.Errorf("bad vector: %w", repository.ErrDimensionMismatch)}
	s := newIndexed(t, idx)

	require.NoError(t, s.UpsertImage(context.Background(), "a.png", []float32{1, 0}, "doc_1"))
	assert.Equal(t, 1, idx.upsertCall)
	assert.True(t, s.Stale())
}

func TestIndexedFailedResetDropsStalePoints(t *testing.T) {
	ctx := context.Background()
	idx := &fakeIndex{
		resetErr: fmt.Errorf("qdrant delete collection: %w", repository.ErrUnavailable),
		matches:  []models.ImageMatch{{Path: "old.png", Similarity: 0.9}},
	}
	s := newIndexed(t, idx)
	require.NoError(t, s.UpsertImage(ctx, "old.png", []float32{1, 0}, "doc_1"))

	require.NoError(t, s.ClearAll(ctx))
	assert.Equal(t, 3, idx.resets)
	assert.True(t, s.Stale())

	got, err := s.FindNearestImages(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	// A later successful reset brings the index back.
	idx.resetErr = nil
	idx.matches = []models.ImageMatch{{Path: "fresh.png", Similarity: 0.5}}
	require.NoError(t, s.ClearAll(ctx))
	assert.False(t, s.Stale())
	got, err = s.FindNearestImages(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh.png", got[0].Path)
}

func TestIndexedSearchUsesIndex(t *testing.T) {
	idx := &fakeIndex{matches: []models.ImageMatch{{Path: "from-index.png", Similarity: 0.8}}}
	s := newIndexed(t, idx)

	got, err := s.FindNearestImages(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "from-index.png", got[0].Path)
}

func TestIndexedSearchFallsBackToGraph(t *testing.T) {
	ctx := context.Background()
	idx := &fakeIndex{searchErr: errors.New("timeout")}
	s := newIndexed(t, idx)
	require.NoError(t, s.UpsertImage(ctx, "a.png", []float32{1, 0}, "doc_1"))

	got, err := s.FindNearestImages(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.png", got[0].Path)
}

func TestIndexedClearAndClose(t *testing.T) {
	idx := &fakeIndex{}
	g, err := sqlgraph.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	s := NewIndexed(g, idx)

	require.NoError(t, s.ClearAll(context.Background()))
	assert.Equal(t, 1, idx.resets)

	require.NoError(t, s.Close(context.Background()))
	assert.True(t, idx.closed)
}

func TestOpenSQLite(t *testing.T) {
	cfg := &config.Config{GraphBackend: config.BackendSQLite, SQLitePath: ":memory:"}

	g, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer g.Close(context.Background())

	_, isSQL := g.(*sqlgraph.Store)
	assert.True(t, isSQL)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{GraphBackend: "mongo"})
	assert.Error(t, err)
}
