package sqlgraph

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	return s
}

func count(t *testing.T, s *Store, model any) int {
	t.Helper()
	n, err := s.db.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

// unit returns a 2-d unit vector whose cosine with (1, 0) is sim.
func unit(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func TestIdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.UpsertDocument(ctx, "doc_1", "Heart size normal."))
		_, err := s.UpsertEntity(ctx, "HEART", "ANATOMY", "cardiac silhouette")
		require.NoError(t, err)
		require.NoError(t, s.LinkDocumentMentionsEntity(ctx, "doc_1", "HEART", "ANATOMY"))
		require.NoError(t, s.UpsertImage(ctx, "img/1.png", []float32{1, 0}, "doc_1"))
		require.NoError(t, s.LinkDocumentHasImage(ctx, "doc_1", "img/1.png"))
		require.NoError(t, s.LinkEntityAppearsInImage(ctx, "HEART", "ANATOMY", "img/1.png", 0.5))
	}

	assert.Equal(t, 1, count(t, s, (*documentRow)(nil)))
	assert.Equal(t, 1, count(t, s, (*entityRow)(nil)))
	assert.Equal(t, 1, count(t, s, (*imageRow)(nil)))
	assert.Equal(t, 1, count(t, s, (*mentionRow)(nil)))
	assert.Equal(t, 1, count(t, s, (*hasImageRow)(nil)))
	assert.Equal(t, 1, count(t, s, (*appearsInRow)(nil)))
}

func TestUpsertOverwritesProperties(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertDocument(ctx, "doc_1", "old"))
	require.NoError(t, s.UpsertDocument(ctx, "doc_1", "new"))
	_, err := s.UpsertEntity(ctx, "LUNG", "ANATOMY", "old")
	require.NoError(t, err)
	_, err = s.UpsertEntity(ctx, "LUNG", "ANATOMY", "new")
	require.NoError(t, err)
	require.NoError(t, s.UpsertImage(ctx, "a.png", []float32{1, 0}, "doc_1"))
	require.NoError(t, s.LinkDocumentHasImage(ctx, "doc_1", "a.png"))
	require.NoError(t, s.LinkEntityAppearsInImage(ctx, "LUNG", "ANATOMY", "a.png", 0.4))
	require.NoError(t, s.LinkEntityAppearsInImage(ctx, "LUNG", "ANATOMY", "a.png", 0.7))

	doc, err := s.GetDocumentForImage(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, "new", doc.Text)

	ents, err := s.GetEntitiesForImage(ctx, "a.png")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "new", ents[0].Description)
	assert.Equal(t, 0.7, ents[0].Similarity)
}

func TestMergeKeyIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.UpsertEntity(ctx, "Lung", "ANATOMY", "")
	require.NoError(t, err)
	b, err := s.UpsertEntity(ctx, "Lung", "FINDING", "")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, count(t, s, (*entityRow)(nil)))
}

func TestEmptyTypeStoredAsUnknown(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ref, err := s.UpsertEntity(ctx, "DEVICE", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.UnknownEntityType, ref.Type)
	require.NoError(t, s.UpsertDocument(ctx, "doc_1", "t"))
	assert.NoError(t, s.LinkDocumentMentionsEntity(ctx, "doc_1", "DEVICE", ""))
}

func TestEdgePreconditions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertDocument(ctx, "doc_1", "text"))

	err := s.LinkDocumentMentionsEntity(ctx, "doc_1", "LUNG", "ANATOMY")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.UpsertEntity(ctx, "LUNG", "ANATOMY", "")
	require.NoError(t, err)
	err = s.LinkDocumentMentionsEntity(ctx, "doc_missing", "LUNG", "ANATOMY")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = s.LinkDocumentHasImage(ctx, "doc_1", "missing.png")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = s.LinkEntityAppearsInImage(ctx, "LUNG", "ANATOMY", "missing.png", 0.9)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = s.LinkEntityRelatedTo(ctx, "LUNG", "GHOST", "d", "1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.GetDocumentForImage(ctx, "missing.png")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.GetRelatedEntities(ctx, "GHOST", "FINDING")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFindNearestImagesOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertImage(ctx, "c.png", unit(0.1), "doc_1"))
	require.NoError(t, s.UpsertImage(ctx, "a.png", unit(0.9), "doc_1"))
	require.NoError(t, s.UpsertImage(ctx, "b.png", unit(0.5), "doc_1"))

	got, err := s.FindNearestImages(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a.png", got[0].Path)
	assert.InDelta(t, 0.9, got[0].Similarity, 1e-6)
	assert.Equal(t, "b.png", got[1].Path)
	assert.InDelta(t, 0.5, got[1].Similarity, 1e-6)

	none, err := s.FindNearestImages(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindNearestImagesTiesUseInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, p := range []string{"z.png", "m.png", "a.png"} {
		require.NoError(t, s.UpsertImage(ctx, p, []float32{1, 0}, "doc_1"))
	}

	got, err := s.FindNearestImages(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"z.png", "m.png", "a.png"}, []string{got[0].Path, got[1].Path, got[2].Path})
}

func TestUpsertImageRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertImage(ctx, "a.png", []float32{1, 0}, "doc_1"))
	err := s.UpsertImage(ctx, "b.png", []float32{1, 0, 0}, "doc_1")
	assert.ErrorIs(t, err, repository.ErrDimensionMismatch)

	err = s.UpsertImage(ctx, "c.png", nil, "doc_1")
	assert.ErrorIs(t, err, repository.ErrDimensionMismatch)

	// The only image may change dimension when re-upserted.
	assert.NoError(t, s.UpsertImage(ctx, "a.png", []float32{1, 0, 0}, "doc_1"))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertDocument(ctx, "doc_1", "The lungs are clear. Heart size is normal. No effusion."))
	entities := []models.Entity{
		{Name: "LUNGS", Type: "ANATOMY", Description: "clear lungs"},
		{Name: "HEART", Type: "ANATOMY", Description: "normal size"},
		{Name: "EFFUSION", Type: "FINDING", Description: "absent"},
	}
	for _, e := range entities {
		_, err := s.UpsertEntity(ctx, e.Name, e.Type, e.Description)
		require.NoError(t, err)
		require.NoError(t, s.LinkDocumentMentionsEntity(ctx, "doc_1", e.Name, e.Type))
	}
	require.NoError(t, s.LinkEntityRelatedTo(ctx, "LUNGS", "EFFUSION", "no pleural effusion", "7"))
	require.NoError(t, s.LinkEntityRelatedTo(ctx, "LUNGS", "HEART", "adjacent structures", "10"))

	require.NoError(t, s.UpsertImage(ctx, "img/1.png", []float32{1, 0}, "doc_1"))
	require.NoError(t, s.LinkDocumentHasImage(ctx, "doc_1", "img/1.png"))
	require.NoError(t, s.LinkEntityAppearsInImage(ctx, "LUNGS", "ANATOMY", "img/1.png", 0.42))
	require.NoError(t, s.LinkEntityAppearsInImage(ctx, "HEART", "ANATOMY", "img/1.png", 0.61))
	require.NoError(t, s.LinkEntityAppearsInImage(ctx, "EFFUSION", "FINDING", "img/1.png", 0.35))

	imageEntities, err := s.GetEntitiesForImage(ctx, "img/1.png")
	require.NoError(t, err)
	require.Len(t, imageEntities, 3)
	assert.Equal(t, "HEART", imageEntities[0].Name)
	assert.Equal(t, "LUNGS", imageEntities[1].Name)
	assert.Equal(t, "EFFUSION", imageEntities[2].Name)
	assert.Equal(t, "clear lungs", imageEntities[1].Description)

	related, err := s.GetRelatedEntities(ctx, "LUNGS", "ANATOMY")
	require.NoError(t, err)
	require.Len(t, related, 2)
	assert.Equal(t, "HEART", related[0].Name, "10 must rank above 7 numerically")
	assert.Equal(t, "adjacent structures", related[0].RelationDescription)
	assert.Equal(t, "10", related[0].Strength)
	assert.Equal(t, 10.0, related[0].StrengthScore)
	assert.Equal(t, "EFFUSION", related[1].Name)

	back, err := s.GetRelatedEntities(ctx, "EFFUSION", "FINDING")
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, "LUNGS", back[0].Name)
}

func TestRelatedToAccumulatesEvidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertEntity(ctx, "A", "FINDING", "")
	require.NoError(t, err)
	_, err = s.UpsertEntity(ctx, "B", "FINDING", "")
	require.NoError(t, err)

	require.NoError(t, s.LinkEntityRelatedTo(ctx, "A", "B", "same", "5"))
	require.NoError(t, s.LinkEntityRelatedTo(ctx, "A", "B", "same", "5"))
	require.NoError(t, s.LinkEntityRelatedTo(ctx, "A", "B", "reworded", "5"))

	assert.Equal(t, 2, count(t, s, (*relatedRow)(nil)))
}

func TestRelatedToMatchesByNameOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertEntity(ctx, "LUNG", "ANATOMY", "")
	require.NoError(t, err)
	_, err = s.UpsertEntity(ctx, "LUNG", "FINDING", "")
	require.NoError(t, err)
	_, err = s.UpsertEntity(ctx, "OPACITY", "FINDING", "")
	require.NoError(t, err)

	require.NoError(t, s.LinkEntityRelatedTo(ctx, "LUNG", "OPACITY", "d", "3"))

	assert.Equal(t, 2, count(t, s, (*relatedRow)(nil)))
	for _, typ := range []string{"ANATOMY", "FINDING"} {
		rel, err := s.GetRelatedEntities(ctx, "LUNG", typ)
		require.NoError(t, err)
		assert.Len(t, rel, 1)
	}
}

func TestConcurrentUpsertsConverge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.UpsertEntity(ctx, "CARDIOMEGALY", "FINDING", fmt.Sprintf("d%d", i)); err != nil {
				errs <- err
			}
			if err := s.UpsertDocument(ctx, "doc_1", "text"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	assert.Equal(t, 1, count(t, s, (*entityRow)(nil)))
	assert.Equal(t, 1, count(t, s, (*documentRow)(nil)))
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertDocument(ctx, "doc_1", "t"))
	_, err := s.UpsertEntity(ctx, "A", "T", "")
	require.NoError(t, err)
	require.NoError(t, s.LinkDocumentMentionsEntity(ctx, "doc_1", "A", "T"))
	require.NoError(t, s.UpsertImage(ctx, "a.png", []float32{1}, "doc_1"))

	require.NoError(t, s.ClearAll(ctx))

	for _, model := range tables {
		assert.Equal(t, 0, count(t, s, model))
	}
	got, err := s.FindNearestImages(ctx, []float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}
