package embedding

import (
	"context"
	"fmt"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"golang.org/x/sync/errgroup"
)

// Batcher splits large text embedding requests into bounded batches to
// respect gRPC message limits (4MB default) and runs them concurrently.
type Batcher struct {
	client      repository.TextEmbedder
	batchSize   int
	concurrency int
}

// NewBatcher creates a new embedding batcher.
func NewBatcher(client repository.TextEmbedder, batchSize, concurrency int) *Batcher {
	if batchSize <= 0 {
		batchSize = 32
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Batcher{client: client, batchSize: batchSize, concurrency: concurrency}
}

// EmbedTexts embeds texts batch by batch and reassembles the vectors in
// input order. The first failing batch fails the call.
func (b *Batcher) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	total := len(texts)
	numBatches := (total + b.batchSize - 1) / b.batchSize
	if numBatches > 1 {
		logger.Debug("splitting texts into batches", "texts", total, "batches", numBatches, "batch_size", b.batchSize)
	}

	results := make([][]float32, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i := 0; i < numBatches; i++ {
		start := i * b.batchSize
		end := min(start+b.batchSize, total)
		batch := i

		g.Go(func() error {
			vecs, err := b.client.EmbedTexts(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch %d failed: %w", batch, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("batch %d: got %d vectors for %d texts: %w", batch, len(vecs), end-start, repository.ErrFeatureUnavailable)
			}
			// Batches write disjoint ranges, so no lock is needed.
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
