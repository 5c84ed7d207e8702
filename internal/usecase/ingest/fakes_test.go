package ingest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/sqlgraph"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	mu      sync.Mutex
	resp    string
	err     error
	calls   int
	prompts []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.resp, f.err
}

func (f *fakeLLM) Name() string { return "fake-llm" }

type fakeRouter struct {
	client repository.LLMClient
}

func (r *fakeRouter) RouteLLMTask(repository.TaskType) repository.LLMClient { return r.client }

// fakeText embeds names from a fixed table.
type fakeText struct {
	vecs map[string][]float32
	err  error
}

func (f *fakeText) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vecs[t]
	}
	return out, nil
}

type fakeImages struct {
	vecs map[string][]float32
}

func (f *fakeImages) EmbedImage(_ context.Context, path string) ([]float32, error) {
	v, ok := f.vecs[path]
	if !ok {
		return nil, errors.Join(errors.New("unreadable image "+path), repository.ErrFeatureUnavailable)
	}
	return v, nil
}

// flakyStore fails the first n UpsertDocument calls with ErrUnavailable.
type flakyStore struct {
	repository.GraphRepository
	mu    sync.Mutex
	fails int
	calls int
}

func (s *flakyStore) UpsertDocument(ctx context.Context, docID, text string) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.fails
	s.mu.Unlock()
	if fail {
		return repository.ErrUnavailable
	}
	return s.GraphRepository.UpsertDocument(ctx, docID, text)
}

func newGraph(t *testing.T) *sqlgraph.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlgraph.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	return s
}

// unit returns a 2-d unit vector whose cosine with (1, 0) is sim.
func unit(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}
