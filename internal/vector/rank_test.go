package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopK(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{Key: "low", Vector: []float32{0.1, 0.99498744}},
		{Key: "high", Vector: []float32{0.9, 0.43588989}},
		{Key: "mid", Vector: []float32{0.5, 0.8660254}},
	}

	got, skipped := TopK(query, candidates, 2)

	require.Len(t, got, 2)
	assert.Zero(t, skipped)
	assert.Equal(t, "high", got[0].Key)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	assert.Equal(t, "mid", got[1].Key)
	assert.InDelta(t, 0.5, got[1].Score, 1e-6)
}

func TestTopKTiesKeepCandidateOrder(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{Key: "a", Vector: []float32{1, 0}},
		{Key: "b", Vector: []float32{2, 0}},
		{Key: "c", Vector: []float32{3, 0}},
	}

	got, _ := TopK(query, candidates, 3)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Key, got[1].Key, got[2].Key})
}

func TestTopKEdgeCases(t *testing.T) {
	candidates := []Candidate{{Key: "a", Vector: []float32{1, 0}}, {Key: "wide", Vector: []float32{1, 0, 0}}}

	got, _ := TopK([]float32{1, 0}, candidates, 0)
	assert.Empty(t, got)

	got, _ = TopK(nil, candidates, 3)
	assert.Empty(t, got)

	got, skipped := TopK([]float32{1, 0}, candidates, 5)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, skipped)
}
