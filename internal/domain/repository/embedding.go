package repository

import (
	"context"
)

// EmbeddingClient produces L2-normalized feature vectors for text and
// images in a shared space.
type EmbeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	Name() string
}

// TextEmbedder is the text half of EmbeddingClient.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
