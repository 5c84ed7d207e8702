// Package embedding talks to the embedding worker, which encodes report
// text and chest X-ray images into one shared vector space.
package embedding

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
	"github.com/cxrgraph/cxrgraph-api/internal/vector"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	embedImageMethod = "/cxrgraph.v1.EmbeddingService/EmbedImage"
	embedTextMethod  = "/cxrgraph.v1.EmbeddingService/EmbedText"
)

var logger = logging.Component("Embedding")

// WorkerClient implements repository.EmbeddingClient over gRPC. Messages
// are google.protobuf.Struct so no generated stubs are needed:
//
//	EmbedImage {path, image (base64)} -> {vector: [...]}
//	EmbedText  {texts: [...]}          -> {vectors: [[...], ...]}
type WorkerClient struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
}

var _ repository.EmbeddingClient = (*WorkerClient)(nil)

// NewWorkerClient creates a client for the worker at addr.
func NewWorkerClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*WorkerClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding worker client for %s: %w", addr, err)
	}
	logger.Info("embedding worker client ready", "addr", addr)
	return &WorkerClient{conn: conn, closer: conn.Close, timeout: timeout}, nil
}

func (c *WorkerClient) Name() string { return "embedding-worker" }

// EmbedImage reads the image at path and asks the worker for its vector.
// Any failure is reported as ErrFeatureUnavailable.
func (c *WorkerClient) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w: %v", path, repository.ErrFeatureUnavailable, err)
	}

	req, err := structpb.NewStruct(map[string]any{
		"path":  path,
		"image": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.invoke(ctx, embedImageMethod, req, resp); err != nil {
		return nil, fmt.Errorf("embed image %s: %w: %v", path, repository.ErrFeatureUnavailable, err)
	}

	vec := listToVector(resp.GetFields()["vector"].GetListValue())
	if len(vec) == 0 {
		return nil, fmt.Errorf("embed image %s: empty vector: %w", path, repository.ErrFeatureUnavailable)
	}
	return vector.Normalize(vec), nil
}

// EmbedTexts returns one vector per text, in order.
func (c *WorkerClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	items := make([]any, len(texts))
	for i, t := range texts {
		items[i] = t
	}
	req, err := structpb.NewStruct(map[string]any{"texts": items})
	if err != nil {
		return nil, fmt.Errorf("build text request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.invoke(ctx, embedTextMethod, req, resp); err != nil {
		return nil, fmt.Errorf("embed %d texts: %w: %v", len(texts), repository.ErrFeatureUnavailable, err)
	}

	rows := resp.GetFields()["vectors"].GetListValue().GetValues()
	if len(rows) != len(texts) {
		return nil, fmt.Errorf("embed texts: worker returned %d vectors for %d texts: %w",
			len(rows), len(texts), repository.ErrFeatureUnavailable)
	}
	out := make([][]float32, len(rows))
	for i, row := range rows {
		out[i] = vector.Normalize(listToVector(row.GetListValue()))
	}
	return out, nil
}

func (c *WorkerClient) invoke(ctx context.Context, method string, req, resp *structpb.Struct) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.conn.Invoke(ctx, method, req, resp)
}

// Close closes the gRPC connection.
func (c *WorkerClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func listToVector(list *structpb.ListValue) []float32 {
	values := list.GetValues()
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v.GetNumberValue())
	}
	return out
}
