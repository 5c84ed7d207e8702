package qdrant

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var logger = logging.Component("Qdrant")

// pointsAPI is the subset of *pb.Client used by the index.
type pointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *pb.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *pb.UpsertPoints) (*pb.UpdateResult, error)
	Query(ctx context.Context, request *pb.QueryPoints) ([]*pb.ScoredPoint, error)
	Close() error
}

// ImageIndex implements repository.ImageIndex on a Qdrant collection with
// cosine distance. Searches are exact.
type ImageIndex struct {
	client     pointsAPI
	collection string
	dim        uint64
}

var _ repository.ImageIndex = (*ImageIndex)(nil)

// NewImageIndex connects to Qdrant and ensures the collection exists.
func NewImageIndex(ctx context.Context, host string, port int, collection string, dim int) (*ImageIndex, error) {
	client, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}

	idx := newImageIndex(client, collection, dim)
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ensure collection %q: %w", collection, err)
	}

	logger.Info("connected", "addr", fmt.Sprintf("%s:%d", host, port), "collection", collection, "dim", dim)
	return idx, nil
}

func newImageIndex(client pointsAPI, collection string, dim int) *ImageIndex {
	return &ImageIndex{client: client, collection: collection, dim: uint64(dim)}
}

// ensureCollection creates the collection if it does not already exist.
func (x *ImageIndex) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     x.dim,
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return err
	}

	logger.Info("created collection", "collection", x.collection)
	return nil
}

// UpsertImage indexes vec under a point id derived from path, so
// re-indexing an image replaces its point.
func (x *ImageIndex) UpsertImage(ctx context.Context, path string, vec []float32, docID string) error {
	if uint64(len(vec)) != x.dim {
		return fmt.Errorf("qdrant index expects %d dimensions, got %d: %w", x.dim, len(vec), repository.ErrDimensionMismatch)
	}

	_, err := x.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.collection,
		Wait:           pb.PtrOf(true),
		Points: []*pb.PointStruct{{
			Id:      pb.NewIDUUID(pointID(path)),
			Vectors: pb.NewVectors(vec...),
			Payload: pb.NewValueMap(map[string]any{
				"path":   path,
				"doc_id": docID,
			}),
		}},
	})
	if err != nil {
		return classify("upsert "+path, err)
	}
	return nil
}

// Search returns up to k images by descending cosine similarity, ties
// broken by ascending path.
func (x *ImageIndex) Search(ctx context.Context, query []float32, k int) ([]models.ImageMatch, error) {
	if k <= 0 {
		return []models.ImageMatch{}, nil
	}

	points, err := x.client.Query(ctx, &pb.QueryPoints{
		CollectionName: x.collection,
		Query:          pb.NewQuery(query...),
		Limit:          pb.PtrOf(uint64(k)),
		WithPayload:    pb.NewWithPayload(true),
		Params:         &pb.SearchParams{Exact: pb.PtrOf(true)},
	})
	if err != nil {
		return nil, classify("query", err)
	}

	out := make([]models.ImageMatch, 0, len(points))
	for _, p := range points {
		path := p.GetPayload()["path"].GetStringValue()
		if path == "" {
			continue
		}
		out = append(out, models.ImageMatch{Path: path, Similarity: float64(p.GetScore())})
	}
	// Qdrant's order among equal scores is unspecified.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Reset drops and recreates the collection.
func (x *ImageIndex) Reset(ctx context.Context) error {
	if err := x.client.DeleteCollection(ctx, x.collection); err != nil {
		return classify("delete collection "+x.collection, err)
	}
	if err := x.ensureCollection(ctx); err != nil {
		return classify("recreate collection "+x.collection, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (x *ImageIndex) Close() error {
	return x.client.Close()
}

func pointID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// classify marks transient gRPC failures as repository.ErrUnavailable so
// callers can retry them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("qdrant %s: %v: %w", op, err, repository.ErrUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("qdrant %s: %v: %w", op, err, repository.ErrUnavailable)
	}
	return fmt.Errorf("qdrant %s failed: %w", op, err)
}
