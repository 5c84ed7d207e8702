package embedding

import (
	"context"
	"math"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type handlerFunc func(method string, req *structpb.Struct) (*structpb.Struct, error)

// startWorker serves handler over an in-memory listener, accepting any
// method with Struct messages.
func startWorker(t *testing.T, handler handlerFunc) *WorkerClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		resp, err := handler(method, req)
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewWorkerClient("passthrough:///bufnet", time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cxr.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake"), 0o600))
	return path
}

func TestEmbedImage(t *testing.T) {
	var gotMethod, gotPath string
	client := startWorker(t, func(method string, req *structpb.Struct) (*structpb.Struct, error) {
		gotMethod = method
		gotPath = req.GetFields()["path"].GetStringValue()
		assert.NotEmpty(t, req.GetFields()["image"].GetStringValue())
		return structpb.NewStruct(map[string]any{"vector": []any{3.0, 4.0}})
	})
	path := writeImage(t)

	vec, err := client.EmbedImage(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, embedImageMethod, gotMethod)
	assert.Equal(t, path, gotPath)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestEmbedImageFailures(t *testing.T) {
	client := startWorker(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.InvalidArgument, "unreadable image")
	})

	_, err := client.EmbedImage(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, repository.ErrFeatureUnavailable)

	_, err = client.EmbedImage(context.Background(), writeImage(t))
	assert.ErrorIs(t, err, repository.ErrFeatureUnavailable)
}

func TestEmbedImageEmptyVector(t *testing.T) {
	client := startWorker(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"vector": []any{}})
	})

	_, err := client.EmbedImage(context.Background(), writeImage(t))
	assert.ErrorIs(t, err, repository.ErrFeatureUnavailable)
}

func TestEmbedTexts(t *testing.T) {
	client := startWorker(t, func(method string, req *structpb.Struct) (*structpb.Struct, error) {
		assert.Equal(t, embedTextMethod, method)
		texts := req.GetFields()["texts"].GetListValue().GetValues()
		rows := make([]any, len(texts))
		for i, v := range texts {
			rows[i] = []any{float64(len(v.GetStringValue())), 0.0}
		}
		return structpb.NewStruct(map[string]any{"vectors": rows})
	})

	vecs, err := client.EmbedTexts(context.Background(), []string{"LUNG", "EFFUSION"})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.InDelta(t, 1.0, math.Hypot(float64(v[0]), float64(v[1])), 1e-6)
	}

	none, err := client.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEmbedTextsCountMismatch(t *testing.T) {
	client := startWorker(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"vectors": []any{[]any{1.0}}})
	})

	_, err := client.EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, repository.ErrFeatureUnavailable)
}
