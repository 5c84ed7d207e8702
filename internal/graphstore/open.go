package graphstore

import (
	"context"
	"fmt"

	"github.com/cxrgraph/cxrgraph-api/internal/config"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/neo4j"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/qdrant"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/sqlgraph"
)

// Open connects the configured graph backend, wrapped with the Qdrant
// image index when enabled.
func Open(ctx context.Context, cfg *config.Config) (repository.GraphRepository, error) {
	var graph repository.GraphRepository
	switch cfg.GraphBackend {
	case config.BackendNeo4j:
		c, err := neo4j.NewClient(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			return nil, err
		}
		graph = c
	case config.BackendSQLite:
		s, err := sqlgraph.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		graph = s
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.GraphBackend)
	}

	if !cfg.UseQdrantIndex {
		logger.Info("graph store ready", "backend", cfg.GraphBackend)
		return graph, nil
	}

	index, err := qdrant.NewImageIndex(ctx, cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, cfg.EmbeddingDim)
	if err != nil {
		_ = graph.Close(ctx)
		return nil, err
	}
	logger.Info("graph store ready", "backend", cfg.GraphBackend, "image_index", "qdrant")
	return NewIndexed(graph, index).WithRetry(cfg.StoreRetries, cfg.StoreBackoff), nil
}
