package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
	"github.com/cxrgraph/cxrgraph-api/internal/vector"
	"github.com/neo4j/neo4j-go-driver/v6/neo4j"
)

var logger = logging.Component("Neo4j")

// queryRunner executes one auto-commit query. Swapped out in tests.
type queryRunner func(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error)

// Client implements repository.GraphRepository on Neo4j. Each method is
// one Cypher statement, so each call is its own transaction.
type Client struct {
	driver neo4j.Driver
	run    queryRunner
}

var _ repository.GraphRepository = (*Client)(nil)

// NewClient creates a new Neo4j client, verifies connectivity and ensures
// the uniqueness constraints that make MERGE converge.
func NewClient(ctx context.Context, uri, user, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver for %s: %w", uri, err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		if closeErr := driver.Close(ctx); closeErr != nil {
			logger.Warn("failed to close driver after connectivity check", "err", closeErr)
		}
		return nil, fmt.Errorf("failed to verify Neo4j connectivity at %s: %w: %v", uri, repository.ErrUnavailable, err)
	}

	c := &Client{
		driver: driver,
		run: func(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
			return neo4j.ExecuteQuery(ctx, driver, cypher, params,
				neo4j.EagerResultTransformer,
				neo4j.ExecuteQueryWithDatabase(database),
			)
		},
	}

	if err := c.ensureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	logger.Info("connected", "uri", uri, "user", user)
	return c, nil
}

func (c *Client) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := c.run(ctx, stmt, nil); err != nil {
			return classify("ensure schema", err)
		}
	}
	return nil
}

func (c *Client) UpsertDocument(ctx context.Context, docID, text string) error {
	_, err := c.run(ctx, upsertDocumentQuery, map[string]any{"doc_id": docID, "text": text})
	return classify("upsert document "+docID, err)
}

func (c *Client) UpsertEntity(ctx context.Context, name, entityType, description string) (models.EntityRef, error) {
	if entityType == "" {
		entityType = models.UnknownEntityType
	}
	_, err := c.run(ctx, upsertEntityQuery, map[string]any{
		"name":        name,
		"type":        entityType,
		"description": description,
	})
	if err != nil {
		return models.EntityRef{}, classify("upsert entity "+name, err)
	}
	return models.EntityRef{Name: name, Type: entityType}, nil
}

func (c *Client) LinkDocumentMentionsEntity(ctx context.Context, docID, name, entityType string) error {
	if entityType == "" {
		entityType = models.UnknownEntityType
	}
	return c.link(ctx, "link mentions", linkMentionsQuery, map[string]any{
		"doc_id": docID,
		"name":   name,
		"type":   entityType,
	}, fmt.Sprintf("document %q or entity (%q, %q)", docID, name, entityType))
}

func (c *Client) LinkEntityRelatedTo(ctx context.Context, source, target, description, strength string) error {
	return c.link(ctx, "link related", linkRelatedQuery, map[string]any{
		"source":         source,
		"target":         target,
		"desc":           description,
		"strength":       strength,
		"strength_score": models.StrengthScore(strength),
	}, fmt.Sprintf("entity named %q or %q", source, target))
}

func (c *Client) UpsertImage(ctx context.Context, path string, vec []float32, docID string) error {
	if len(vec) == 0 {
		return fmt.Errorf("upsert image %s: empty feature vector: %w", path, repository.ErrDimensionMismatch)
	}
	res, err := c.run(ctx, upsertImageQuery, map[string]any{
		"path":           path,
		"feature_vector": vector.ToFloat64(vec),
		"doc_id":         docID,
	})
	if err != nil {
		return classify("upsert image "+path, err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("upsert image %s: %w", path, repository.ErrDimensionMismatch)
	}
	return nil
}

func (c *Client) LinkDocumentHasImage(ctx context.Context, docID, path string) error {
	return c.link(ctx, "link has image", linkHasImageQuery, map[string]any{
		"doc_id": docID,
		"path":   path,
	}, fmt.Sprintf("document %q or image %q", docID, path))
}

func (c *Client) LinkEntityAppearsInImage(ctx context.Context, name, entityType, path string, similarity float64) error {
	if entityType == "" {
		entityType = models.UnknownEntityType
	}
	return c.link(ctx, "link appears in", linkAppearsInQuery, map[string]any{
		"name":       name,
		"type":       entityType,
		"path":       path,
		"similarity": similarity,
	}, fmt.Sprintf("entity (%q, %q) or image %q", name, entityType, path))
}

// link runs an edge MERGE that returns count(*) AS linked. Zero means an
// endpoint MATCH found nothing.
func (c *Client) link(ctx context.Context, op, cypher string, params map[string]any, what string) error {
	res, err := c.run(ctx, cypher, params)
	if err != nil {
		return classify(op, err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("%s: %s: %w", op, what, repository.ErrNotFound)
	}
	linked, _, err := neo4j.GetRecordValue[int64](res.Records[0], "linked")
	if err != nil {
		return fmt.Errorf("%s: neo4j result parse failed: %w", op, err)
	}
	if linked == 0 {
		return fmt.Errorf("%s: %s: %w", op, what, repository.ErrNotFound)
	}
	if linked > 1 && cypher == linkRelatedQuery {
		logger.Debug("relationship endpoint name matches several entities", "edges", linked, "source", params["source"], "target", params["target"])
	}
	return nil
}

// FindNearestImages scores every image in path order, so equal
// similarities are ordered by path.
func (c *Client) FindNearestImages(ctx context.Context, query []float32, k int) ([]models.ImageMatch, error) {
	if k <= 0 {
		return []models.ImageMatch{}, nil
	}

	res, err := c.run(ctx, allImagesQuery, nil)
	if err != nil {
		return nil, classify("find nearest images", err)
	}

	candidates := make([]vector.Candidate, 0, len(res.Records))
	for _, record := range res.Records {
		path, _, _ := neo4j.GetRecordValue[string](record, "path")
		raw, _, _ := neo4j.GetRecordValue[[]any](record, "feature_vector")
		candidates = append(candidates, vector.Candidate{Key: path, Vector: toFloat32Slice(raw)})
	}

	scored, skipped := vector.TopK(query, candidates, k)
	if skipped > 0 {
		logger.Warn("skipped images with a different dimension", "count", skipped, "query_dim", len(query))
	}

	matches := make([]models.ImageMatch, len(scored))
	for i, sc := range scored {
		matches[i] = models.ImageMatch{Path: sc.Key, Similarity: sc.Score}
	}
	return matches, nil
}

func (c *Client) GetDocumentForImage(ctx context.Context, path string) (*models.Document, error) {
	res, err := c.run(ctx, documentForImageQuery, map[string]any{"path": path})
	if err != nil {
		return nil, classify("get document for image", err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("document for image %q: %w", path, repository.ErrNotFound)
	}
	docID, _, _ := neo4j.GetRecordValue[string](res.Records[0], "doc_id")
	text, _, _ := neo4j.GetRecordValue[string](res.Records[0], "text")
	return &models.Document{DocID: docID, Text: text}, nil
}

func (c *Client) GetEntitiesForImage(ctx context.Context, path string) ([]models.ImageEntity, error) {
	res, err := c.run(ctx, entitiesForImageQuery, map[string]any{"path": path})
	if err != nil {
		return nil, classify("get entities for image", err)
	}

	out := make([]models.ImageEntity, 0, len(res.Records))
	for _, record := range res.Records {
		out = append(out, models.ImageEntity{
			Entity:     recordEntity(record),
			Similarity: recordFloat(record, "similarity"),
		})
	}
	return out, nil
}

func (c *Client) GetRelatedEntities(ctx context.Context, name, entityType string) ([]models.RelatedEntity, error) {
	if entityType == "" {
		entityType = models.UnknownEntityType
	}
	res, err := c.run(ctx, relatedEntitiesQuery, map[string]any{"name": name, "type": entityType})
	if err != nil {
		return nil, classify("get related entities", err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("entity (%q, %q): %w", name, entityType, repository.ErrNotFound)
	}

	out := make([]models.RelatedEntity, 0, len(res.Records))
	for _, record := range res.Records {
		// The OPTIONAL MATCH yields one all-null row for an isolated entity.
		if _, isNil, _ := neo4j.GetRecordValue[string](record, "name"); isNil {
			continue
		}
		relDesc, _, _ := neo4j.GetRecordValue[string](record, "rel_desc")
		strength, _, _ := neo4j.GetRecordValue[string](record, "strength")
		out = append(out, models.RelatedEntity{
			Entity:              recordEntity(record),
			RelationDescription: relDesc,
			Strength:            strength,
			StrengthScore:       recordFloat(record, "strength_score"),
		})
	}
	return out, nil
}

func (c *Client) ClearAll(ctx context.Context) error {
	if _, err := c.run(ctx, clearAllQuery, nil); err != nil {
		return classify("clear all", err)
	}
	logger.Info("graph cleared")
	return nil
}

// Close closes the underlying Neo4j driver.
func (c *Client) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

func recordEntity(record *neo4j.Record) models.Entity {
	name, _, _ := neo4j.GetRecordValue[string](record, "name")
	typ, _, _ := neo4j.GetRecordValue[string](record, "type")
	desc, _, _ := neo4j.GetRecordValue[string](record, "description")
	return models.Entity{Name: name, Type: typ, Description: desc}
}

// recordFloat reads a numeric column that may come back as an integer
// when it was written from an integral value.
func recordFloat(record *neo4j.Record, key string) float64 {
	v, ok := record.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// toFloat32Slice converts a Neo4j list property to a float32 vector.
func toFloat32Slice(raw []any) []float32 {
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case int64:
			out = append(out, float32(n))
		}
	}
	return out
}

// classify wraps driver errors and marks connectivity and transient
// failures with ErrUnavailable so callers can decide to retry.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *neo4j.ConnectivityError
	var neoErr *neo4j.Neo4jError
	switch {
	case errors.As(err, &connErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.TransientError"):
		return fmt.Errorf("neo4j %s: %w: %v", op, repository.ErrUnavailable, err)
	default:
		return fmt.Errorf("neo4j %s failed: %w", op, err)
	}
}
