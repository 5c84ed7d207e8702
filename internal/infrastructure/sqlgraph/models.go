package sqlgraph

import (
	"github.com/uptrace/bun"
)

// documentRow stores a Document node. Merge key: doc_id.
type documentRow struct {
	bun.BaseModel `bun:"table:graph_documents,alias:gd"`

	ID    int64  `bun:",pk,autoincrement"`
	DocID string `bun:",unique,notnull"`
	Text  string `bun:",notnull"`
}

// entityRow stores an Entity node. Merge key: (name, type).
type entityRow struct {
	bun.BaseModel `bun:"table:graph_entities,alias:ge"`

	ID          int64  `bun:",pk,autoincrement"`
	Name        string `bun:",notnull,unique:entity_key"`
	Type        string `bun:",notnull,unique:entity_key"`
	Description string `bun:",notnull"`
}

// imageRow stores an Image node. Merge key: path. The vector is kept as a
// JSON array in Vector with its length in Dim.
type imageRow struct {
	bun.BaseModel `bun:"table:graph_images,alias:gi"`

	ID     int64  `bun:",pk,autoincrement"`
	Path   string `bun:",unique,notnull"`
	Vector string `bun:",notnull"`
	Dim    int    `bun:",notnull"`
	DocID  string `bun:",notnull"`
}

type mentionRow struct {
	bun.BaseModel `bun:"table:graph_mentions,alias:gm"`

	ID         int64 `bun:",pk,autoincrement"`
	DocumentID int64 `bun:",notnull,unique:mention_key"`
	EntityID   int64 `bun:",notnull,unique:mention_key"`
}

// relatedRow is a RELATED_TO edge. Description and strength are part of
// the merge key, so differing evidence produces parallel edges.
type relatedRow struct {
	bun.BaseModel `bun:"table:graph_related,alias:gr"`

	ID            int64   `bun:",pk,autoincrement"`
	SourceID      int64   `bun:",notnull,unique:related_key"`
	TargetID      int64   `bun:",notnull,unique:related_key"`
	Description   string  `bun:",notnull,unique:related_key"`
	Strength      string  `bun:",notnull,unique:related_key"`
	StrengthScore float64 `bun:",notnull"`
}

type hasImageRow struct {
	bun.BaseModel `bun:"table:graph_has_image,alias:gh"`

	ID         int64 `bun:",pk,autoincrement"`
	DocumentID int64 `bun:",notnull,unique:has_image_key"`
	ImageID    int64 `bun:",notnull,unique:has_image_key"`
}

type appearsInRow struct {
	bun.BaseModel `bun:"table:graph_appears_in,alias:ga"`

	ID         int64   `bun:",pk,autoincrement"`
	EntityID   int64   `bun:",notnull,unique:appears_key"`
	ImageID    int64   `bun:",notnull,unique:appears_key"`
	Similarity float64 `bun:",notnull"`
}

var tables = []any{
	(*documentRow)(nil),
	(*entityRow)(nil),
	(*imageRow)(nil),
	(*mentionRow)(nil),
	(*relatedRow)(nil),
	(*hasImageRow)(nil),
	(*appearsInRow)(nil),
}
