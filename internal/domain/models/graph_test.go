package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitKeepsOrder(t *testing.T) {
	records := []Record{
		{Kind: RecordEntity, Entity: Entity{Name: "LUNG", Type: "ANATOMY"}},
		{Kind: RecordRelationship, Relationship: Relationship{Source: "LUNG", Target: "OPACITY"}},
		{Kind: RecordEntity, Entity: Entity{Name: "OPACITY", Type: "FINDING"}},
	}

	got := Split(records)

	assert.Equal(t, []Entity{{Name: "LUNG", Type: "ANATOMY"}, {Name: "OPACITY", Type: "FINDING"}}, got.Entities)
	assert.Equal(t, []Relationship{{Source: "LUNG", Target: "OPACITY"}}, got.Relationships)
}

func TestSplitEmpty(t *testing.T) {
	got := Split(nil)
	assert.Empty(t, got.Entities)
	assert.Empty(t, got.Relationships)
}

func TestRecordKindString(t *testing.T) {
	assert.Equal(t, "entity", RecordEntity.String())
	assert.Equal(t, "relationship", RecordRelationship.String())
	assert.Equal(t, "unknown", RecordKind(0).String())
}
