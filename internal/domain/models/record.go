package models

// RecordKind tags the variant held by a Record.
type RecordKind int

const (
	RecordEntity RecordKind = iota + 1
	RecordRelationship
)

func (k RecordKind) String() string {
	switch k {
	case RecordEntity:
		return "entity"
	case RecordRelationship:
		return "relationship"
	default:
		return "unknown"
	}
}

// Record is one parsed extraction record. Exactly one of Entity or
// Relationship is meaningful, as selected by Kind.
type Record struct {
	Kind         RecordKind
	Entity       Entity
	Relationship Relationship
}

// Split partitions records into entities and relationships, keeping order.
func Split(records []Record) Extraction {
	var out Extraction
	for _, r := range records {
		switch r.Kind {
		case RecordEntity:
			out.Entities = append(out.Entities, r.Entity)
		case RecordRelationship:
			out.Relationships = append(out.Relationships, r.Relationship)
		}
	}
	return out
}
