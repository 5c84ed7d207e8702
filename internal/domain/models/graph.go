package models

// UnknownEntityType is stored when an extracted entity carries no type.
const UnknownEntityType = "UNKNOWN"

// Document is one radiology report.
type Document struct {
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
}

// Entity is a medical concept extracted from report text.
// (Name, Type) is its identity.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Key returns the identity of the entity.
func (e Entity) Key() EntityRef {
	return EntityRef{Name: e.Name, Type: e.Type}
}

// EntityRef identifies an entity node.
type EntityRef struct {
	Name string
	Type string
}

// Image is a radiograph and its feature vector.
type Image struct {
	Path          string
	FeatureVector []float32
	DocID         string
}

// Relationship is a directed, described link between two entity names
// as produced by extraction.
type Relationship struct {
	Source      string
	Target      string
	Description string
	Strength    string
}

// Extraction is the split output of one extraction pass over a document.
type Extraction struct {
	Entities      []Entity
	Relationships []Relationship
}

// ImageMatch is a nearest-neighbour hit.
type ImageMatch struct {
	Path       string  `json:"path"`
	Similarity float64 `json:"similarity"`
}

// ImageEntity is an entity linked to an image through APPEARS_IN.
type ImageEntity struct {
	Entity
	Similarity float64 `json:"similarity"`
}

// RelatedEntity is a neighbour reached through RELATED_TO.
type RelatedEntity struct {
	Entity
	RelationDescription string  `json:"relation_desc"`
	Strength            string  `json:"strength"`
	StrengthScore       float64 `json:"strength_score"`
}
