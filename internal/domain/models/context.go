package models

// Context is the bounded slice of the graph handed to the answer model
// for one query image.
type Context struct {
	Document        Document        `json:"document"`
	Truncated       bool            `json:"truncated"`
	ImagePath       string          `json:"image_path"`
	ImageSimilarity float64         `json:"image_similarity"`
	Entities        []ContextEntity `json:"entities"`
}

// ContextEntity is an entity of the matched image plus its strongest
// neighbours.
type ContextEntity struct {
	ImageEntity
	Related []RelatedEntity `json:"related_entities"`
}
