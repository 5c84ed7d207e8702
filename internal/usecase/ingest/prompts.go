package ingest

import (
	"strings"
)

// DefaultEntityTypes is the chest X-ray entity vocabulary offered to the
// extraction model.
var DefaultEntityTypes = []string{"ANATOMY", "FINDING", "DISEASE", "DEVICE", "PROCEDURE", "ATTRIBUTE"}

const entityExtractionTemplate = `-Goal-
Given a chest X-ray radiology report and a list of entity types, identify all entities of those types in the report and all relationships among the identified entities.

-Steps-
1. Identify all entities. For each identified entity, extract the following information:
- entity_name: Name of the entity, capitalized
- entity_type: One of the following types: [{entity_types}]
- entity_description: Comprehensive description of the entity as stated in the report
Format each entity as ("entity"{tuple_delimiter}<entity_name>{tuple_delimiter}<entity_type>{tuple_delimiter}<entity_description>)

2. From the entities identified in step 1, identify all pairs of (source_entity, target_entity) that are clearly related to each other.
For each pair of related entities, extract the following information:
- source_entity: name of the source entity, as identified in step 1
- target_entity: name of the target entity, as identified in step 1
- relationship_description: explanation as to why the source entity and the target entity are related
- relationship_strength: a numeric score from 1 to 10 indicating the strength of the relationship
Format each relationship as ("relationship"{tuple_delimiter}<source_entity>{tuple_delimiter}<target_entity>{tuple_delimiter}<relationship_description>{tuple_delimiter}<relationship_strength>)

3. Return output in English as a single list of all the entities and relationships identified in steps 1 and 2. Use **{record_delimiter}** as the list delimiter.

4. When finished, output {completion_delimiter}

-Example-
Report: The heart is normal in size. There is a small left pleural effusion.
Output:
("entity"{tuple_delimiter}"HEART"{tuple_delimiter}"ANATOMY"{tuple_delimiter}"The heart is normal in size"){record_delimiter}
("entity"{tuple_delimiter}"PLEURAL EFFUSION"{tuple_delimiter}"FINDING"{tuple_delimiter}"Small effusion on the left side"){record_delimiter}
("entity"{tuple_delimiter}"LEFT PLEURA"{tuple_delimiter}"ANATOMY"{tuple_delimiter}"Site of the effusion"){record_delimiter}
("relationship"{tuple_delimiter}"PLEURAL EFFUSION"{tuple_delimiter}"LEFT PLEURA"{tuple_delimiter}"The effusion is located in the left pleural space"{tuple_delimiter}8){completion_delimiter}

-Real Data-
Entity_types: {entity_types}
Report: {input_text}
Output:
`

// PromptBuilder renders the entity extraction prompt.
type PromptBuilder struct {
	EntityTypes []string
	Parser      *Parser
}

// Build returns the extraction prompt for text.
func (b PromptBuilder) Build(text string) string {
	types := b.EntityTypes
	if len(types) == 0 {
		types = DefaultEntityTypes
	}
	p := b.Parser
	if p == nil {
		p = NewParser()
	}

	r := strings.NewReplacer(
		"{entity_types}", strings.Join(types, ","),
		"{tuple_delimiter}", p.TupleDelimiter,
		"{record_delimiter}", p.RecordDelimiter,
		"{completion_delimiter}", p.CompletionDelimiter,
		"{input_text}", text,
	)
	return r.Replace(entityExtractionTemplate)
}
