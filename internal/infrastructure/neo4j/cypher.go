package neo4j

var schemaStatements = []string{
	`CREATE CONSTRAINT document_doc_id IF NOT EXISTS FOR (d:Document) REQUIRE d.doc_id IS UNIQUE`,
	`CREATE CONSTRAINT image_path IF NOT EXISTS FOR (i:Image) REQUIRE i.path IS UNIQUE`,
	`CREATE CONSTRAINT entity_key IF NOT EXISTS FOR (e:Entity) REQUIRE (e.name, e.type) IS UNIQUE`,
	`CREATE INDEX entity_name IF NOT EXISTS FOR (e:Entity) ON (e.name)`,
}

const upsertDocumentQuery = `
	MERGE (d:Document {doc_id: $doc_id})
	SET d.text = $text
`

const upsertEntityQuery = `
	MERGE (e:Entity {name: $name, type: $type})
	SET e.description = $description
`

const linkMentionsQuery = `
	MATCH (d:Document {doc_id: $doc_id})
	MATCH (e:Entity {name: $name, type: $type})
	MERGE (d)-[:MENTIONS]->(e)
	RETURN count(*) AS linked
`

// Endpoints are matched by name only; every pair of matches is linked.
const linkRelatedQuery = `
	MATCH (s:Entity {name: $source})
	MATCH (t:Entity {name: $target})
	MERGE (s)-[r:RELATED_TO {desc: $desc, strength: $strength}]->(t)
	SET r.strength_score = $strength_score
	RETURN count(*) AS linked
`

// Returns no row when another image holds a vector of a different length.
const upsertImageQuery = `
	OPTIONAL MATCH (o:Image)
	WHERE o.path <> $path AND size(o.feature_vector) <> size($feature_vector)
	WITH count(o) AS mismatched
	WHERE mismatched = 0
	MERGE (i:Image {path: $path})
	SET i.feature_vector = $feature_vector, i.doc_id = $doc_id
	RETURN i.path AS path
`

const linkHasImageQuery = `
	MATCH (d:Document {doc_id: $doc_id})
	MATCH (i:Image {path: $path})
	MERGE (d)-[:HAS_IMAGE]->(i)
	RETURN count(*) AS linked
`

const linkAppearsInQuery = `
	MATCH (e:Entity {name: $name, type: $type})
	MATCH (i:Image {path: $path})
	MERGE (e)-[r:APPEARS_IN]->(i)
	SET r.similarity = $similarity
	RETURN count(*) AS linked
`

const allImagesQuery = `
	MATCH (i:Image)
	RETURN i.path AS path, i.feature_vector AS feature_vector
	ORDER BY i.path
`

const documentForImageQuery = `
	MATCH (d:Document)-[:HAS_IMAGE]->(:Image {path: $path})
	RETURN d.doc_id AS doc_id, d.text AS text
	ORDER BY d.doc_id
	LIMIT 1
`

const entitiesForImageQuery = `
	MATCH (e:Entity)-[r:APPEARS_IN]->(:Image {path: $path})
	RETURN e.name AS name, e.type AS type, e.description AS description, r.similarity AS similarity
	ORDER BY similarity DESC, name ASC, type ASC
`

const relatedEntitiesQuery = `
	MATCH (e:Entity {name: $name, type: $type})
	OPTIONAL MATCH (e)-[r:RELATED_TO]-(t:Entity)
	RETURN t.name AS name, t.type AS type, t.description AS description,
	       r.desc AS rel_desc, r.strength AS strength,
	       coalesce(r.strength_score, 0.0) AS strength_score
	ORDER BY strength_score DESC, name ASC
`

const clearAllQuery = `MATCH (n) DETACH DELETE n`
