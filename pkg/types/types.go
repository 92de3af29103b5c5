package types

import (
	"time"
)

// Entity is a canonical node in the knowledge graph.
type Entity struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	EntityType  string    `json:"entity_type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Observation is an append-only evidence record attached to an Entity.
// Observations are never updated or deleted; they form the provenance log.
type Observation struct {
	ID         int64     `json:"id"`
	EntityID   int64     `json:"entity_id"`
	Content    string    `json:"content"`
	SourceType string    `json:"source_type"`
	SourcePath string    `json:"source_path"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Relation is a directed typed edge between two Entities. At most one
// Relation exists per (from, to, type) triple; repeat occurrences overwrite
// evidence and strength.
type Relation struct {
	ID           int64     `json:"id"`
	FromEntityID int64     `json:"from_entity_id"`
	ToEntityID   int64     `json:"to_entity_id"`
	RelationType string    `json:"relation_type"`
	Strength     float64   `json:"strength"`
	Evidence     string    `json:"evidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// AppliedMigration is one row of the schema evolution ledger.
type AppliedMigration struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"applied_at"`
}

// DefaultEntityType is assigned to entities created from a relation endpoint
// that had no matching entry in the batch's candidate entity list.
const DefaultEntityType = "concept"

// DefaultRelationType is assigned to candidate relations with no type.
const DefaultRelationType = "related_to"

// InferredDescription marks entities auto-created from relation references.
const InferredDescription = "Referenced in a relation; no direct description extracted."

// CandidateEntity is one loosely-typed entity record from an extraction
// batch. Fields are validated at the ingestion boundary; records with an
// empty trimmed name are skipped.
type CandidateEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// CandidateRelation is one loosely-typed relation record from an extraction
// batch. From and To reference candidate entity names, not ids.
type CandidateRelation struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Type     string  `json:"type,omitempty"`
	Evidence string  `json:"evidence,omitempty"`
	Strength float64 `json:"strength,omitempty"`
}

// ExtractionResult is the two-list shape every extraction backend must
// produce. Empty lists are valid.
type ExtractionResult struct {
	Entities  []CandidateEntity   `json:"entities"`
	Relations []CandidateRelation `json:"relations"`
}

// IngestResult aggregates the counters for one ingested batch.
type IngestResult struct {
	EntitiesCreated     int `json:"entities_created"`
	EntitiesExisting    int `json:"entities_existing"`
	RelationsCreated    int `json:"relations_created"`
	RelationsExisting   int `json:"relations_existing"`
	ObservationsCreated int `json:"observations_created"`

	// Batch-size totals, before per-record validation skips.
	TotalEntities  int `json:"total_entities"`
	TotalRelations int `json:"total_relations"`
}

// EntityRelation is a Relation joined with the entity on the far side,
// used by the entity detail query.
type EntityRelation struct {
	Relation
	EntityID   int64  `json:"entity_id"`
	EntityName string `json:"entity_name"`
	EntityType string `json:"entity_type"`
}

// RelationDetail is a Relation joined with both endpoint entities, used by
// the relation list query.
type RelationDetail struct {
	Relation
	FromEntityName string `json:"from_entity_name"`
	FromEntityType string `json:"from_entity_type"`
	ToEntityName   string `json:"to_entity_name"`
	ToEntityType   string `json:"to_entity_type"`
}

// EntityGraph is an Entity with its observations and adjacent relations.
type EntityGraph struct {
	Entity       Entity           `json:"entity"`
	Observations []Observation    `json:"observations"`
	Outgoing     []EntityRelation `json:"outgoing_relations"`
	Incoming     []EntityRelation `json:"incoming_relations"`
}

// TypeCount pairs a classification tag with its row count.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// Statistics holds aggregate graph statistics.
type Statistics struct {
	TotalEntities     int64       `json:"total_entities"`
	TotalObservations int64       `json:"total_observations"`
	TotalRelations    int64       `json:"total_relations"`
	EntitiesByType    []TypeCount `json:"entities_by_type"`
	RelationsByType   []TypeCount `json:"relations_by_type"`
}

// VizNode is an entity shaped for the graph visualization payload.
type VizNode struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Category         string  `json:"category"`
	ObservationCount int64   `json:"value"`
	RelationCount    int64   `json:"relation_count"`
	SymbolSize       float64 `json:"symbol_size"`
}

// VizLink is a relation shaped for the graph visualization payload.
type VizLink struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
}

// VizSummary totals the visualization payload.
type VizSummary struct {
	TotalEntities  int `json:"total_entities"`
	TotalRelations int `json:"total_relations"`
	EntityTypes    int `json:"entity_types"`
}

// Visualization is the nodes-and-links payload for the web view.
type Visualization struct {
	Nodes      []VizNode   `json:"nodes"`
	Links      []VizLink   `json:"links"`
	Categories []TypeCount `json:"categories"`
	Summary    VizSummary  `json:"summary"`
}
