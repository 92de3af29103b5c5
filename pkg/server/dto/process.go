package dto

import "github.com/noemakg/noema/pkg/types"

// MinContentLength is the shortest content the process endpoint accepts.
const MinContentLength = 10

// ProcessRequest is the body of POST /api/content/process.
type ProcessRequest struct {
	Content    string `json:"content"`
	SourceType string `json:"source_type"`
	SourcePath string `json:"source_path"`
}

// ProcessResponse reports what one processing call changed in the graph.
type ProcessResponse struct {
	Success             bool `json:"success"`
	EntitiesCreated     int  `json:"entities_created"`
	EntitiesExisting    int  `json:"entities_existing"`
	RelationsCreated    int  `json:"relations_created"`
	RelationsExisting   int  `json:"relations_existing"`
	ObservationsCreated int  `json:"observations_created"`
	TotalEntities       int  `json:"total_entities"`
	TotalRelations      int  `json:"total_relations"`
}

func NewProcessResponse(result *types.IngestResult) ProcessResponse {
	return ProcessResponse{
		Success:             true,
		EntitiesCreated:     result.EntitiesCreated,
		EntitiesExisting:    result.EntitiesExisting,
		RelationsCreated:    result.RelationsCreated,
		RelationsExisting:   result.RelationsExisting,
		ObservationsCreated: result.ObservationsCreated,
		TotalEntities:       result.TotalEntities,
		TotalRelations:      result.TotalRelations,
	}
}
