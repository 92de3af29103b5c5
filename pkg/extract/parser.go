package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/noemakg/noema/pkg/types"
)

// parseResponse extracts a batch from raw model output. Models wrap JSON in
// code fences or prose and occasionally emit slightly broken JSON, so the
// payload is located and repaired before unmarshalling.
func parseResponse(raw string) (*types.ExtractionResult, error) {
	payload := extractJSONPayload(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var result types.ExtractionResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &result); err != nil {
			return nil, fmt.Errorf("unmarshal repaired response: %w", err)
		}
	}

	normalizeBatch(&result)
	return &result, nil
}

// extractJSONPayload strips code fences and surrounding prose, returning the
// outermost {...} span.
func extractJSONPayload(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// normalizeBatch trims names and clamps relation strengths to (0, 1], with
// omitted strengths defaulting to 1.
func normalizeBatch(result *types.ExtractionResult) {
	for i := range result.Entities {
		result.Entities[i].Name = strings.TrimSpace(result.Entities[i].Name)
		result.Entities[i].Type = strings.TrimSpace(result.Entities[i].Type)
	}
	for i := range result.Relations {
		r := &result.Relations[i]
		r.From = strings.TrimSpace(r.From)
		r.To = strings.TrimSpace(r.To)
		r.Type = strings.TrimSpace(r.Type)
		if r.Strength <= 0 || r.Strength > 1 {
			r.Strength = 1.0
		}
	}
}
