// Package extract turns raw text into extraction batches of candidate
// entities and relations. The LLM-backed extractor is the primary backend; a
// heuristic extractor covers environments with no API key and acts as a
// fallback when the LLM is unreachable.
package extract

import (
	"context"

	"github.com/noemakg/noema/pkg/types"
)

// Extractor produces a candidate entity/relation batch from text. An empty
// batch is a valid result; a typed extraction error means the backend could
// not produce one at all.
type Extractor interface {
	Extract(ctx context.Context, text string) (*types.ExtractionResult, error)
}

// Default configuration values.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.1
)

// Config holds configuration for the LLM-backed extractor.
type Config struct {
	// APIKey authenticates against the LLM API.
	APIKey string
	// Model is the chat model used for extraction.
	Model string
	// BaseURL overrides the API endpoint, for OpenAI-compatible servers.
	BaseURL string
	// Temperature controls randomness in generation.
	Temperature float32
	// MaxTokens caps the response length.
	MaxTokens int
	// FallbackToHeuristic extracts heuristically when the LLM call fails
	// instead of surfacing the failure.
	FallbackToHeuristic bool
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	return c
}
