package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/noemakg/noema/pkg/types"
)

// OpenAIExtractor extracts entities and relations through an OpenAI-compatible
// chat completion API. A circuit breaker stops hammering the API while it is
// failing; with FallbackToHeuristic set, failed calls degrade to the
// heuristic extractor instead of erroring.
type OpenAIExtractor struct {
	client   *openai.Client
	config   Config
	breaker  *gobreaker.CircuitBreaker
	fallback *HeuristicExtractor
	log      *slog.Logger
}

var _ Extractor = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor creates an extractor backed by an OpenAI-compatible API.
// A nil logger falls back to slog.Default.
func NewOpenAIExtractor(config Config, log *slog.Logger) *OpenAIExtractor {
	config = config.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "extraction",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("extraction breaker state change", "from", from.String(), "to", to.String())
		},
	})

	e := &OpenAIExtractor{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  config,
		breaker: breaker,
		log:     log,
	}
	if config.FallbackToHeuristic {
		e.fallback = NewHeuristicExtractor()
	}
	return e
}

// Extract sends the text to the chat model and parses the returned JSON
// batch.
func (e *OpenAIExtractor) Extract(ctx context.Context, text string) (*types.ExtractionResult, error) {
	if strings.TrimSpace(text) == "" {
		return &types.ExtractionResult{}, nil
	}

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.complete(ctx, text)
	})
	if err != nil {
		if e.fallback != nil {
			e.log.Warn("llm extraction failed, using heuristic fallback", "error", err)
			return e.fallback.Extract(ctx, text)
		}
		return nil, &types.ExtractionError{Backend: "openai", Err: err}
	}

	result := out.(*types.ExtractionResult)
	e.log.Info("llm extraction complete",
		"entities", len(result.Entities), "relations", len(result.Relations))
	return result, nil
}

func (e *OpenAIExtractor) complete(ctx context.Context, text string) (*types.ExtractionResult, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.config.Model,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: extractionUserPrompt(text)},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &types.ExtractionError{Backend: "openai", Err: errNoChoices}
	}
	return parseResponse(resp.Choices[0].Message.Content)
}

var errNoChoices = errors.New("no choices returned")
