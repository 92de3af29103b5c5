package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/noemakg/noema/pkg/types"
)

// HeuristicExtractor is a zero-dependency extraction backend: quoted phrases
// and capitalized words become concept entities, and consecutive entities get
// a generic relation. Quality is far below the LLM backend; it exists so the
// pipeline keeps working without one.
type HeuristicExtractor struct {
	quoted    *regexp.Regexp
	capWords  *regexp.Regexp
	stopWords map[string]bool
}

var _ Extractor = (*HeuristicExtractor)(nil)

func NewHeuristicExtractor() *HeuristicExtractor {
	stop := map[string]bool{}
	for _, w := range []string{
		"The", "This", "That", "These", "Those", "There", "Then",
		"And", "But", "For", "Not", "With", "From", "Into", "When",
		"What", "Where", "Which", "While", "After", "Before", "About",
	} {
		stop[w] = true
	}
	return &HeuristicExtractor{
		quoted:    regexp.MustCompile(`"([^"]+)"|'([^']+)'`),
		capWords:  regexp.MustCompile(`\b([A-Z][a-zA-Z][\w-]*)\b`),
		stopWords: stop,
	}
}

func (h *HeuristicExtractor) Extract(_ context.Context, text string) (*types.ExtractionResult, error) {
	result := &types.ExtractionResult{}
	seen := make(map[string]bool)

	add := func(name, description string) {
		key := types.NormalizeName(name)
		if seen[key] {
			return
		}
		seen[key] = true
		result.Entities = append(result.Entities, types.CandidateEntity{
			Name:        name,
			Type:        types.DefaultEntityType,
			Description: description,
		})
	}

	for _, match := range h.quoted.FindAllStringSubmatch(text, -1) {
		phrase := match[1]
		if phrase == "" {
			phrase = match[2]
		}
		phrase = strings.TrimSpace(phrase)
		if len(phrase) <= 2 {
			continue
		}
		add(phrase, fmt.Sprintf("Quoted concept: %s", truncate(phrase, 40)))
	}

	for _, match := range h.capWords.FindAllStringSubmatch(text, -1) {
		word := match[1]
		if len(word) < 3 || h.stopWords[word] {
			continue
		}
		add(word, fmt.Sprintf("Identified entity: %s", word))
	}

	// Generic relations between consecutive entities, on the assumption that
	// textual proximity implies some association.
	for i := 0; i+1 < len(result.Entities); i++ {
		result.Relations = append(result.Relations, types.CandidateRelation{
			From:     result.Entities[i].Name,
			To:       result.Entities[i+1].Name,
			Type:     types.DefaultRelationType,
			Evidence: "Proximity in text",
			Strength: 0.3,
		})
	}
	return result, nil
}

// truncate shortens s to at most n runes, never splitting a multi-byte rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
