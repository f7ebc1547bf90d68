package keywords

import (
	"context"
	"fmt"
	"strings"

	"github.com/deputybot/deputy/internal/types"
)

// StructuredLLM is the structured-completion capability the LLM extractor
// consumes.
type StructuredLLM interface {
	CompleteJSON(ctx context.Context, system, prompt string, out any) error
}

const extractSystemPrompt = `You extract search keywords for finding duplicate issues in a bug tracker.

Given an issue analysis, respond with a single JSON object:
{
  "keywords": ["kw1", "kw2", "kw3"],
  "reasoning": "one sentence on why these terms"
}

Pick 3-5 highly specific technical keywords: component names, error codes, API names, identifiers.
Never include generic terms like "error", "issue", "problem" or "bug".`

// LLMExtractor asks the model for high-signal search keywords. Unlike the
// heuristic it can fail; the similarity pipeline counts those failures
// against its retry budget.
type LLMExtractor struct {
	llm StructuredLLM
}

// NewLLM creates an LLM-driven extractor.
func NewLLM(client StructuredLLM) *LLMExtractor {
	return &LLMExtractor{llm: client}
}

type extractResult struct {
	Keywords  []string `json:"keywords"`
	Reasoning string   `json:"reasoning"`
}

func (e *LLMExtractor) Extract(ctx context.Context, analysis types.IssueAnalysis) ([]string, error) {
	prompt := fmt.Sprintf("Title: %s\n\nDescription:\n%s", analysis.Title, analysis.Description)
	if len(analysis.Labels) > 0 {
		prompt += "\n\nLabels: " + strings.Join(analysis.Labels, ", ")
	}

	var result extractResult
	if err := e.llm.CompleteJSON(ctx, extractSystemPrompt, prompt, &result); err != nil {
		return nil, fmt.Errorf("keyword extraction: %w", err)
	}
	if len(result.Keywords) == 0 {
		return nil, fmt.Errorf("keyword extraction: model returned no keywords")
	}
	return dedupe(result.Keywords), nil
}
