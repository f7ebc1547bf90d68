// Package keywords extracts tracker search terms from an issue analysis.
// Two implementations of the same capability exist: a deterministic
// heuristic used for basic search and monitor enrichment, and an LLM-driven
// variant used by the full similarity pipeline.
package keywords

import (
	"context"

	"github.com/deputybot/deputy/internal/types"
)

// MaxKeywords caps the number of terms any extractor returns.
const MaxKeywords = 5

// Extractor produces search keywords from an analysis.
type Extractor interface {
	Extract(ctx context.Context, analysis types.IssueAnalysis) ([]string, error)
}

// dedupe keeps the first occurrence of each keyword and truncates to
// MaxKeywords.
func dedupe(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	var out []string
	for _, k := range keywords {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}
