package keywords

import (
	"context"
	"regexp"
	"strings"

	"github.com/deputybot/deputy/internal/types"
)

// stopWords are title tokens too generic to search on.
var stopWords = map[string]bool{
	"error":   true,
	"issue":   true,
	"problem": true,
	"bug":     true,
}

// labelWhitelist is the set of analysis labels worth searching on verbatim.
var labelWhitelist = map[string]bool{
	"timeout":        true,
	"connection":     true,
	"database":       true,
	"authentication": true,
	"api":            true,
}

var (
	camelCaseRe = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+\b`)
	snakeCaseRe = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:_[a-z0-9]+)+\b`)
	quotedRe    = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	nonAlnumRe  = regexp.MustCompile(`[^a-z0-9]+`)
)

// Heuristic is the deterministic keyword extractor: title tokens minus stop
// words, technical identifiers from the description, then whitelisted labels.
type Heuristic struct{}

// NewHeuristic creates a Heuristic extractor.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Extract never fails; the error return satisfies the Extractor contract.
func (h *Heuristic) Extract(_ context.Context, analysis types.IssueAnalysis) ([]string, error) {
	var out []string

	for _, word := range strings.Fields(analysis.Title) {
		token := nonAlnumRe.ReplaceAllString(strings.ToLower(word), "")
		if len(token) < 3 || stopWords[token] {
			continue
		}
		out = append(out, token)
	}

	out = append(out, camelCaseRe.FindAllString(analysis.Description, -1)...)
	out = append(out, snakeCaseRe.FindAllString(analysis.Description, -1)...)
	for _, m := range quotedRe.FindAllStringSubmatch(analysis.Description, -1) {
		if m[1] != "" {
			out = append(out, m[1])
		} else {
			out = append(out, m[2])
		}
	}

	for _, label := range analysis.Labels {
		if labelWhitelist[strings.ToLower(label)] {
			out = append(out, strings.ToLower(label))
		}
	}

	return dedupe(out), nil
}
