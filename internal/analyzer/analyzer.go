// Package analyzer turns a conversation thread into a structured issue
// analysis via a three-stage pipeline: LLM call, response structuring, then
// validation and enrichment.
package analyzer

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/deputybot/deputy/internal/llm"
	"github.com/deputybot/deputy/internal/types"
)

// LLM is the completion capability the analyzer consumes.
type LLM interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Analyzer derives an IssueAnalysis from a message thread.
type Analyzer struct {
	llm LLM
}

// New creates an Analyzer.
func New(client LLM) *Analyzer {
	return &Analyzer{llm: client}
}

const minTitleLen = 10

const placeholderDescription = "No detailed description could be generated from the conversation."

const analysisSystemPrompt = `You are an assistant that analyzes team chat conversations and turns them into structured issue reports.

Read the conversation and respond with a single JSON object with exactly these fields:
{
  "issue_type": "bug" | "feature" | "enhancement" | "documentation" | "question" | "task",
  "priority": "low" | "medium" | "high" | "critical",
  "suggested_title": "concise issue title",
  "detailed_description": "full description of the problem or request",
  "steps_to_reproduce": ["step 1", "step 2"],
  "expected_behavior": "what should happen",
  "actual_behavior": "what actually happens",
  "additional_context": "anything else relevant",
  "suggested_labels": ["label1", "label2"],
  "confidence_score": 0.0
}

confidence_score is your confidence, between 0.0 and 1.0, that this conversation describes an actionable issue.
Attached images and files are usually error evidence (screenshots, stack traces, logs); when present, weight them as such and raise the priority accordingly.
Respond with the JSON object only.`

// rawAnalysis mirrors the JSON shape the model is instructed to return.
type rawAnalysis struct {
	IssueType           string   `json:"issue_type"`
	Priority            string   `json:"priority"`
	SuggestedTitle      string   `json:"suggested_title"`
	DetailedDescription string   `json:"detailed_description"`
	StepsToReproduce    []string `json:"steps_to_reproduce"`
	ExpectedBehavior    string   `json:"expected_behavior"`
	ActualBehavior      string   `json:"actual_behavior"`
	AdditionalContext   string   `json:"additional_context"`
	SuggestedLabels     []string `json:"suggested_labels"`
	ConfidenceScore     *float64 `json:"confidence_score"`
}

// Analyze runs the full pipeline. It never fails: any internal error is
// converted into a fallback analysis with type question, priority low and
// confidence 0.
func (a *Analyzer) Analyze(ctx context.Context, messages []types.ThreadMessage) types.IssueAnalysis {
	prompt := RenderThread(messages)

	raw, err := a.llm.Complete(ctx, analysisSystemPrompt, prompt)
	if err != nil {
		log.Printf("analyzer: LLM call failed: %v", err)
		return fallbackAnalysis(err)
	}

	parsed := parseResponse(raw)
	return validateAndEnrich(parsed)
}

// RenderThread flattens the message list into the text block passed to the
// LLM: one "{author} ({timestamp}): {text}" line per message, attachments as
// trailing annotation lines, blank line between messages.
func RenderThread(messages []types.ThreadMessage) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s (%s): %s", m.Author, m.Timestamp, m.Text)
		for _, att := range m.Attachments {
			if att.IsImage {
				fmt.Fprintf(&b, "\n  📷 image attached: %s (%s, %s)", att.Filename, att.MimeType, humanSize(att.Size))
			} else {
				fmt.Fprintf(&b, "\n  📎 file attached: %s (%s, %s)", att.Filename, att.MimeType, humanSize(att.Size))
			}
		}
	}
	return b.String()
}

func humanSize(n int64) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// parseResponse structures the raw model output, applying the documented
// defaults on parse failure or missing fields.
func parseResponse(raw string) rawAnalysis {
	var parsed rawAnalysis
	if err := llm.ExtractJSON(raw, &parsed); err != nil {
		log.Printf("analyzer: response parse failed, using defaults: %v", err)
		return rawAnalysis{}
	}
	return parsed
}

func validateAndEnrich(raw rawAnalysis) types.IssueAnalysis {
	confidence := 0.5
	if raw.ConfidenceScore != nil {
		confidence = *raw.ConfidenceScore
	}

	analysis := types.IssueAnalysis{
		Type:              types.ParseIssueType(raw.IssueType),
		Priority:          types.ParsePriority(raw.Priority),
		Title:             raw.SuggestedTitle,
		Description:       raw.DetailedDescription,
		Steps:             raw.StepsToReproduce,
		ExpectedBehavior:  raw.ExpectedBehavior,
		ActualBehavior:    raw.ActualBehavior,
		AdditionalContext: raw.AdditionalContext,
		Confidence:        confidence,
	}
	analysis.Summary = analysis.Description

	if len(analysis.Title) < minTitleLen {
		analysis.Title = "Issue: " + analysis.Title
	}
	if analysis.Description == "" {
		analysis.Description = placeholderDescription
	}
	analysis.Labels = unionLabels(raw.SuggestedLabels, analysis.Type.DefaultLabels())

	return analysis
}

func fallbackAnalysis(cause error) types.IssueAnalysis {
	return types.IssueAnalysis{
		Type:        types.TypeQuestion,
		Priority:    types.PriorityLow,
		Title:       "Issue: analysis failed",
		Description: fmt.Sprintf("Automatic thread analysis failed: %v", cause),
		Labels:      types.TypeQuestion.DefaultLabels(),
		Confidence:  0,
	}
}

// unionLabels merges two label lists preserving first-occurrence order.
func unionLabels(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range append(append([]string{}, a...), b...) {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
