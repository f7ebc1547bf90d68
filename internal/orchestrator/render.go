package orchestrator

import (
	"fmt"
	"strings"

	"github.com/deputybot/deputy/internal/types"
)

// renderWarning formats the duplicate-candidates message shown in chat.
func renderWarning(candidates []types.SimilarityCandidate, botHandle string) string {
	var b strings.Builder
	b.WriteString("⚠️ **Similar Issues Found:**\n\n")
	for _, c := range candidates {
		glyph := "🔴"
		if c.Issue.Open() {
			glyph = "🟢"
		}
		fmt.Fprintf(&b, "%s #%d: %s\n", glyph, c.Issue.Number, c.Issue.Title)
		fmt.Fprintf(&b, "   %s\n", c.Issue.URL)
		if len(c.Issue.Labels) > 0 {
			fmt.Fprintf(&b, "   Labels: %s\n", strings.Join(c.Issue.Labels, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Reply `@%s yes` to create the issue anyway, or `@%s no` to cancel.", botHandle, botHandle)
	return b.String()
}

// levelGlyph maps an error-monitor severity to its marker.
func levelGlyph(level string) string {
	switch level {
	case "error", "fatal":
		return "🔴"
	case "warning":
		return "🟡"
	case "info":
		return "🔵"
	}
	return "⚪"
}

// renderBody builds the tracker issue body: each section is emitted only
// when its source data is non-empty, in a fixed order, with a metadata
// footer.
func renderBody(analysis types.IssueAnalysis, originLink string, messages []types.ThreadMessage, entries []types.MonitorEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Description\n\n%s\n", analysis.Description)

	if len(analysis.Steps) > 0 {
		b.WriteString("\n## Steps to Reproduce\n\n")
		for i, step := range analysis.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}

	if analysis.ExpectedBehavior != "" || analysis.ActualBehavior != "" {
		b.WriteString("\n## Expected vs Actual Behavior\n\n")
		if analysis.ExpectedBehavior != "" {
			fmt.Fprintf(&b, "**Expected:** %s\n", analysis.ExpectedBehavior)
		}
		if analysis.ActualBehavior != "" {
			fmt.Fprintf(&b, "**Actual:** %s\n", analysis.ActualBehavior)
		}
	}

	if analysis.AdditionalContext != "" {
		fmt.Fprintf(&b, "\n## Additional Context\n\n%s\n", analysis.AdditionalContext)
	}

	images, files := splitAttachments(messages)

	if len(images) > 0 {
		b.WriteString("\n## Screenshots & Images 📸\n\n")
		for i, att := range images {
			fmt.Fprintf(&b, "%d. **%s** (%s, %.1f MB)\n", i+1, att.Filename, att.MimeType,
				float64(att.Size)/(1024*1024))
			b.WriteString("   Viewing requires authentication at the original conversation link.\n")
		}
	}

	if len(files) > 0 {
		b.WriteString("\n## Related Files 📎\n\n")
		for _, att := range files {
			fmt.Fprintf(&b, "- [%s](%s) (%s, %.1f KB)\n", att.Filename, att.URL, att.MimeType,
				float64(att.Size)/1024)
		}
	}

	if originLink != "" {
		fmt.Fprintf(&b, "\n## Related Discussion\n\n%s\n", originLink)
	}

	if len(entries) > 0 {
		b.WriteString("\n## Related Sentry Errors\n\n")
		for _, e := range entries {
			lastSeen := e.LastSeen
			if len(lastSeen) > 10 {
				lastSeen = lastSeen[:10]
			}
			fmt.Fprintf(&b, "- %s **%s**: %s (%d events, last seen %s)\n  %s\n  _surfaced by keyword: %s_\n",
				levelGlyph(e.Level), e.ShortID, e.Title, e.Count, lastSeen, e.Permalink, e.Keyword)
		}
	}

	fmt.Fprintf(&b, "\n---\n**Type:** %s | **Priority:** %s | **Confidence:** %.2f\n",
		analysis.Type, analysis.Priority, analysis.Confidence)
	b.WriteString("_Created by deputy from a team conversation._\n")

	return b.String()
}

func splitAttachments(messages []types.ThreadMessage) (images, files []types.Attachment) {
	for _, m := range messages {
		for _, att := range m.Attachments {
			if att.IsImage {
				images = append(images, att)
			} else {
				files = append(files, att)
			}
		}
	}
	return images, files
}
