// Package types defines the core domain model shared across deputy's
// analysis, similarity, and issue-creation packages.
package types

import "time"

// IssueType classifies what kind of tracker issue a thread describes.
type IssueType string

const (
	TypeBug           IssueType = "bug"
	TypeFeature       IssueType = "feature"
	TypeEnhancement   IssueType = "enhancement"
	TypeDocumentation IssueType = "documentation"
	TypeQuestion      IssueType = "question"
	TypeTask          IssueType = "task"
)

// ParseIssueType maps a raw string to an IssueType, defaulting to question.
func ParseIssueType(s string) IssueType {
	switch IssueType(s) {
	case TypeBug, TypeFeature, TypeEnhancement, TypeDocumentation, TypeQuestion, TypeTask:
		return IssueType(s)
	}
	return TypeQuestion
}

// DefaultLabels returns the labels always applied for this issue type.
func (t IssueType) DefaultLabels() []string {
	switch t {
	case TypeBug:
		return []string{"bug"}
	case TypeFeature:
		return []string{"enhancement", "feature"}
	case TypeEnhancement:
		return []string{"enhancement"}
	case TypeDocumentation:
		return []string{"documentation"}
	case TypeQuestion:
		return []string{"question"}
	case TypeTask:
		return []string{"task"}
	}
	return nil
}

// IssuePriority is the urgency assigned by thread analysis.
type IssuePriority string

const (
	PriorityLow      IssuePriority = "low"
	PriorityMedium   IssuePriority = "medium"
	PriorityHigh     IssuePriority = "high"
	PriorityCritical IssuePriority = "critical"
)

// ParsePriority maps a raw string to an IssuePriority, defaulting to low.
func ParsePriority(s string) IssuePriority {
	switch IssuePriority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return IssuePriority(s)
	}
	return PriorityLow
}

// Attachment is a file attached to a chat message.
type Attachment struct {
	URL      string
	Filename string
	MimeType string
	Size     int64
	IsImage  bool
}

// ThreadMessage is one chat message in a conversation thread.
// Immutable once constructed.
type ThreadMessage struct {
	Author      string
	Text        string
	Timestamp   string
	Attachments []Attachment
}

// IssueAnalysis is the structured result of analyzing a conversation thread.
// Confidence below 0.3 blocks issue creation entirely.
type IssueAnalysis struct {
	Summary           string
	Type              IssueType
	Priority          IssuePriority
	Title             string
	Description       string
	Steps             []string
	ExpectedBehavior  string
	ActualBehavior    string
	AdditionalContext string
	Labels            []string
	Confidence        float64
}

// TrackerIssue is an issue projected from the external tracker.
// Body and Comments are only populated after a detail fetch.
type TrackerIssue struct {
	Number    int
	Title     string
	URL       string
	State     string
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Body      string
	Comments  int
}

// Open reports whether the issue is still open in the tracker.
func (i TrackerIssue) Open() bool { return i.State == "open" }

// AgeDays returns the issue age in days relative to now.
func (i TrackerIssue) AgeDays(now time.Time) float64 {
	if i.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(i.CreatedAt).Hours() / 24
}

// SimilarityCandidate is a tracker issue scored against a fresh analysis.
// Ephemeral: constructed per search, never persisted.
type SimilarityCandidate struct {
	Issue       TrackerIssue
	Similarity  float64
	IsDuplicate bool
	Reasoning   string
	Composite   float64
	AgeDays     float64
}

// MonitorEntry is one error-monitor issue surfaced during enrichment.
type MonitorEntry struct {
	ID        string
	ShortID   string
	Title     string
	Permalink string
	Level     string
	Count     int
	LastSeen  string
	Keyword   string
}

// CreatedIssue identifies an issue created in the tracker.
type CreatedIssue struct {
	Number int
	URL    string
}
