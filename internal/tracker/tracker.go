// Package tracker provides the issue-tracker capability deputy consumes,
// implemented against the GitHub REST API.
package tracker

import (
	"context"

	"github.com/deputybot/deputy/internal/types"
)

// Tracker is the full tracker capability: search, detail fetch, label
// lookup and creation.
type Tracker interface {
	Search(ctx context.Context, query string) ([]types.TrackerIssue, error)
	GetIssue(ctx context.Context, number int) (types.TrackerIssue, error)
	ListLabels(ctx context.Context) ([]string, error)
	Create(ctx context.Context, title, body string, labels, assignees []string) (types.CreatedIssue, error)

	// CheckAccess verifies the configured repository is reachable with the
	// configured credentials.
	CheckAccess(ctx context.Context) error
}
