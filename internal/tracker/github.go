package tracker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/deputybot/deputy/internal/types"
)

const apiTimeout = 10 * time.Second

// GitHub implements Tracker using the go-github client.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHub creates a GitHub tracker with the provided OAuth token.
// If token is empty, creates an unauthenticated client (limited to 60 req/hour).
func NewGitHub(token, owner, repo string) *GitHub {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHub{client: client, owner: owner, repo: repo}
}

// NewGitHubWithHTTPClient creates a GitHub tracker with a custom HTTP client.
// This is primarily used for testing with httptest servers.
func NewGitHubWithHTTPClient(httpClient *http.Client, baseURL, owner, repo string) *GitHub {
	client := github.NewClient(httpClient)
	if baseURL != "" {
		client, _ = client.WithEnterpriseURLs(baseURL, baseURL)
	}
	return &GitHub{client: client, owner: owner, repo: repo}
}

// Search runs an issue search and projects the hits. Pull requests are
// filtered out.
func (g *GitHub) Search(ctx context.Context, query string) ([]types.TrackerIssue, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	result, _, err := g.client.Search.Issues(ctx, query, &github.SearchOptions{
		Sort:        "updated",
		Order:       "desc",
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		return nil, rateLimitAware("search issues", err)
	}

	var out []types.TrackerIssue
	for _, issue := range result.Issues {
		if issue.IsPullRequest() {
			continue
		}
		out = append(out, projectIssue(issue))
	}
	return out, nil
}

// GetIssue fetches one issue with its full body and comment count.
func (g *GitHub) GetIssue(ctx context.Context, number int) (types.TrackerIssue, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	issue, _, err := g.client.Issues.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return types.TrackerIssue{}, rateLimitAware(fmt.Sprintf("get issue #%d", number), err)
	}
	return projectIssue(issue), nil
}

// ListLabels returns the names of all labels defined in the repository.
func (g *GitHub) ListLabels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	var names []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		labels, resp, err := g.client.Issues.ListLabels(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, rateLimitAware("list labels", err)
		}
		for _, l := range labels {
			names = append(names, l.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// Create opens a new issue and returns its number and URL.
func (g *GitHub) Create(ctx context.Context, title, body string, labels, assignees []string) (types.CreatedIssue, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req := &github.IssueRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	if len(assignees) > 0 {
		req.Assignees = &assignees
	}

	issue, _, err := g.client.Issues.Create(ctx, g.owner, g.repo, req)
	if err != nil {
		return types.CreatedIssue{}, rateLimitAware("create issue", err)
	}
	return types.CreatedIssue{
		Number: issue.GetNumber(),
		URL:    issue.GetHTMLURL(),
	}, nil
}

// CheckAccess verifies the repository is reachable with the current token.
func (g *GitHub) CheckAccess(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	repo, _, err := g.client.Repositories.Get(ctx, g.owner, g.repo)
	if err != nil {
		return fmt.Errorf("repository access failed for %s/%s: %w", g.owner, g.repo, err)
	}
	log.Printf("tracker: repository %s reachable (open issues: %d)",
		repo.GetFullName(), repo.GetOpenIssuesCount())
	return nil
}

func projectIssue(issue *github.Issue) types.TrackerIssue {
	out := types.TrackerIssue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		URL:       issue.GetHTMLURL(),
		State:     issue.GetState(),
		Body:      issue.GetBody(),
		Comments:  issue.GetComments(),
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
	for _, l := range issue.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

// rateLimitAware logs rate-limit errors distinctly so operators can tell
// quota exhaustion apart from real failures.
func rateLimitAware(op string, err error) error {
	if _, ok := err.(*github.RateLimitError); ok {
		log.Printf("tracker: WARNING: GitHub API rate limited during %s", op)
		return fmt.Errorf("%s: rate limited: %w", op, err)
	}
	if _, ok := err.(*github.AbuseRateLimitError); ok {
		log.Printf("tracker: WARNING: GitHub API abuse rate limited during %s", op)
		return fmt.Errorf("%s: abuse rate limited: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
