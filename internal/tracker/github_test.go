package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTracker spins up an httptest server acting as the GitHub API and
// returns a tracker pointed at it.
func newTestTracker(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGitHubWithHTTPClient(srv.Client(), srv.URL, "acme", "widgets")
}

func TestSearchProjectsIssuesAndSkipsPRs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/search/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("q"), "repo:acme/widgets")
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		fmt.Fprint(w, `{
			"total_count": 2,
			"items": [
				{
					"number": 42,
					"title": "403 on API calls",
					"html_url": "https://github.com/acme/widgets/issues/42",
					"state": "open",
					"created_at": "2026-06-01T10:00:00Z",
					"updated_at": "2026-08-01T10:00:00Z",
					"labels": [{"name": "bug"}, {"name": "api"}]
				},
				{
					"number": 43,
					"title": "a pull request",
					"html_url": "https://github.com/acme/widgets/pull/43",
					"state": "open",
					"pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/43"}
				}
			]
		}`)
	})

	g := newTestTracker(t, mux)
	got, err := g.Search(context.Background(), `repo:acme/widgets is:issue "403"`)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, 42, got[0].Number)
	assert.Equal(t, "open", got[0].State)
	assert.Equal(t, []string{"bug", "api"}, got[0].Labels)
	assert.Equal(t, 2026, got[0].CreatedAt.Year())
}

func TestGetIssueReturnsBodyAndComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widgets/issues/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 42, "title": "t", "state": "open", "body": "full body text", "comments": 7}`)
	})

	g := newTestTracker(t, mux)
	got, err := g.GetIssue(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, "full body text", got.Body)
	assert.Equal(t, 7, got.Comments)
}

func TestListLabels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widgets/labels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name": "bug"}, {"name": "enhancement"}, {"name": "deputy"}]`)
	})

	g := newTestTracker(t, mux)
	got, err := g.ListLabels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"bug", "enhancement", "deputy"}, got)
}

func TestCreateSendsLabelsAndAssignees(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"labels":["bug","deputy"]`)
		assert.Contains(t, string(body), `"assignees":["alice"]`)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 99, "html_url": "https://github.com/acme/widgets/issues/99"}`)
	})

	g := newTestTracker(t, mux)
	got, err := g.Create(context.Background(), "title", "body", []string{"bug", "deputy"}, []string{"alice"})
	require.NoError(t, err)

	assert.Equal(t, 99, got.Number)
	assert.Equal(t, "https://github.com/acme/widgets/issues/99", got.URL)
}

func TestCheckAccessFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
	})

	g := newTestTracker(t, mux)
	err := g.CheckAccess(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository access failed")
}
