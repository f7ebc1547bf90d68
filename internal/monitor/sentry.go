// Package monitor queries Sentry's issue API for errors related to a fresh
// report. Only two time windows are supported: 24 hours and 7 days.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/deputybot/deputy/internal/types"
)

// Window is a supported Sentry query window.
type Window string

const (
	Window24h Window = "24h"
	Window7d  Window = "7d"
)

// ParseWindow validates a user-supplied window string.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case Window24h, Window7d:
		return Window(s), nil
	}
	return "", fmt.Errorf("unsupported window %q (use 24h or 7d)", s)
}

const (
	requestTimeout = 15 * time.Second
	maxRetries     = 3
)

// Client is a Sentry issues-API client.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	org     string
	project string
}

// NewClient creates a Sentry client. baseURL defaults to sentry.io when empty.
func NewClient(baseURL, token, org, project string) *Client {
	if baseURL == "" {
		baseURL = "https://sentry.io"
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		org:     org,
		project: project,
	}
}

// sentryIssue is the wire shape of one Sentry issue. Count comes back as a
// string from the API.
type sentryIssue struct {
	ID        string `json:"id"`
	ShortID   string `json:"shortId"`
	Title     string `json:"title"`
	Permalink string `json:"permalink"`
	Level     string `json:"level"`
	Count     string `json:"count"`
	LastSeen  string `json:"lastSeen"`
}

// Search returns unresolved entries matching keyword within the window,
// newest first, at most limit entries.
//
// The API has no native 7-day stats period, so a 7d window is queried as
// 14d and filtered client-side on lastSeen. Kept for compatibility with
// existing deployments even though it narrows recall near the boundary.
func (c *Client) Search(ctx context.Context, keyword string, window Window, limit int) ([]types.MonitorEntry, error) {
	query := "is:unresolved"
	if keyword != "" {
		query += " " + keyword
	}
	issues, err := c.fetchIssues(ctx, query, apiPeriod(window), "date", limit*2)
	if err != nil {
		return nil, err
	}
	entries := convert(issues, keyword)
	entries = filterWindow(entries, window, time.Now())
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Top returns the highest-volume unresolved entries in the window.
func (c *Client) Top(ctx context.Context, window Window, limit int) ([]types.MonitorEntry, error) {
	issues, err := c.fetchIssues(ctx, "is:unresolved", apiPeriod(window), "freq", limit*2)
	if err != nil {
		return nil, err
	}
	entries := filterWindow(convert(issues, ""), window, time.Now())
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Count > entries[j].Count })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Stats aggregates the window's unresolved entries by level.
type Stats struct {
	Issues      int
	TotalEvents int
	ByLevel     map[string]int
}

// GetStats summarizes unresolved issues in the window.
func (c *Client) GetStats(ctx context.Context, window Window) (Stats, error) {
	entries, err := c.Top(ctx, window, 100)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Issues: len(entries), ByLevel: make(map[string]int)}
	for _, e := range entries {
		stats.TotalEvents += e.Count
		stats.ByLevel[e.Level]++
	}
	return stats, nil
}

// apiPeriod maps a window to the statsPeriod sent to the API. 7d becomes
// 14d; see Search.
func apiPeriod(window Window) string {
	if window == Window7d {
		return "14d"
	}
	return string(window)
}

// windowDuration is the client-side cutoff for a window.
func windowDuration(window Window) time.Duration {
	if window == Window7d {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

func filterWindow(entries []types.MonitorEntry, window Window, now time.Time) []types.MonitorEntry {
	cutoff := now.Add(-windowDuration(window))
	var out []types.MonitorEntry
	for _, e := range entries {
		seen, err := time.Parse(time.RFC3339, e.LastSeen)
		if err != nil {
			// Unparseable lastSeen: keep the entry rather than hide it.
			out = append(out, e)
			continue
		}
		if seen.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func convert(issues []sentryIssue, keyword string) []types.MonitorEntry {
	out := make([]types.MonitorEntry, 0, len(issues))
	for _, i := range issues {
		count, _ := strconv.Atoi(i.Count)
		out = append(out, types.MonitorEntry{
			ID:        i.ID,
			ShortID:   i.ShortID,
			Title:     i.Title,
			Permalink: i.Permalink,
			Level:     i.Level,
			Count:     count,
			LastSeen:  i.LastSeen,
			Keyword:   keyword,
		})
	}
	return out
}

func (c *Client) fetchIssues(ctx context.Context, query, statsPeriod, sortBy string, limit int) ([]sentryIssue, error) {
	u := fmt.Sprintf("%s/api/0/projects/%s/%s/issues/?%s",
		c.baseURL, c.org, c.project, url.Values{
			"query":       {query},
			"statsPeriod": {statsPeriod},
			"sort":        {sortBy},
			"limit":       {strconv.Itoa(limit)},
		}.Encode())

	var issues []sentryIssue
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("sentry API status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("sentry API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		issues = issues[:0]
		if err := json.NewDecoder(resp.Body).Decode(&issues); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("sentry query %q: %w", query, err)
	}
	log.Printf("monitor: query %q returned %d issues", query, len(issues))
	return issues, nil
}
