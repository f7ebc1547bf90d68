package similarity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deputybot/deputy/internal/types"
)

type fakeExtractor struct {
	keywords []string
	errs     int // fail this many calls before succeeding
	calls    int
}

func (f *fakeExtractor) Extract(ctx context.Context, analysis types.IssueAnalysis) ([]string, error) {
	f.calls++
	if f.calls <= f.errs {
		return nil, errors.New("extraction failed")
	}
	return f.keywords, nil
}

type fakeTracker struct {
	hits        []types.TrackerIssue
	searchErr   error
	searchCalls int
	details     map[int]types.TrackerIssue
	detailErr   map[int]error
	lastQuery   string
}

func (f *fakeTracker) Search(ctx context.Context, query string) ([]types.TrackerIssue, error) {
	f.searchCalls++
	f.lastQuery = query
	return f.hits, f.searchErr
}

func (f *fakeTracker) GetIssue(ctx context.Context, number int) (types.TrackerIssue, error) {
	if err := f.detailErr[number]; err != nil {
		return types.TrackerIssue{}, err
	}
	return f.details[number], nil
}

type fakeJudge struct {
	scores map[int]float64 // issue number → similarity
	err    error
}

func (f *fakeJudge) CompleteJSON(ctx context.Context, system, prompt string, out any) error {
	if f.err != nil {
		return f.err
	}
	j := out.(*judgment)
	for num, score := range f.scores {
		if strings.Contains(prompt, fmt.Sprintf("issue #%d:", num)) {
			j.SimilarityScore = score
			j.IsDuplicate = score >= 0.7
			j.Reasoning = "matched"
			return nil
		}
	}
	return nil
}

func newTestPipeline(ext *fakeExtractor, tr *fakeTracker, judge *fakeJudge) *Pipeline {
	p := New(ext, tr, judge, "acme/widgets", DefaultScoring())
	return p
}

func openIssue(num int, ageDays int, now time.Time) types.TrackerIssue {
	return types.TrackerIssue{
		Number:    num,
		Title:     fmt.Sprintf("issue %d", num),
		URL:       fmt.Sprintf("https://github.com/acme/widgets/issues/%d", num),
		State:     "open",
		CreatedAt: now.AddDate(0, 0, -ageDays),
	}
}

func closedIssue(num int, ageDays int, now time.Time) types.TrackerIssue {
	i := openIssue(num, ageDays, now)
	i.State = "closed"
	return i
}

func analysisFixture() types.IssueAnalysis {
	return types.IssueAnalysis{
		Title:       "403 Forbidden on API calls",
		Description: "All API calls return 403 since the auth deploy.",
		Type:        types.TypeBug,
		Confidence:  0.95,
	}
}

func TestFindSimilarHappyPath(t *testing.T) {
	now := time.Now()
	tr := &fakeTracker{
		hits:    []types.TrackerIssue{openIssue(1, 10, now), openIssue(2, 40, now)},
		details: map[int]types.TrackerIssue{1: {Body: "body one"}, 2: {Body: "body two"}},
	}
	p := newTestPipeline(
		&fakeExtractor{keywords: []string{"forbidden", "auth"}},
		tr,
		&fakeJudge{scores: map[int]float64{1: 0.9, 2: 0.5}},
	)

	got := p.FindSimilar(context.Background(), analysisFixture())

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Issue.Number)
	assert.True(t, got[0].IsDuplicate)
	assert.Greater(t, got[0].Composite, got[1].Composite)
	assert.Contains(t, tr.lastQuery, `repo:acme/widgets is:issue created:>`)
	assert.Contains(t, tr.lastQuery, `"forbidden" OR "auth"`)
}

func TestFindSimilarRetriesExtractionThenSucceeds(t *testing.T) {
	now := time.Now()
	ext := &fakeExtractor{keywords: []string{"auth"}, errs: 2}
	tr := &fakeTracker{hits: []types.TrackerIssue{openIssue(1, 5, now)},
		details: map[int]types.TrackerIssue{1: {Body: "b"}}}
	p := newTestPipeline(ext, tr, &fakeJudge{scores: map[int]float64{1: 0.8}})

	got := p.FindSimilar(context.Background(), analysisFixture())

	assert.Equal(t, 3, ext.calls)
	assert.Len(t, got, 1)
}

func TestFindSimilarExtractionExhaustionYieldsEmpty(t *testing.T) {
	ext := &fakeExtractor{errs: 10}
	tr := &fakeTracker{}
	p := newTestPipeline(ext, tr, &fakeJudge{})

	got := p.FindSimilar(context.Background(), analysisFixture())

	assert.Empty(t, got)
	assert.Equal(t, 3, ext.calls)
	assert.Zero(t, tr.searchCalls)
}

func TestFindSimilarSearchFailureYieldsEmpty(t *testing.T) {
	p := newTestPipeline(
		&fakeExtractor{keywords: []string{"auth"}},
		&fakeTracker{searchErr: errors.New("tracker down")},
		&fakeJudge{},
	)

	assert.Empty(t, p.FindSimilar(context.Background(), analysisFixture()))
}

func TestFindSimilarCacheIdempotence(t *testing.T) {
	now := time.Now()
	ext := &fakeExtractor{keywords: []string{"auth"}}
	tr := &fakeTracker{hits: []types.TrackerIssue{openIssue(1, 5, now)},
		details: map[int]types.TrackerIssue{1: {Body: "b"}}}
	p := newTestPipeline(ext, tr, &fakeJudge{scores: map[int]float64{1: 0.8}})

	first := p.FindSimilar(context.Background(), analysisFixture())
	second := p.FindSimilar(context.Background(), analysisFixture())

	assert.Equal(t, first, second)
	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, 1, tr.searchCalls)
}

func TestFindSimilarCacheExpiry(t *testing.T) {
	now := time.Now()
	ext := &fakeExtractor{keywords: []string{"auth"}}
	tr := &fakeTracker{hits: []types.TrackerIssue{openIssue(1, 5, now)},
		details: map[int]types.TrackerIssue{1: {Body: "b"}}}
	p := newTestPipeline(ext, tr, &fakeJudge{scores: map[int]float64{1: 0.8}})

	// Freeze the clock, then jump past the TTL between calls.
	current := now
	clock := func() time.Time { return current }
	p.now = clock
	p.cache = newResultCache(clock)

	p.FindSimilar(context.Background(), analysisFixture())
	current = current.Add(cacheTTL + time.Minute)
	p.FindSimilar(context.Background(), analysisFixture())

	assert.Equal(t, 2, tr.searchCalls)
}

func TestScoreThresholdsByStateAndAge(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		issue    types.TrackerIssue
		score    float64
		survives bool
	}{
		{"open above threshold", openIssue(1, 10, now), 0.41, true},
		{"open at threshold discarded", openIssue(1, 10, now), 0.4, false},
		{"recently closed needs 0.6", closedIssue(1, 10, now), 0.55, false},
		{"recently closed above", closedIssue(1, 10, now), 0.65, true},
		{"old closed needs 0.7", closedIssue(1, 90, now), 0.65, false},
		{"old closed above", closedIssue(1, 90, now), 0.75, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTracker{hits: []types.TrackerIssue{tt.issue},
				details: map[int]types.TrackerIssue{1: {Body: "b"}}}
			p := newTestPipeline(
				&fakeExtractor{keywords: []string{"auth"}},
				tr,
				&fakeJudge{scores: map[int]float64{1: tt.score}},
			)
			got := p.FindSimilar(context.Background(), analysisFixture())
			if tt.survives {
				assert.Len(t, got, 1)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestJudgmentFailureScoresZeroNotDropped(t *testing.T) {
	now := time.Now()
	tr := &fakeTracker{hits: []types.TrackerIssue{openIssue(1, 5, now)},
		details: map[int]types.TrackerIssue{1: {Body: "b"}}}
	p := newTestPipeline(
		&fakeExtractor{keywords: []string{"auth"}},
		tr,
		&fakeJudge{err: errors.New("model down")},
	)

	// Scored 0.0 → below every threshold → discarded at Stage E.
	assert.Empty(t, p.FindSimilar(context.Background(), analysisFixture()))
}

func TestDetailFetchFailureDegradesToEmptyBody(t *testing.T) {
	now := time.Now()
	tr := &fakeTracker{
		hits:      []types.TrackerIssue{openIssue(1, 5, now)},
		details:   map[int]types.TrackerIssue{},
		detailErr: map[int]error{1: errors.New("fetch failed")},
	}
	p := newTestPipeline(
		&fakeExtractor{keywords: []string{"auth"}},
		tr,
		&fakeJudge{scores: map[int]float64{1: 0.8}},
	)

	got := p.FindSimilar(context.Background(), analysisFixture())
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Issue.Body)
}

func TestTopThreeCut(t *testing.T) {
	now := time.Now()
	var hits []types.TrackerIssue
	details := map[int]types.TrackerIssue{}
	scores := map[int]float64{}
	for i := 1; i <= 5; i++ {
		hits = append(hits, openIssue(i, i, now))
		details[i] = types.TrackerIssue{Body: "b"}
		scores[i] = 0.5 + float64(i)*0.05
	}
	tr := &fakeTracker{hits: hits, details: details}
	p := newTestPipeline(&fakeExtractor{keywords: []string{"auth"}}, tr, &fakeJudge{scores: scores})

	got := p.FindSimilar(context.Background(), analysisFixture())

	require.Len(t, got, maxResults)
	assert.Equal(t, 5, got[0].Issue.Number)
}

func TestBuildQuery(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	q := buildQuery("acme/widgets", []string{"ConnectionTimeout", "auth"}, since)
	assert.Equal(t, `repo:acme/widgets is:issue created:>2026-03-01 "ConnectionTimeout" OR "auth"`, q)
}
