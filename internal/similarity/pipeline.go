// Package similarity implements duplicate detection against the external
// tracker: keyword extraction with bounded retry, tracker search, detail
// fetch, an LLM similarity judgment per candidate, and composite scoring
// with adaptive thresholds. Results are memoized for a short TTL.
package similarity

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/deputybot/deputy/internal/keywords"
	"github.com/deputybot/deputy/internal/telemetry"
	"github.com/deputybot/deputy/internal/types"
)

const (
	// Keyword extraction gives up after three total attempts.
	maxExtractionErrors = 3

	searchWindowDays = 180
	maxSearchHits    = 10
	maxDetailFetch   = 5
	maxResults       = 3
	detailFetchLimit = 3 // concurrent detail fetches
	bodyTruncateLen  = 1500
)

// IssueSource is the tracker capability the pipeline consumes.
type IssueSource interface {
	Search(ctx context.Context, query string) ([]types.TrackerIssue, error)
	GetIssue(ctx context.Context, number int) (types.TrackerIssue, error)
}

// StructuredLLM is the similarity-judgment capability.
type StructuredLLM interface {
	CompleteJSON(ctx context.Context, system, prompt string, out any) error
}

// Pipeline finds likely-duplicate tracker issues for a fresh analysis.
type Pipeline struct {
	extractor keywords.Extractor
	tracker   IssueSource
	llm       StructuredLLM
	repo      string // owner/name
	scoring   ScoringConfig
	cache     *resultCache
	now       func() time.Time
}

// New creates a Pipeline for the given owner/name repository.
func New(extractor keywords.Extractor, tracker IssueSource, llm StructuredLLM, repo string, scoring ScoringConfig) *Pipeline {
	pipelineMetricsOnce.Do(initPipelineMetrics)
	now := time.Now
	return &Pipeline{
		extractor: extractor,
		tracker:   tracker,
		llm:       llm,
		repo:      repo,
		scoring:   scoring,
		cache:     newResultCache(now),
		now:       now,
	}
}

var pipelineMetrics struct {
	cacheLookups metric.Int64Counter
}

var pipelineMetricsOnce sync.Once

func initPipelineMetrics() {
	m := telemetry.Meter("github.com/deputybot/deputy/similarity")
	pipelineMetrics.cacheLookups, _ = m.Int64Counter("deputy.similarity.cache_lookups",
		metric.WithDescription("Similarity cache lookups by outcome"),
	)
}

func recordCacheLookup(ctx context.Context, outcome string) {
	if pipelineMetrics.cacheLookups != nil {
		pipelineMetrics.cacheLookups.Add(ctx, 1,
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// searchState is the record carried between pipeline stages.
type searchState struct {
	analysis   types.IssueAnalysis
	keywords   []string
	hits       []types.TrackerIssue // after search
	detailed   []types.TrackerIssue // after detail fetch
	judged     []types.SimilarityCandidate
	ranked     []types.SimilarityCandidate
	errorCount int
}

// FindSimilar runs the full pipeline. It never fails: any unhandled stage
// error degrades to an empty result, and absence of evidence is treated as
// absence of duplicates. Results are ordered by descending composite score,
// at most three entries.
func (p *Pipeline) FindSimilar(ctx context.Context, analysis types.IssueAnalysis) []types.SimilarityCandidate {
	key := cacheKey(analysis.Title, analysis.Description)
	if cached, ok := p.cache.get(key); ok {
		recordCacheLookup(ctx, "hit")
		return cached
	}
	recordCacheLookup(ctx, "miss")

	state := &searchState{analysis: analysis}

	p.extractKeywords(ctx, state)
	if state.errorCount >= maxExtractionErrors {
		log.Printf("similarity: keyword extraction failed %d times, giving up", state.errorCount)
		p.cache.set(key, nil)
		return nil
	}

	p.searchTracker(ctx, state)
	p.fetchDetails(ctx, state)
	p.judgeCandidates(ctx, state)
	p.scoreAndRank(state)

	p.cache.set(key, state.ranked)
	return state.ranked
}

// extractKeywords is Stage A plus its conditional retry edge: re-run on
// failure while the error counter stays below the limit.
func (p *Pipeline) extractKeywords(ctx context.Context, state *searchState) {
	for state.errorCount < maxExtractionErrors {
		kws, err := p.extractor.Extract(ctx, state.analysis)
		if err != nil {
			state.errorCount++
			log.Printf("similarity: keyword extraction attempt %d failed: %v", state.errorCount, err)
			continue
		}
		state.keywords = kws
		return
	}
}

// searchTracker is Stage B: disjunctive keyword query scoped to the repo,
// restricted to recently created issues, newest-updated first.
func (p *Pipeline) searchTracker(ctx context.Context, state *searchState) {
	if len(state.keywords) == 0 {
		return
	}

	query := buildQuery(p.repo, state.keywords, p.now().AddDate(0, 0, -searchWindowDays))
	hits, err := p.tracker.Search(ctx, query)
	if err != nil {
		log.Printf("similarity: tracker search failed: %v", err)
		return
	}
	if len(hits) > maxSearchHits {
		hits = hits[:maxSearchHits]
	}
	state.hits = hits
}

// buildQuery renders the tracker search expression, e.g.
//
//	repo:acme/widgets is:issue created:>2024-01-02 "kw1" OR "kw2"
func buildQuery(repo string, kws []string, since time.Time) string {
	quoted := make([]string, len(kws))
	for i, k := range kws {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return fmt.Sprintf("repo:%s is:issue created:>%s %s",
		repo, since.Format("2006-01-02"), strings.Join(quoted, " OR "))
}

// fetchDetails is Stage C: pull full body and comment count for the top
// hits. A per-item failure degrades that item to an empty body.
func (p *Pipeline) fetchDetails(ctx context.Context, state *searchState) {
	n := len(state.hits)
	if n > maxDetailFetch {
		n = maxDetailFetch
	}
	if n == 0 {
		return
	}

	detailed := make([]types.TrackerIssue, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchLimit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			hit := state.hits[i]
			full, err := p.tracker.GetIssue(gctx, hit.Number)
			if err != nil {
				log.Printf("similarity: detail fetch for #%d failed: %v", hit.Number, err)
				detailed[i] = hit
				return nil
			}
			hit.Body = full.Body
			hit.Comments = full.Comments
			detailed[i] = hit
			return nil
		})
	}
	_ = g.Wait()
	state.detailed = detailed
}

const judgeSystemPrompt = `You judge whether two bug-tracker issues describe the same underlying problem.

Respond with a single JSON object:
{
  "similarity_score": 0.0,
  "is_duplicate": false,
  "reasoning": "one or two sentences"
}

similarity_score is between 0.0 and 1.0. A score of 0.7 or higher means the issues are likely duplicates.`

type judgment struct {
	SimilarityScore float64 `json:"similarity_score"`
	IsDuplicate     bool    `json:"is_duplicate"`
	Reasoning       string  `json:"reasoning"`
}

// judgeCandidates is Stage D: per-candidate LLM similarity judgment. A
// failed judgment scores the candidate 0.0 rather than dropping it.
func (p *Pipeline) judgeCandidates(ctx context.Context, state *searchState) {
	for _, issue := range state.detailed {
		cand := types.SimilarityCandidate{
			Issue:   issue,
			AgeDays: issue.AgeDays(p.now()),
		}

		var j judgment
		if err := p.llm.CompleteJSON(ctx, judgeSystemPrompt, p.judgePrompt(state.analysis, issue), &j); err != nil {
			log.Printf("similarity: judgment for #%d failed: %v", issue.Number, err)
			cand.Reasoning = fmt.Sprintf("judgment failed: %v", err)
		} else {
			cand.Similarity = j.SimilarityScore
			cand.IsDuplicate = j.IsDuplicate
			cand.Reasoning = j.Reasoning
		}
		state.judged = append(state.judged, cand)
	}
}

func (p *Pipeline) judgePrompt(analysis types.IssueAnalysis, issue types.TrackerIssue) string {
	body := issue.Body
	if len(body) > bodyTruncateLen {
		body = body[:bodyTruncateLen]
	}
	return fmt.Sprintf(`New report:
Title: %s
Description:
%s

Existing issue #%d:
Title: %s
State: %s
Labels: %s
Created: %s
Body:
%s`,
		analysis.Title, analysis.Description,
		issue.Number, issue.Title, issue.State,
		strings.Join(issue.Labels, ", "),
		issue.CreatedAt.Format("2006-01-02"), body)
}

// scoreAndRank is Stage E: composite scoring, adaptive thresholding, then
// descending sort with a top-3 cut.
func (p *Pipeline) scoreAndRank(state *searchState) {
	var survivors []types.SimilarityCandidate
	for _, cand := range state.judged {
		if cand.Similarity <= p.scoring.threshold(cand) {
			log.Printf("similarity: #%d discarded (score %.2f, threshold %.2f)",
				cand.Issue.Number, cand.Similarity, p.scoring.threshold(cand))
			continue
		}
		cand.Composite = p.scoring.composite(cand)
		survivors = append(survivors, cand)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Composite > survivors[j].Composite
	})
	if len(survivors) > maxResults {
		survivors = survivors[:maxResults]
	}
	state.ranked = survivors
}
