// Package orchestrator coordinates issue creation: duplicate detection,
// error-monitor enrichment, body rendering, label validation, and the
// pending-confirmation gate for duplicate warnings.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/deputybot/deputy/internal/keywords"
	"github.com/deputybot/deputy/internal/monitor"
	"github.com/deputybot/deputy/internal/tracker"
	"github.com/deputybot/deputy/internal/types"
)

// ErrLowConfidence marks an analysis too uncertain to act on. Reported to
// the user before any tracker or pipeline call is made.
var ErrLowConfidence = errors.New("analysis confidence too low")

// ErrNoPending means the gate has no entry for a thread.
var ErrNoPending = errors.New("no pending issue for this thread")

// MinConfidence is the gate below which issue creation is refused.
const MinConfidence = 0.3

// Enrichment caps for the error-monitor cross-reference.
const (
	monitorMaxKeywords  = 3
	monitorPerKeyword   = 2
	monitorMaxTotal     = 3
	monitorSearchWindow = monitor.Window7d
)

// Result is the outcome of CreateIssue: exactly one of Created or
// Duplicates is set.
type Result struct {
	Created    *types.CreatedIssue
	Duplicates []types.SimilarityCandidate
	Warning    string // rendered duplicate warning, set with Duplicates
}

// Finder is the duplicate-detection capability.
type Finder interface {
	FindSimilar(ctx context.Context, analysis types.IssueAnalysis) []types.SimilarityCandidate
}

// Monitor is the error-monitor search capability.
type Monitor interface {
	Search(ctx context.Context, keyword string, window monitor.Window, limit int) ([]types.MonitorEntry, error)
}

// Orchestrator runs the issue-creation workflow.
type Orchestrator struct {
	tracker   tracker.Tracker
	finder    Finder
	monitor   Monitor // nil when the integration is not configured
	extractor keywords.Extractor

	mu         sync.RWMutex
	autoLabels []string

	assignee  string
	botHandle string // mention name used in confirmation prompts
}

// Config holds orchestrator construction options.
type Config struct {
	AutoLabels      []string
	DefaultAssignee string
	BotHandle       string
}

// New creates an Orchestrator. monitor may be nil.
func New(tr tracker.Tracker, finder Finder, mon Monitor, extractor keywords.Extractor, cfg Config) *Orchestrator {
	handle := cfg.BotHandle
	if handle == "" {
		handle = "deputy"
	}
	return &Orchestrator{
		tracker:    tr,
		finder:     finder,
		monitor:    mon,
		extractor:  extractor,
		autoLabels: cfg.AutoLabels,
		assignee:   cfg.DefaultAssignee,
		botHandle:  handle,
	}
}

// SetAutoLabels swaps the configured auto-label set. Called on config reload.
func (o *Orchestrator) SetAutoLabels(labels []string) {
	o.mu.Lock()
	o.autoLabels = labels
	o.mu.Unlock()
}

// CreateIssue runs the creation workflow. When force is false and the
// similarity pipeline reports candidates, no issue is created and the
// result carries the candidates plus a rendered warning for the user.
func (o *Orchestrator) CreateIssue(ctx context.Context, analysis types.IssueAnalysis, originLink string, messages []types.ThreadMessage, force bool) (*Result, error) {
	if analysis.Confidence < MinConfidence {
		return nil, fmt.Errorf("%w: %.2f", ErrLowConfidence, analysis.Confidence)
	}

	if !force {
		if candidates := o.finder.FindSimilar(ctx, analysis); len(candidates) > 0 {
			return &Result{
				Duplicates: candidates,
				Warning:    renderWarning(candidates, o.botHandle),
			}, nil
		}
	}

	entries := o.relatedMonitorEntries(ctx, analysis)

	if err := o.tracker.CheckAccess(ctx); err != nil {
		return nil, err
	}

	body := renderBody(analysis, originLink, messages, entries)
	labels := o.validLabels(ctx, analysis)

	var assignees []string
	if o.assignee != "" {
		assignees = []string{o.assignee}
	}

	created, err := o.tracker.Create(ctx, analysis.Title, body, labels, assignees)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	log.Printf("orchestrator: created issue #%d (%s)", created.Number, created.URL)
	return &Result{Created: &created}, nil
}

// relatedMonitorEntries cross-references the error monitor: up to three
// keywords, two entries per keyword, three total, deduplicated by id.
// Per-keyword failures are logged and skipped.
func (o *Orchestrator) relatedMonitorEntries(ctx context.Context, analysis types.IssueAnalysis) []types.MonitorEntry {
	if o.monitor == nil {
		return nil
	}

	kws, err := o.extractor.Extract(ctx, analysis)
	if err != nil {
		log.Printf("orchestrator: keyword extraction for monitor enrichment failed: %v", err)
		return nil
	}
	if len(kws) > monitorMaxKeywords {
		kws = kws[:monitorMaxKeywords]
	}

	seen := make(map[string]bool)
	var out []types.MonitorEntry
	for _, kw := range kws {
		entries, err := o.monitor.Search(ctx, kw, monitorSearchWindow, monitorPerKeyword)
		if err != nil {
			log.Printf("orchestrator: monitor search for %q failed: %v", kw, err)
			continue
		}
		for _, e := range entries {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
			if len(out) == monitorMaxTotal {
				return out
			}
		}
	}
	return out
}

// validLabels unions the analysis labels with the configured auto-labels,
// then drops anything not defined in the repository. A failed label lookup
// drops all labels rather than failing creation.
func (o *Orchestrator) validLabels(ctx context.Context, analysis types.IssueAnalysis) []string {
	o.mu.RLock()
	auto := o.autoLabels
	o.mu.RUnlock()
	requested := append(append([]string{}, analysis.Labels...), auto...)

	available, err := o.tracker.ListLabels(ctx)
	if err != nil {
		log.Printf("orchestrator: label lookup failed, creating without labels: %v", err)
		return nil
	}
	valid := make(map[string]bool, len(available))
	for _, l := range available {
		valid[l] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, l := range requested {
		if seen[l] {
			continue
		}
		seen[l] = true
		if !valid[l] {
			log.Printf("orchestrator: dropping label %q: not defined in repository", l)
			continue
		}
		out = append(out, l)
	}
	return out
}
