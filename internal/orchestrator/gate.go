package orchestrator

import (
	"context"
	"log"
	"sync"

	"github.com/deputybot/deputy/internal/types"
)

// IssueCreator is what the gate calls when a pending confirmation is
// affirmed. Satisfied by *Orchestrator.
type IssueCreator interface {
	CreateIssue(ctx context.Context, analysis types.IssueAnalysis, originLink string, messages []types.ThreadMessage, force bool) (*Result, error)
}

// pendingEntry is one suspended issue-creation request.
type pendingEntry struct {
	analysis   types.IssueAnalysis
	originLink string
	messages   []types.ThreadMessage
	channelID  string
}

// Gate is the pending-confirmation registry, keyed by conversation-thread
// id. At most one entry per thread; a fresh register overwrites.
type Gate struct {
	creator IssueCreator

	mu      sync.Mutex
	pending map[string]pendingEntry
}

// NewGate creates a Gate backed by creator.
func NewGate(creator IssueCreator) *Gate {
	return &Gate{
		creator: creator,
		pending: make(map[string]pendingEntry),
	}
}

// Register suspends an issue-creation request behind a yes/no confirmation.
// A second registration on the same thread overwrites the first.
func (g *Gate) Register(threadID string, analysis types.IssueAnalysis, originLink string, messages []types.ThreadMessage, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.pending[threadID]; exists {
		log.Printf("gate: overwriting pending confirmation for thread %s", threadID)
	}
	g.pending[threadID] = pendingEntry{
		analysis:   analysis,
		originLink: originLink,
		messages:   messages,
		channelID:  channelID,
	}
}

// Pending reports whether a confirmation is waiting on this thread.
func (g *Gate) Pending(threadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[threadID]
	return ok
}

// PendingCount returns the number of suspended confirmations.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// take removes and returns the entry for threadID.
func (g *Gate) take(threadID string) (pendingEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.pending[threadID]
	if ok {
		delete(g.pending, threadID)
	}
	return entry, ok
}

// ResolveYes confirms the pending request for threadID and forces creation.
// The entry is removed before the create call, so even a failed creation
// never leaves the thread stuck with a stale entry.
func (g *Gate) ResolveYes(ctx context.Context, threadID string) (*Result, error) {
	entry, ok := g.take(threadID)
	if !ok {
		return nil, ErrNoPending
	}
	return g.creator.CreateIssue(ctx, entry.analysis, entry.originLink, entry.messages, true)
}

// ResolveNo cancels the pending request for threadID. No tracker call.
func (g *Gate) ResolveNo(threadID string) error {
	if _, ok := g.take(threadID); !ok {
		return ErrNoPending
	}
	return nil
}
