package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deputybot/deputy/internal/chat"
	"github.com/deputybot/deputy/internal/monitor"
	"github.com/deputybot/deputy/internal/orchestrator"
	"github.com/deputybot/deputy/internal/types"
)

type fakeTransport struct {
	events   chan chat.Event
	sent     []string
	sentTo   []string // threadID per send
	thread   []types.ThreadMessage
	fetchErr error
	name     string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan chat.Event, 4), name: "dev-help"}
}

func (f *fakeTransport) Events() <-chan chat.Event { return f.events }

func (f *fakeTransport) Send(ctx context.Context, channelID, threadID, text string) error {
	f.sent = append(f.sent, text)
	f.sentTo = append(f.sentTo, threadID)
	return nil
}

func (f *fakeTransport) FetchThread(ctx context.Context, channelID, rootID string) ([]types.ThreadMessage, error) {
	return f.thread, f.fetchErr
}

func (f *fakeTransport) Permalink(ctx context.Context, channelID, rootID string) (string, error) {
	return "https://chat.example.com/p/" + rootID, nil
}

func (f *fakeTransport) ChannelName(ctx context.Context, channelID string) (string, error) {
	return f.name, nil
}

type fakeAnalyzer struct {
	analysis types.IssueAnalysis
	got      []types.ThreadMessage
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, messages []types.ThreadMessage) types.IssueAnalysis {
	f.got = messages
	return f.analysis
}

type fakeCreator struct {
	result *orchestrator.Result
	err    error
	calls  int
	forced []bool
	links  []string
}

func (f *fakeCreator) CreateIssue(ctx context.Context, analysis types.IssueAnalysis, originLink string, messages []types.ThreadMessage, force bool) (*orchestrator.Result, error) {
	f.calls++
	f.forced = append(f.forced, force)
	f.links = append(f.links, originLink)
	return f.result, f.err
}

type fakeGate struct {
	registered []string
	yesResult  *orchestrator.Result
	yesErr     error
	yesThreads []string
	noErr      error
	noThreads  []string
}

func (f *fakeGate) Register(threadID string, analysis types.IssueAnalysis, originLink string, messages []types.ThreadMessage, channelID string) {
	f.registered = append(f.registered, threadID)
}

func (f *fakeGate) ResolveYes(ctx context.Context, threadID string) (*orchestrator.Result, error) {
	f.yesThreads = append(f.yesThreads, threadID)
	return f.yesResult, f.yesErr
}

func (f *fakeGate) ResolveNo(threadID string) error {
	f.noThreads = append(f.noThreads, threadID)
	return f.noErr
}

func (f *fakeGate) PendingCount() int { return len(f.registered) }

type fakeMonitor struct {
	entries []types.MonitorEntry
	stats   monitor.Stats
	err     error
	queries []string
	windows []monitor.Window
}

func (f *fakeMonitor) Search(ctx context.Context, keyword string, window monitor.Window, limit int) ([]types.MonitorEntry, error) {
	f.queries = append(f.queries, keyword)
	f.windows = append(f.windows, window)
	return f.entries, f.err
}

func (f *fakeMonitor) Top(ctx context.Context, window monitor.Window, limit int) ([]types.MonitorEntry, error) {
	f.windows = append(f.windows, window)
	return f.entries, f.err
}

func (f *fakeMonitor) GetStats(ctx context.Context, window monitor.Window) (monitor.Stats, error) {
	f.windows = append(f.windows, window)
	return f.stats, f.err
}

type harness struct {
	transport *fakeTransport
	analyzer  *fakeAnalyzer
	creator   *fakeCreator
	gate      *fakeGate
	monitor   *fakeMonitor
	bot       *Bot
}

func newHarness(mon Monitor) *harness {
	h := &harness{
		transport: newFakeTransport(),
		analyzer:  &fakeAnalyzer{analysis: types.IssueAnalysis{Title: "t", Confidence: 0.9}},
		creator:   &fakeCreator{},
		gate:      &fakeGate{},
		monitor:   &fakeMonitor{},
	}
	if mon == nil {
		mon = h.monitor
	}
	h.bot = New(h.transport, h.analyzer, h.creator, h.gate, mon, Config{
		BotName: "deputy",
		Repo:    "acme/widgets",
	})
	return h
}

func mention(text string) chat.Event {
	return chat.Event{
		UserID:    "U123",
		ChannelID: "C01",
		MessageID: "1700000000.000100",
		Text:      "<@UBOT> " + text,
	}
}

func lastSent(t *testing.T, tr *fakeTransport) string {
	t.Helper()
	require.NotEmpty(t, tr.sent)
	return tr.sent[len(tr.sent)-1]
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in, cmd, rest string
	}{
		{"<@UBOT> create-issue", "create-issue", ""},
		{"<@UBOT> Create-Issue the login page is broken", "create-issue", "the login page is broken"},
		{"<@UBOT>", "help", ""},
		{"  <@UBOT>   YES  ", "yes", ""},
		{"<@UBOT> sentry top 7d", "sentry", "top 7d"},
	}
	for _, tt := range tests {
		cmd, rest := parseCommand(tt.in)
		assert.Equal(t, tt.cmd, cmd, tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
	}
}

func TestCreateFromThread(t *testing.T) {
	h := newHarness(nil)
	h.transport.thread = []types.ThreadMessage{{Author: "U1", Text: "it broke"}}
	h.creator.result = &orchestrator.Result{Created: &types.CreatedIssue{Number: 5, URL: "https://github.com/acme/widgets/issues/5"}}

	h.bot.handle(context.Background(), mention("create-issue"))

	assert.Contains(t, h.transport.sent[0], "Analyzing thread")
	assert.Equal(t, "✅ Created issue: https://github.com/acme/widgets/issues/5", lastSent(t, h.transport))
	require.Len(t, h.creator.forced, 1)
	assert.False(t, h.creator.forced[0])
	assert.Equal(t, "https://chat.example.com/p/1700000000.000100", h.creator.links[0])
	assert.Equal(t, h.transport.thread, h.analyzer.got)
}

func TestCreateFromInlineDescription(t *testing.T) {
	h := newHarness(nil)
	h.creator.result = &orchestrator.Result{Created: &types.CreatedIssue{URL: "u"}}

	h.bot.handle(context.Background(), mention("create-issue login returns 500 after deploy"))

	assert.Contains(t, h.transport.sent[0], "from your description")
	require.Len(t, h.analyzer.got, 1)
	assert.Equal(t, "U123", h.analyzer.got[0].Author)
	assert.Equal(t, "login returns 500 after deploy", h.analyzer.got[0].Text)
}

func TestCreateEmptyThread(t *testing.T) {
	h := newHarness(nil)

	h.bot.handle(context.Background(), mention("create-issue"))

	assert.Contains(t, lastSent(t, h.transport), "Nothing to analyze")
	assert.Zero(t, h.creator.calls)
}

func TestCreateLowConfidence(t *testing.T) {
	h := newHarness(nil)
	h.transport.thread = []types.ThreadMessage{{Author: "U1", Text: "hm"}}
	h.analyzer.analysis = types.IssueAnalysis{Title: "t", Confidence: 0.15}
	h.creator.err = fmt.Errorf("%w: 0.15", orchestrator.ErrLowConfidence)

	h.bot.handle(context.Background(), mention("create-issue"))

	got := lastSent(t, h.transport)
	assert.Contains(t, got, "confidence too low (0.15)")
	assert.Contains(t, got, "more details")
}

func TestCreateDuplicatesRegistersGate(t *testing.T) {
	h := newHarness(nil)
	h.transport.thread = []types.ThreadMessage{{Author: "U1", Text: "broken"}}
	h.creator.result = &orchestrator.Result{
		Duplicates: []types.SimilarityCandidate{{Issue: types.TrackerIssue{Number: 1}}},
		Warning:    "⚠️ **Similar Issues Found:**",
	}

	ev := mention("create-issue")
	ev.ParentID = "1699999999.000001" // reply inside an existing thread
	h.bot.handle(context.Background(), ev)

	require.Len(t, h.gate.registered, 1)
	assert.Equal(t, "1699999999.000001", h.gate.registered[0])
	assert.Equal(t, "⚠️ **Similar Issues Found:**", lastSent(t, h.transport))
}

func TestForceCreateSkipsNothing(t *testing.T) {
	h := newHarness(nil)
	h.transport.thread = []types.ThreadMessage{{Author: "U1", Text: "broken"}}
	h.creator.result = &orchestrator.Result{Created: &types.CreatedIssue{URL: "u"}}

	h.bot.handle(context.Background(), mention("force-create-issue"))

	require.Len(t, h.creator.forced, 1)
	assert.True(t, h.creator.forced[0])
}

func TestYesResolvesAtThreadRoot(t *testing.T) {
	h := newHarness(nil)
	h.gate.yesResult = &orchestrator.Result{Created: &types.CreatedIssue{URL: "u"}}

	ev := mention("yes")
	ev.ParentID = "1699999999.000001"
	h.bot.handle(context.Background(), ev)

	require.Len(t, h.gate.yesThreads, 1)
	assert.Equal(t, "1699999999.000001", h.gate.yesThreads[0])
	assert.Equal(t, "✅ Created issue: u", lastSent(t, h.transport))
}

func TestYesWithoutPending(t *testing.T) {
	h := newHarness(nil)
	h.gate.yesErr = orchestrator.ErrNoPending

	h.bot.handle(context.Background(), mention("yes"))

	assert.Contains(t, lastSent(t, h.transport), "No pending issue found")
}

func TestNoCancels(t *testing.T) {
	h := newHarness(nil)

	h.bot.handle(context.Background(), mention("no"))
	// gate accepts it, bot acknowledges the cancellation
	h.gate.noErr = orchestrator.ErrNoPending
	h.bot.handle(context.Background(), mention("no"))

	assert.Contains(t, h.transport.sent[0], "Cancelled")
	assert.Contains(t, h.transport.sent[1], "No pending issue found")
}

func TestDisallowedChannelIsIgnored(t *testing.T) {
	h := newHarness(nil)
	h.bot.SetChannelFilter(func(name string) bool { return name == "incidents" })
	h.transport.name = "random"

	h.bot.handle(context.Background(), mention("create-issue"))

	assert.Empty(t, h.transport.sent)
	assert.Zero(t, h.creator.calls)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(nil)
	h.bot.handle(context.Background(), mention("banana"))
	assert.Contains(t, lastSent(t, h.transport), "Unknown command `banana`")
}

func TestRepliesAreThreaded(t *testing.T) {
	h := newHarness(nil)
	h.bot.handle(context.Background(), mention("help"))

	require.Len(t, h.transport.sentTo, 1)
	assert.Equal(t, "1700000000.000100", h.transport.sentTo[0])
}

func TestSentryNotConfigured(t *testing.T) {
	h := &harness{
		transport: newFakeTransport(),
		analyzer:  &fakeAnalyzer{},
		creator:   &fakeCreator{},
		gate:      &fakeGate{},
	}
	h.bot = New(h.transport, h.analyzer, h.creator, h.gate, nil, Config{BotName: "deputy"})

	h.bot.handle(context.Background(), mention("sentry top"))

	assert.Contains(t, lastSent(t, h.transport), "not configured")
}

func TestSentryTop(t *testing.T) {
	h := newHarness(nil)
	h.monitor.entries = []types.MonitorEntry{{
		ShortID: "DEP-1", Title: "DB timeout", Level: "error", Count: 1234,
		LastSeen:  time.Now().Add(-3 * time.Hour).Format(time.RFC3339),
		Permalink: "https://sentry.io/x",
	}}

	h.bot.handle(context.Background(), mention("sentry top 7d"))

	require.Equal(t, []monitor.Window{monitor.Window7d}, h.monitor.windows)
	got := lastSent(t, h.transport)
	assert.Contains(t, got, "🔴 **DEP-1**: DB timeout")
	assert.Contains(t, got, "1.2k events")
	assert.Contains(t, got, "3h ago")
}

func TestSentrySearchPeelsWindow(t *testing.T) {
	h := newHarness(nil)

	h.bot.handle(context.Background(), mention("sentry search connection reset 7d"))

	require.Equal(t, []string{"connection reset"}, h.monitor.queries)
	assert.Equal(t, []monitor.Window{monitor.Window7d}, h.monitor.windows)
}

func TestSentrySearchDefaultsTo24h(t *testing.T) {
	h := newHarness(nil)

	h.bot.handle(context.Background(), mention("sentry search timeout"))

	require.Equal(t, []string{"timeout"}, h.monitor.queries)
	assert.Equal(t, []monitor.Window{monitor.Window24h}, h.monitor.windows)
}

func TestSentryBadWindow(t *testing.T) {
	h := newHarness(nil)

	h.bot.handle(context.Background(), mention("sentry top 30d"))

	assert.Empty(t, h.monitor.windows)
	assert.Contains(t, lastSent(t, h.transport), "❌")
}

func TestSentryStats(t *testing.T) {
	h := newHarness(nil)
	h.monitor.stats = monitor.Stats{Issues: 3, TotalEvents: 42, ByLevel: map[string]int{"error": 2, "warning": 1}}

	h.bot.handle(context.Background(), mention("sentry stats"))

	got := lastSent(t, h.transport)
	assert.Contains(t, got, "Unresolved issues: 3")
	assert.Contains(t, got, "Total events: 42")
	assert.Contains(t, got, "🔴 error: 2")
}

func TestStatus(t *testing.T) {
	h := newHarness(nil)

	h.bot.handle(context.Background(), mention("status"))

	got := lastSent(t, h.transport)
	assert.Contains(t, got, "acme/widgets")
	assert.Contains(t, got, "Sentry: enabled")
	assert.Contains(t, got, "Pending confirmations: 0")
}

func TestRunStopsWhenStreamCloses(t *testing.T) {
	h := newHarness(nil)
	close(h.transport.events)

	err := h.bot.Run(context.Background())
	assert.NoError(t, err)
}

func TestRelativeTimeUnparseable(t *testing.T) {
	assert.Equal(t, "yesterday-ish", relativeTime("yesterday-ish"))
}

func TestAbbreviateCount(t *testing.T) {
	assert.Equal(t, "999", abbreviateCount(999))
	assert.Equal(t, "1.0k", abbreviateCount(1000))
	assert.Equal(t, "12.3k", abbreviateCount(12345))
}
