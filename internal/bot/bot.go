// Package bot is the command boundary: it reads mention events from the
// chat transport, parses the command, and dispatches into the analyzer,
// orchestrator, gate, and error monitor.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/deputybot/deputy/internal/chat"
	"github.com/deputybot/deputy/internal/monitor"
	"github.com/deputybot/deputy/internal/orchestrator"
	"github.com/deputybot/deputy/internal/telemetry"
	"github.com/deputybot/deputy/internal/types"
)

// Transport is the chat capability the bot consumes: the send/fetch surface
// plus the inbound mention stream.
type Transport interface {
	chat.Transport
	Events() <-chan chat.Event
}

// Analyzer turns a thread into a structured issue analysis.
type Analyzer interface {
	Analyze(ctx context.Context, messages []types.ThreadMessage) types.IssueAnalysis
}

// Creator is the issue-creation workflow. Satisfied by *orchestrator.Orchestrator.
type Creator interface {
	CreateIssue(ctx context.Context, analysis types.IssueAnalysis, originLink string, messages []types.ThreadMessage, force bool) (*orchestrator.Result, error)
}

// Gate is the pending-confirmation registry. Satisfied by *orchestrator.Gate.
type Gate interface {
	Register(threadID string, analysis types.IssueAnalysis, originLink string, messages []types.ThreadMessage, channelID string)
	ResolveYes(ctx context.Context, threadID string) (*orchestrator.Result, error)
	ResolveNo(threadID string) error
	PendingCount() int
}

// Monitor is the error-monitor query surface for the sentry commands.
type Monitor interface {
	Search(ctx context.Context, keyword string, window monitor.Window, limit int) ([]types.MonitorEntry, error)
	Top(ctx context.Context, window monitor.Window, limit int) ([]types.MonitorEntry, error)
	GetStats(ctx context.Context, window monitor.Window) (monitor.Stats, error)
}

// mentionRe matches Slack-style user mention tokens embedded in message text.
var mentionRe = regexp.MustCompile(`<@[^>]+>`)

const sentryQueryLimit = 5

var (
	botMetricsOnce  sync.Once
	commandsCounter metric.Int64Counter
)

func initBotMetrics() {
	botMetricsOnce.Do(func() {
		meter := telemetry.Meter("github.com/deputybot/deputy/bot")
		commandsCounter, _ = meter.Int64Counter("deputy.bot.commands",
			metric.WithDescription("Mention commands dispatched, by command name"))
	})
}

// Config holds the bot's identity and channel policy.
type Config struct {
	BotName string
	Repo    string // owner/name, shown in status replies

	// ChannelAllowed filters events by channel name. Nil allows all.
	ChannelAllowed func(name string) bool
}

// Bot is the mention-command event loop.
type Bot struct {
	transport Transport
	analyzer  Analyzer
	creator   Creator
	gate      Gate
	monitor   Monitor // nil when the integration is not configured

	botName string
	repo    string

	mu      sync.RWMutex
	allowed func(name string) bool
}

// New creates a Bot. monitor may be nil.
func New(transport Transport, analyzer Analyzer, creator Creator, gate Gate, mon Monitor, cfg Config) *Bot {
	name := cfg.BotName
	if name == "" {
		name = "deputy"
	}
	initBotMetrics()
	return &Bot{
		transport: transport,
		analyzer:  analyzer,
		creator:   creator,
		gate:      gate,
		monitor:   mon,
		botName:   name,
		repo:      cfg.Repo,
		allowed:   cfg.ChannelAllowed,
	}
}

// SetChannelFilter swaps the channel allow-list predicate. Called on config
// reload.
func (b *Bot) SetChannelFilter(allowed func(name string) bool) {
	b.mu.Lock()
	b.allowed = allowed
	b.mu.Unlock()
}

func (b *Bot) channelAllowed(name string) bool {
	b.mu.RLock()
	allowed := b.allowed
	b.mu.RUnlock()
	return allowed == nil || allowed(name)
}

// Run processes mention events in arrival order until ctx is canceled or
// the transport's event stream closes.
func (b *Bot) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-b.transport.Events():
			if !ok {
				return nil
			}
			b.handle(ctx, ev)
		}
	}
}

func (b *Bot) handle(ctx context.Context, ev chat.Event) {
	name, err := b.transport.ChannelName(ctx, ev.ChannelID)
	if err != nil {
		log.Printf("bot: channel name lookup for %s failed: %v", ev.ChannelID, err)
		name = ev.ChannelID
	}
	if !b.channelAllowed(name) {
		log.Printf("bot: ignoring mention in disallowed channel #%s", name)
		return
	}

	cmd, rest := parseCommand(ev.Text)
	commandsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("command", cmd)))
	log.Printf("bot: %s from %s in #%s", cmd, ev.UserID, name)

	switch cmd {
	case "help":
		b.reply(ctx, ev, b.helpText())
	case "status":
		b.reply(ctx, ev, b.statusText())
	case "create-issue":
		b.handleCreate(ctx, ev, rest, false)
	case "force-create-issue":
		b.handleCreate(ctx, ev, rest, true)
	case "sentry":
		b.handleSentry(ctx, ev, rest)
	case "yes":
		b.handleYes(ctx, ev)
	case "no":
		b.handleNo(ctx, ev)
	default:
		b.reply(ctx, ev, fmt.Sprintf("❓ Unknown command `%s`. Try `@%s help`.", cmd, b.botName))
	}
}

// parseCommand strips mention tokens and splits the first word from the rest.
func parseCommand(text string) (cmd, rest string) {
	text = strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
	if text == "" {
		return "help", ""
	}
	cmd, rest, _ = strings.Cut(text, " ")
	return strings.ToLower(cmd), strings.TrimSpace(rest)
}

func (b *Bot) handleCreate(ctx context.Context, ev chat.Event, description string, force bool) {
	var messages []types.ThreadMessage
	if description != "" {
		// inline description: analyze it as a single-message thread
		messages = []types.ThreadMessage{{
			Author:    ev.UserID,
			Text:      description,
			Timestamp: ev.MessageID,
		}}
		b.reply(ctx, ev, "🔍 Analyzing from your description...")
	} else {
		var err error
		messages, err = b.transport.FetchThread(ctx, ev.ChannelID, ev.RootID())
		if err != nil {
			b.reply(ctx, ev, fmt.Sprintf("❌ Failed to fetch thread: %v", err))
			return
		}
		if len(messages) == 0 {
			b.reply(ctx, ev, fmt.Sprintf("❌ Nothing to analyze here. Reply in a thread, or use `@%s create-issue <description>`.", b.botName))
			return
		}
		b.reply(ctx, ev, "🔍 Analyzing thread...")
	}

	analysis := b.analyzer.Analyze(ctx, messages)

	originLink, err := b.transport.Permalink(ctx, ev.ChannelID, ev.RootID())
	if err != nil {
		log.Printf("bot: permalink lookup failed: %v", err)
		originLink = ""
	}

	result, err := b.creator.CreateIssue(ctx, analysis, originLink, messages, force)
	switch {
	case errors.Is(err, orchestrator.ErrLowConfidence):
		b.reply(ctx, ev, fmt.Sprintf("❌ Analysis confidence too low (%.2f). Try providing more details about the problem.", analysis.Confidence))
	case err != nil:
		b.reply(ctx, ev, fmt.Sprintf("❌ Failed to create issue: %v", err))
	case len(result.Duplicates) > 0:
		b.gate.Register(ev.RootID(), analysis, originLink, messages, ev.ChannelID)
		b.reply(ctx, ev, result.Warning)
	default:
		b.reply(ctx, ev, fmt.Sprintf("✅ Created issue: %s", result.Created.URL))
	}
}

func (b *Bot) handleYes(ctx context.Context, ev chat.Event) {
	result, err := b.gate.ResolveYes(ctx, ev.RootID())
	switch {
	case errors.Is(err, orchestrator.ErrNoPending):
		b.reply(ctx, ev, fmt.Sprintf("❌ No pending issue found for this thread. Run `@%s create-issue` first.", b.botName))
	case err != nil:
		b.reply(ctx, ev, fmt.Sprintf("❌ Failed to create issue: %v", err))
	default:
		b.reply(ctx, ev, fmt.Sprintf("✅ Created issue: %s", result.Created.URL))
	}
}

func (b *Bot) handleNo(ctx context.Context, ev chat.Event) {
	if err := b.gate.ResolveNo(ev.RootID()); errors.Is(err, orchestrator.ErrNoPending) {
		b.reply(ctx, ev, "❌ No pending issue found for this thread.")
		return
	}
	b.reply(ctx, ev, "👍 Cancelled. No issue created.")
}

func (b *Bot) reply(ctx context.Context, ev chat.Event, text string) {
	if err := b.transport.Send(ctx, ev.ChannelID, ev.RootID(), text); err != nil {
		log.Printf("bot: reply to %s failed: %v", ev.ChannelID, err)
	}
}

func (b *Bot) helpText() string {
	n := b.botName
	return fmt.Sprintf(`👋 I'm **%s**. Mention me with one of:

• `+"`@%s create-issue [description]`"+` — analyze this thread (or your description) and file a GitHub issue
• `+"`@%s force-create-issue [description]`"+` — same, but skip the duplicate check
• `+"`@%s yes`"+` / `+"`@%s no`"+` — confirm or cancel after a duplicate warning
• `+"`@%s sentry top|search|stats [24h|7d]`"+` — query Sentry
• `+"`@%s status`"+` — show my configuration`, n, n, n, n, n, n, n)
}

func (b *Bot) statusText() string {
	sentry := "disabled"
	if b.monitor != nil {
		sentry = "enabled"
	}
	return fmt.Sprintf("📊 **%s status**\n• Repository: %s\n• Sentry: %s\n• Pending confirmations: %d",
		b.botName, b.repo, sentry, b.gate.PendingCount())
}
