package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deputybot/deputy/internal/chat"
	"github.com/deputybot/deputy/internal/monitor"
	"github.com/deputybot/deputy/internal/types"
)

// handleSentry dispatches the sentry subcommands: top, search, stats.
func (b *Bot) handleSentry(ctx context.Context, ev chat.Event, rest string) {
	if b.monitor == nil {
		b.reply(ctx, ev, "❌ Sentry integration is not configured.")
		return
	}

	sub, args, _ := strings.Cut(rest, " ")
	args = strings.TrimSpace(args)

	switch strings.ToLower(sub) {
	case "", "top":
		window, err := sentryWindow(args)
		if err != nil {
			b.reply(ctx, ev, fmt.Sprintf("❌ %v", err))
			return
		}
		entries, err := b.monitor.Top(ctx, window, sentryQueryLimit)
		if err != nil {
			b.reply(ctx, ev, fmt.Sprintf("❌ Sentry query failed: %v", err))
			return
		}
		b.reply(ctx, ev, renderEntries(fmt.Sprintf("🔝 Top Sentry issues (%s)", window), entries))

	case "search":
		query, windowArg := splitTrailingWindow(args)
		if query == "" {
			b.reply(ctx, ev, fmt.Sprintf("❌ Usage: `@%s sentry search <query> [24h|7d]`", b.botName))
			return
		}
		window, err := sentryWindow(windowArg)
		if err != nil {
			b.reply(ctx, ev, fmt.Sprintf("❌ %v", err))
			return
		}
		entries, err := b.monitor.Search(ctx, query, window, sentryQueryLimit)
		if err != nil {
			b.reply(ctx, ev, fmt.Sprintf("❌ Sentry query failed: %v", err))
			return
		}
		b.reply(ctx, ev, renderEntries(fmt.Sprintf("🔍 Sentry issues matching %q (%s)", query, window), entries))

	case "stats":
		window, err := sentryWindow(args)
		if err != nil {
			b.reply(ctx, ev, fmt.Sprintf("❌ %v", err))
			return
		}
		stats, err := b.monitor.GetStats(ctx, window)
		if err != nil {
			b.reply(ctx, ev, fmt.Sprintf("❌ Sentry query failed: %v", err))
			return
		}
		b.reply(ctx, ev, renderStats(window, stats))

	default:
		b.reply(ctx, ev, fmt.Sprintf("❓ Unknown sentry subcommand `%s`. Use `top`, `search`, or `stats`.", sub))
	}
}

// sentryWindow parses an optional window argument, defaulting to 24h.
func sentryWindow(arg string) (monitor.Window, error) {
	if arg == "" {
		return monitor.Window24h, nil
	}
	return monitor.ParseWindow(arg)
}

// splitTrailingWindow peels a trailing window token off a search query, so
// "connection reset 7d" queries "connection reset" over seven days.
func splitTrailingWindow(args string) (query, window string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", ""
	}
	last := fields[len(fields)-1]
	if _, err := monitor.ParseWindow(last); err == nil {
		return strings.Join(fields[:len(fields)-1], " "), last
	}
	return strings.Join(fields, " "), ""
}

func renderEntries(header string, entries []types.MonitorEntry) string {
	if len(entries) == 0 {
		return header + "\n\nNo issues found. 🎉"
	}
	var b strings.Builder
	b.WriteString(header + "\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s **%s**: %s\n   %s events · last seen %s\n   %s\n",
			levelGlyph(e.Level), e.ShortID, e.Title,
			abbreviateCount(e.Count), relativeTime(e.LastSeen), e.Permalink)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStats(window monitor.Window, stats monitor.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Sentry stats (%s)**\n", window)
	fmt.Fprintf(&b, "• Unresolved issues: %d\n", stats.Issues)
	fmt.Fprintf(&b, "• Total events: %s\n", abbreviateCount(stats.TotalEvents))
	for _, level := range []string{"fatal", "error", "warning", "info"} {
		if n := stats.ByLevel[level]; n > 0 {
			fmt.Fprintf(&b, "• %s %s: %d\n", levelGlyph(level), level, n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func levelGlyph(level string) string {
	switch level {
	case "error", "fatal":
		return "🔴"
	case "warning":
		return "🟡"
	case "info":
		return "🔵"
	}
	return "⚪"
}

// abbreviateCount renders 1234 as "1.2k".
func abbreviateCount(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

// relativeTime renders an RFC3339 timestamp as a coarse age. The raw value
// is returned when it does not parse.
func relativeTime(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
