// Package chat defines the transport contract between deputy and the team
// chat service, plus the Slack Socket Mode implementation.
package chat

import (
	"context"

	"github.com/deputybot/deputy/internal/types"
)

// Event is one inbound mention delivered by the transport, in arrival order.
type Event struct {
	UserID    string
	ChannelID string
	MessageID string
	ParentID  string // empty when the message starts its own thread
	Text      string
}

// RootID resolves the conversation-thread identifier for this event: the
// parent id when the message is a reply, otherwise its own id. Register and
// resolve paths must both go through this rule.
func (e Event) RootID() string {
	if e.ParentID != "" {
		return e.ParentID
	}
	return e.MessageID
}

// Transport is the chat capability consumed by the bot.
type Transport interface {
	// Send posts text to a channel; threadID threads the reply when non-empty.
	Send(ctx context.Context, channelID, threadID, text string) error

	// FetchThread returns the ordered messages of a thread, bot's own
	// messages excluded.
	FetchThread(ctx context.Context, channelID, rootID string) ([]types.ThreadMessage, error)

	// Permalink returns a back-link to the thread root.
	Permalink(ctx context.Context, channelID, rootID string) (string, error)

	// ChannelName resolves a channel id to its display name.
	ChannelName(ctx context.Context, channelID string) (string, error)
}
