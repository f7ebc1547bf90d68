package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/deputybot/deputy/internal/types"
)

// SlackAPI abstracts the subset of slack.Client methods used by the transport.
// This allows tests to substitute a mock implementation without a live
// Slack connection.
type SlackAPI interface {
	AuthTest() (*slack.AuthTestResponse, error)
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationReplies(params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetPermalink(params *slack.PermalinkParameters) (string, error)
	GetConversationInfo(input *slack.GetConversationInfoInput) (*slack.Channel, error)
}

// Slack is the Socket Mode transport. Inbound app mentions are delivered on
// Events() in arrival order.
type Slack struct {
	client     SlackAPI
	socketMode *socketmode.Client
	events     chan Event

	botUserID string

	channelCache   map[string]string // channel ID → name
	channelCacheMu sync.RWMutex
}

// SlackConfig holds Slack connection settings.
type SlackConfig struct {
	BotToken string // xoxb-...
	AppToken string // xapp-... (Socket Mode)
	Debug    bool
}

// NewSlack creates a Socket Mode Slack transport.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("app token is required for Socket Mode")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("app token must start with xapp-")
	}

	client := slack.New(
		cfg.BotToken,
		slack.OptionDebug(cfg.Debug),
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(cfg.Debug),
	)

	return &Slack{
		client:       client,
		socketMode:   socketClient,
		events:       make(chan Event, 16),
		channelCache: make(map[string]string),
	}, nil
}

// newSlackForTest creates a Slack transport with an injectable mock API.
// No Slack connection or token validation is performed.
func newSlackForTest(api SlackAPI) *Slack {
	return &Slack{
		client:       api,
		events:       make(chan Event, 16),
		channelCache: make(map[string]string),
	}
}

// Events returns the inbound mention stream.
func (s *Slack) Events() <-chan Event { return s.events }

// BotUserID returns the bot's own user id, known after Run connects.
func (s *Slack) BotUserID() string { return s.botUserID }

// Run starts the Socket Mode event loop. Blocks until ctx is canceled.
func (s *Slack) Run(ctx context.Context) error {
	authResp, err := s.client.AuthTest()
	if err != nil {
		return fmt.Errorf("auth test: %w", err)
	}
	s.botUserID = authResp.UserID
	log.Printf("chat: bot user ID: %s", s.botUserID)

	go func() {
		defer close(s.events)
		for evt := range s.socketMode.Events {
			s.handleEvent(evt)
		}
	}()

	return s.socketMode.RunContext(ctx)
}

func (s *Slack) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("chat: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Println("chat: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("chat: connection error: %v", evt.Data)

	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		s.socketMode.Ack(*evt.Request)
		s.handleEventsAPI(eventsAPIEvent)
	}
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.User == s.botUserID {
			return
		}
		s.events <- Event{
			UserID:    ev.User,
			ChannelID: ev.Channel,
			MessageID: ev.TimeStamp,
			ParentID:  ev.ThreadTimeStamp,
			Text:      ev.Text,
		}
	}
}

// Send posts text to channelID, threaded under threadID when non-empty.
func (s *Slack) Send(ctx context.Context, channelID, threadID, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	_, _, err := s.client.PostMessage(channelID, opts...)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// FetchThread returns the thread rooted at rootID, oldest first, with the
// bot's own messages filtered out.
func (s *Slack) FetchThread(ctx context.Context, channelID, rootID string) ([]types.ThreadMessage, error) {
	msgs, _, _, err := s.client.GetConversationReplies(&slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: rootID,
		Inclusive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch thread %s: %w", rootID, err)
	}

	out := make([]types.ThreadMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.User == s.botUserID || m.BotID != "" {
			continue
		}
		out = append(out, types.ThreadMessage{
			Author:      m.User,
			Text:        m.Text,
			Timestamp:   m.Timestamp,
			Attachments: convertFiles(m.Files),
		})
	}
	return out, nil
}

func convertFiles(files []slack.File) []types.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]types.Attachment, 0, len(files))
	for _, f := range files {
		out = append(out, types.Attachment{
			URL:      f.URLPrivate,
			Filename: f.Name,
			MimeType: f.Mimetype,
			Size:     int64(f.Size),
			IsImage:  strings.HasPrefix(f.Mimetype, "image/"),
		})
	}
	return out
}

// Permalink returns a link to the thread root message.
func (s *Slack) Permalink(ctx context.Context, channelID, rootID string) (string, error) {
	link, err := s.client.GetPermalink(&slack.PermalinkParameters{
		Channel: channelID,
		Ts:      rootID,
	})
	if err != nil {
		return "", fmt.Errorf("permalink for %s: %w", rootID, err)
	}
	return link, nil
}

// ChannelName resolves a channel id to its name, with an in-memory cache.
func (s *Slack) ChannelName(ctx context.Context, channelID string) (string, error) {
	s.channelCacheMu.RLock()
	name, ok := s.channelCache[channelID]
	s.channelCacheMu.RUnlock()
	if ok {
		return name, nil
	}

	info, err := s.client.GetConversationInfo(&slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil {
		return "", fmt.Errorf("channel info %s: %w", channelID, err)
	}

	s.channelCacheMu.Lock()
	s.channelCache[channelID] = info.Name
	s.channelCacheMu.Unlock()
	return info.Name, nil
}
