package notify

import (
	"context"

	"github.com/slack-go/slack"
)

// Slack pushes notifications into a channel. The message timestamp Slack
// returns doubles as the message id for edits, so it also works as a push
// transport for streamed responses.
type Slack struct {
	client  *slack.Client
	channel string
}

func NewSlack(token, channel string) *Slack {
	return &Slack{client: slack.New(token), channel: channel}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, msg Message) error {
	_, err := s.Send(ctx, s.channel, msg.RenderMarkdown())
	return err
}

func (s *Slack) Send(ctx context.Context, chatID, text string) (string, error) {
	if chatID == "" {
		chatID = s.channel
	}
	_, ts, err := s.client.PostMessageContext(ctx, chatID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return "", err
	}
	return ts, nil
}

func (s *Slack) Edit(ctx context.Context, chatID, messageID, text string) error {
	if chatID == "" {
		chatID = s.channel
	}
	_, _, _, err := s.client.UpdateMessageContext(ctx, chatID, messageID,
		slack.MsgOptionText(text, false),
	)
	return err
}
