package notify

import (
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts stage transitions to one Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier for the given bot token and
// channel.
func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (n *SlackNotifier) Name() string { return "slack" }

// Notify posts the message. Errors are logged and swallowed.
func (n *SlackNotifier) Notify(text string) error {
	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("slack notification failed", zap.Error(err))
	}
	return nil
}
