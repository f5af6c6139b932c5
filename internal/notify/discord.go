package notify

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier posts stage transitions to one Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier opens a Discord session for the given bot token.
func NewDiscordNotifier(botToken, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord connect: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: channelID, logger: logger}, nil
}

func (n *DiscordNotifier) Name() string { return "discord" }

// Notify posts the message. Errors are logged and swallowed.
func (n *DiscordNotifier) Notify(text string) error {
	if _, err := n.session.ChannelMessageSend(n.channelID, text); err != nil {
		n.logger.Warn("discord notification failed", zap.Error(err))
	}
	return nil
}

// Close shuts down the Discord session.
func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}
