package outbound

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/chathub/pkg/models"
)

// discordChunkLimit is Discord's message length cap in code points.
const discordChunkLimit = 2000

// DiscordSender delivers chunks through the Discord REST API. It does
// not open a gateway session; plain channel sends need none.
type DiscordSender struct {
	session *discordgo.Session
}

// NewDiscordSender builds a sender from a bot token.
func NewDiscordSender(token string) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}
	return &DiscordSender{session: session}, nil
}

func (s *DiscordSender) Platform() models.Platform { return models.PlatformDiscord }

func (s *DiscordSender) ChunkLimit() int { return discordChunkLimit }

func (s *DiscordSender) Send(ctx context.Context, chatID, text string) error {
	_, err := s.session.ChannelMessageSend(chatID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send to %s: %w", chatID, err)
	}
	return nil
}
