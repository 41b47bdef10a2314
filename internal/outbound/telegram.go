package outbound

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"

	"github.com/haasonsaas/chathub/pkg/models"
)

// telegramChunkLimit is Telegram's message length cap in code points.
const telegramChunkLimit = 4096

// TelegramSender delivers chunks through the Telegram Bot API.
type TelegramSender struct {
	bot *bot.Bot
}

// NewTelegramSender validates the token against the Bot API and returns
// the sender.
func NewTelegramSender(token string) (*TelegramSender, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramSender{bot: b}, nil
}

func (s *TelegramSender) Platform() models.Platform { return models.PlatformTelegram }

func (s *TelegramSender) ChunkLimit() int { return telegramChunkLimit }

// Send delivers one chunk. Numeric chat ids are sent as int64 so the
// Bot API treats them as chat ids rather than usernames.
func (s *TelegramSender) Send(ctx context.Context, chatID, text string) error {
	var id any = chatID
	if n, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		id = n
	}

	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: id,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send to %s: %w", chatID, err)
	}
	return nil
}
