package channel

import (
	"context"
	"fmt"
	"log/slog"

	"msgfilter/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramPollTimeout = 30

// botSender is the part of *tgbotapi.BotAPI used to forward messages.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Channel on the Telegram Bot API. The bot must be
// a member of the source chat (an admin, for channels) and allowed to post in
// the destination chat.
type Telegram struct {
	token  string
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	return &Telegram{
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram-bot" }

// Start connects to Telegram and long-polls for new messages and channel
// posts until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := inboundFromUpdate(update, bot)
			if !ok {
				continue
			}
			msg.Channel = t.Name()
			bus.Publish(msg)
		}
	}
}

// Stop is a no-op: StopReceivingUpdates is called when Start's context is
// cancelled, and calling it twice panics.
func (t *Telegram) Stop() error {
	return nil
}

// inboundFromUpdate converts a message or channel post. Media captions count
// as text.
func inboundFromUpdate(update tgbotapi.Update, sender botSender) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil {
		m = update.ChannelPost
	}
	if m == nil || m.Chat == nil {
		return domain.InboundMessage{}, false
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}

	fromChatID := m.Chat.ID
	messageID := m.MessageID
	return domain.InboundMessage{
		ChatID:    fromChatID,
		MessageID: messageID,
		Text:      text,
		Timestamp: m.Time(),
		Forward: func(ctx context.Context, toChatID int64) error {
			if _, err := sender.Send(tgbotapi.NewForward(toChatID, fromChatID, messageID)); err != nil {
				return fmt.Errorf("forward message %d from %d to %d: %w", messageID, fromChatID, toChatID, err)
			}
			return nil
		},
	}, true
}
