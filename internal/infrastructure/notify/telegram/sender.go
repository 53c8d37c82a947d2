// Package telegram delivers client notifications through a Telegram bot and
// links chats to clients from /start commands.
package telegram

import (
	"context"
	"html"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/turtacn/loan-portal/internal/config"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// Sender delivers one rendered notification to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, title, body string) error
}

// ChatLinker binds a chat to the client owning phone.
type ChatLinker interface {
	LinkChat(ctx context.Context, phone string, chatID int64) error
}

// botAPI is the subset of *tgbotapi.BotAPI used here.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is a Sender backed by the Bot API.
type Bot struct {
	api    botAPI
	logger logging.Logger
}

// NewBot authenticates with the Bot API.  An empty APIEndpoint selects the
// public endpoint.
func NewBot(cfg config.TelegramConfig, log logging.Logger) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "telegram bot token is empty")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "telegram authorization failed")
	}
	l := logging.OrNop(log).Named("telegram")
	l.Info("Telegram bot authorized", logging.String("username", api.Self.UserName))
	return &Bot{api: api, logger: l}, nil
}

// Send renders title in bold above body and sends it as HTML.
func (b *Bot) Send(ctx context.Context, chatID int64, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, Render(title, body))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return classify(err)
	}
	return nil
}

// Render formats a notification as Telegram HTML.
func Render(title, body string) string {
	return "<b>" + html.EscapeString(title) + "</b>\n\n" + html.EscapeString(body)
}

func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusForbidden:
			return errors.Wrap(err, errors.ErrCodeChatNotLinked, "chat is unavailable")
		case http.StatusTooManyRequests:
			return errors.Wrap(err, errors.ErrCodeTooManyRequests, "telegram rate limit")
		}
	}
	return errors.Wrap(err, errors.ErrCodeDispatchFailed, "telegram send failed")
}

// Listen long-polls updates and links chats from "/start <phone>" commands
// until ctx ends.
func (b *Bot) Listen(ctx context.Context, linker ChatLinker) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, linker, upd)
		}
	}
}

// HandleUpdate processes one update.  Only /start with a phone argument or a
// shared contact is acted on.
func (b *Bot) HandleUpdate(ctx context.Context, linker ChatLinker, upd tgbotapi.Update) {
	m := upd.Message
	if m == nil || m.Chat == nil {
		return
	}
	var phone string
	switch {
	case m.Contact != nil:
		phone = m.Contact.PhoneNumber
	case m.IsCommand() && m.Command() == "start":
		phone = strings.TrimSpace(m.CommandArguments())
	default:
		return
	}
	if phone == "" {
		b.reply(m.Chat.ID, "Отправьте /start и номер телефона, указанный в заявке.")
		return
	}
	if err := linker.LinkChat(ctx, phone, m.Chat.ID); err != nil {
		b.logger.Warn("Chat link failed", logging.Int64("chat_id", m.Chat.ID), logging.Err(err))
		b.reply(m.Chat.ID, "Клиент с таким номером не найден.")
		return
	}
	b.logger.Info("Chat linked", logging.Int64("chat_id", m.Chat.ID))
	b.reply(m.Chat.ID, "Уведомления о платежах будут приходить в этот чат.")
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("Reply failed", logging.Int64("chat_id", chatID), logging.Err(err))
	}
}

// NopSender discards notifications.  It stands in when delivery is disabled.
type NopSender struct {
	Logger logging.Logger
}

// Send logs and drops the notification.
func (s NopSender) Send(_ context.Context, chatID int64, title, _ string) error {
	logging.OrNop(s.Logger).Debug("Telegram disabled, dropping notification",
		logging.Int64("chat_id", chatID), logging.String("title", title))
	return nil
}
