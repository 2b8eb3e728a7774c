// Package telegram adapts the Bot API to the transport surfaces the core
// consumes: the long-poll loop feeding the router, and the outbound send,
// edit and broadcast calls.
package telegram

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/partnerdesk/backend/internal/health"
	"github.com/partnerdesk/backend/internal/router"
)

const (
	pollTimeout   = 25 * time.Second
	pollRetryWait = 3 * time.Second
)

// Handler consumes one inbound update.
type Handler interface {
	Handle(ctx context.Context, up router.Update)
}

// Bot is the long-lived Bot API client.
type Bot struct {
	api *tgbotapi.BotAPI
	hb  *health.Heartbeat
	log *slog.Logger
}

// New authenticates against the Bot API.
func New(token string, hb *health.Heartbeat, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, classify(err)
	}
	log.Info("messenger connected", slog.String("bot", api.Self.UserName))
	return &Bot{api: api, hb: hb, log: log}, nil
}

// Poll runs the long-poll loop until the context ends. Every successful
// fetch beats the heartbeat, including empty ones: an idle chat is alive,
// a silent connection is not. Each update is handled on its own goroutine
// so a slow AI turn cannot stall the loop.
func (b *Bot) Poll(ctx context.Context, handler Handler) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = int(pollTimeout / time.Second)
		cfg.AllowedUpdates = []string{"message"}

		updates, err := b.api.GetUpdates(cfg)
		if err != nil {
			b.log.Warn("update fetch failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollRetryWait):
			}
			continue
		}
		b.hb.Beat()

		for _, raw := range updates {
			offset = raw.UpdateID + 1
			up, ok := mapUpdate(raw)
			if !ok {
				continue
			}
			go handler.Handle(ctx, up)
		}
	}
}

// mapUpdate unwraps a raw update into the router's shape. Non-message
// updates and messages without text are dropped.
func mapUpdate(raw tgbotapi.Update) (router.Update, bool) {
	msg := raw.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return router.Update{}, false
	}
	return router.Update{
		UserID: msg.From.ID,
		ChatID: msg.Chat.ID,
		Text:   msg.Text,
	}, true
}

// Ping is the health monitor's identity call.
func (b *Bot) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.GetMe(); err != nil {
		return classify(err)
	}
	return nil
}

// Send posts a plain message and returns its id.
func (b *Bot) Send(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

// SendText is the id-less send the response monitor uses.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := b.Send(ctx, chatID, text)
	return err
}

// Edit replaces the text of an earlier message.
func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		return classify(err)
	}
	return nil
}

// SendWithButton posts a message with a single URL button.
func (b *Bot) SendWithButton(ctx context.Context, chatID int64, text, label, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = urlKeyboard(label, url)
	if _, err := b.api.Send(msg); err != nil {
		return classify(err)
	}
	return nil
}

// SendPromo delivers one promotion: photo with caption when media is
// present, plain text otherwise, with an optional deep-link button.
func (b *Bot) SendPromo(ctx context.Context, chatID int64, text string, media []byte, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(media) > 0 {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "promo", Bytes: media})
		photo.Caption = text
		if link != "" {
			photo.ReplyMarkup = urlKeyboard("Подробнее", link)
		}
		if _, err := b.api.Send(photo); err != nil {
			return classify(err)
		}
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if link != "" {
		msg.ReplyMarkup = urlKeyboard("Подробнее", link)
	}
	if _, err := b.api.Send(msg); err != nil {
		return classify(err)
	}
	return nil
}

func urlKeyboard(label, url string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(label, url),
		),
	)
}
