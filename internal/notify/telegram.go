// Package notify delivers operator alerts about payouts that need attention.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/pkg/config"
)

const maxMessageLength = 4096

// Notifier sends a plain-text alert.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// New returns a Telegram notifier, or a no-op one when no token or chat is
// configured.
func New(cfg config.NotifyConfig, log *slog.Logger) (Notifier, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		log.Info("operator notifications disabled")
		return Noop{}, nil
	}
	return NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, "", log)
}

// Telegram posts alerts to a single chat through the Bot API.
type Telegram struct {
	bot  *telebot.Bot
	chat *telebot.Chat
	log  *slog.Logger
}

// NewTelegram builds the notifier without contacting the API. apiURL
// overrides the Bot API endpoint when non-empty.
func NewTelegram(token string, chatID int64, apiURL string, log *slog.Logger) (*Telegram, error) {
	if log == nil {
		log = slog.Default()
	}

	bot, err := telebot.NewBot(telebot.Settings{
		URL:     apiURL,
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
		OnError: func(err error, _ telebot.Context) {
			log.Error("telegram client error", slog.Any("error", err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return &Telegram{bot: bot, chat: &telebot.Chat{ID: chatID}, log: log}, nil
}

// Notify sends message to the configured chat, retrying transient failures.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	message = truncate(message, maxMessageLength)

	err := apperrors.WithRetry(ctx, func() error {
		if _, err := t.bot.Send(t.chat, message, telebot.NoPreview); err != nil {
			return apperrors.NewExternalAPIError("telegram", err)
		}
		return nil
	})
	if err != nil {
		t.log.WarnContext(ctx, "operator notification failed", slog.Any("error", err))
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

// Noop discards every alert.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
