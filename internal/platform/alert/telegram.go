package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/telebot.v3"
)

// TelegramReporter posts alerts to an on-call Telegram chat.
type TelegramReporter struct {
	bot    *telebot.Bot
	chat   telebot.ChatID
	logger zerolog.Logger
}

// DefaultTelegramTimeout bounds one Bot API call. Reports are sent inline
// with the request that raised them.
const DefaultTelegramTimeout = 5 * time.Second

// NewTelegramReporter creates an offline bot: it only sends, it never
// polls for updates. apiURL may be empty to use the public Bot API. A
// timeout of zero uses DefaultTelegramTimeout.
func NewTelegramReporter(token string, chatID int64, apiURL string, timeout time.Duration, logger zerolog.Logger) (*TelegramReporter, error) {
	if timeout <= 0 {
		timeout = DefaultTelegramTimeout
	}
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramReporter{
		bot:    bot,
		chat:   telebot.ChatID(chatID),
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}, nil
}

func (r *TelegramReporter) Report(ctx context.Context, a Alert) {
	if ctx.Err() != nil {
		r.logger.Warn().Str("alert", string(a.Kind)).Msg("telegram alert skipped: context done")
		return
	}
	if _, err := r.bot.Send(r.chat, a.Text()); err != nil {
		r.logger.Error().Err(err).Str("alert", string(a.Kind)).Msg("telegram alert failed")
	}
}
