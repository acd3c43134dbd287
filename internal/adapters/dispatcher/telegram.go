package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// Telegram доставляет сообщения ботом. Адрес подписки — идентификатор чата.
type Telegram struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

var _ domain.Dispatcher = (*Telegram)(nil)

// NewTelegram создаёт доставщика на базе Bot API.
func NewTelegram(bot *tgbotapi.BotAPI, log zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, log: log}
}

// Dispatch реализует domain.Dispatcher. Ответ 429 и сетевые сбои считаются
// временными, остальные ошибки Bot API — постоянными.
func (d *Telegram) Dispatch(ctx context.Context, msg domain.Message) (domain.MessageStatus, string, error) {
	chatID, err := strconv.ParseInt(msg.Address, 10, 64)
	if err != nil {
		return domain.StatusError, fmt.Sprintf("адрес %q не является идентификатором чата", msg.Address), nil
	}

	parts := splitMessage(string(msg.Payload))
	if len(parts) == 0 {
		return domain.StatusSent, "пустое сообщение пропущено", nil
	}

	for _, part := range parts {
		out := tgbotapi.NewMessage(chatID, part)
		if msg.Format == "telegram" {
			out.ParseMode = tgbotapi.ModeHTML
			out.DisableWebPagePreview = true
		}
		start := time.Now()
		_, err := d.bot.Send(out)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", msg.Address, start, err)
		if err != nil {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) {
				if apiErr.RetryAfter > 0 || apiErr.Code == 429 {
					return domain.StatusRetry, fmt.Sprintf("flood wait: %v", err), nil
				}
				return domain.StatusError, err.Error(), nil
			}
			// Сетевой сбой, доставка повторится.
			return domain.StatusRetry, err.Error(), nil
		}
	}
	return domain.StatusSent, "", nil
}
