package dispatcher

import (
	"context"

	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
)

// Log пишет сообщение в журнал вместо доставки. Используется в разработке
// и как доставщик по умолчанию, пока реальный канал не настроен.
type Log struct {
	log zerolog.Logger
}

var _ domain.Dispatcher = (*Log)(nil)

// NewLog создаёт журнального доставщика.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

// Dispatch реализует domain.Dispatcher.
func (l *Log) Dispatch(ctx context.Context, msg domain.Message) (domain.MessageStatus, string, error) {
	l.log.Info().
		Str("message_id", msg.ID).
		Str("address", msg.Address).
		Str("format", msg.Format).
		Str("subject", msg.Subject).
		Int("payload_bytes", len(msg.Payload)).
		Msg("dispatch: сообщение записано в журнал")
	return domain.StatusSent, "", nil
}
