package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// QueueStats — срез состояния очереди доставки канала.
type QueueStats struct {
	Counts    map[domain.MessageStatus]int `json:"counts"`
	SentTotal int64                        `json:"sent_total"`
}

// Service доставляет собранные сообщения: воркеры читают очередь задач,
// обход подбирает залежавшиеся статусы, очистка убирает отработанное.
// Накопительный счётчик доставленных переживает очистку.
type Service struct {
	messages    domain.MessageRepo
	queue       domain.DispatchQueue
	dispatcher  domain.Dispatcher
	limiter     *rate.Limiter
	maxAttempts int
	sweepMinAge time.Duration
	log         zerolog.Logger
}

// NewService создаёт сервис доставки. ratePerSec ограничивает скорость
// отправки, maxAttempts — предел повторов до перевода в ошибку.
func NewService(messages domain.MessageRepo, queue domain.DispatchQueue, dispatcher domain.Dispatcher, ratePerSec, maxAttempts int, log zerolog.Logger) *Service {
	if ratePerSec <= 0 {
		ratePerSec = 25
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		messages:    messages,
		queue:       queue,
		dispatcher:  dispatcher,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		maxAttempts: maxAttempts,
		sweepMinAge: 10 * time.Minute,
		log:         log,
	}
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetry
)

// Run блокирующе обрабатывает очередь доставки до отмены контекста.
// Несколько воркеров могут выполнять Run одновременно.
func (s *Service) Run(ctx context.Context) {
	for {
		job, ack, err := s.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			s.log.Error().Err(err).Msg("dispatch: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := s.log.With().
			Str("job_id", job.ID).
			Str("message_id", job.MessageID).
			Int64("channel", job.ChannelID).
			Str("cause", string(job.Cause)).
			Logger()

		if job.MessageID == "" {
			jobLog.Error().Msg("dispatch: задача без сообщения, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("dispatch: не удалось подтвердить пустую задачу")
			}
			continue
		}

		result := s.handleJob(ctx, job, jobLog)

		if result == outcomeRetry {
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("dispatch: не удалось вернуть задачу в очередь")
			}
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("dispatch: не удалось подтвердить задачу")
		}
	}
}

func (s *Service) handleJob(ctx context.Context, job domain.DispatchJob, jobLog zerolog.Logger) outcome {
	msg, err := s.messages.GetMessage(ctx, job.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			jobLog.Warn().Msg("dispatch: сообщение удалено, задача пропущена")
			return outcomeCompleted
		}
		jobLog.Error().Err(err).Msg("dispatch: не удалось получить сообщение")
		return outcomeRetry
	}

	switch msg.Status {
	case domain.StatusSent:
		// Повторная доставка той же задачи после ack-сбоя.
		return outcomeCompleted
	case domain.StatusError:
		// Терминальный статус меняется только вручную.
		return outcomeCompleted
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return outcomeRetry
	}

	status, note, err := s.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		// Ошибка доставщика — постоянная неудача.
		status = domain.StatusError
		note = err.Error()
	}

	if status == domain.StatusRetry && msg.Attempts+1 >= s.maxAttempts {
		status = domain.StatusError
		note = fmt.Sprintf("предел попыток доставки: %s", note)
	}

	if err := s.messages.UpdateMessageStatus(ctx, msg.ID, status, note); err != nil {
		jobLog.Error().Err(err).Msg("dispatch: не удалось обновить статус")
		return outcomeRetry
	}
	metrics.IncDispatch(string(status))

	switch status {
	case domain.StatusSent:
		if err := s.messages.AddSent(ctx, msg.ChannelID, 1); err != nil {
			jobLog.Error().Err(err).Msg("dispatch: не удалось увеличить счётчик доставленных")
		}
		jobLog.Info().Str("address", msg.Address).Msg("dispatch: сообщение доставлено")
		return outcomeCompleted
	case domain.StatusRetry:
		jobLog.Warn().Str("note", note).Msg("dispatch: временная ошибка, повторим")
		return outcomeRetry
	default:
		metrics.DispatchErrors.Inc()
		jobLog.Error().Str("note", note).Msg("dispatch: постоянная ошибка доставки")
		return outcomeCompleted
	}
}

// DispatchPending ставит в очередь сообщения в статусах new и retry,
// чьи задачи потерялись. channelID <= 0 охватывает все каналы. Свежие
// сообщения пропускаются: их задачи ещё в очереди.
func (s *Service) DispatchPending(ctx context.Context, channelID int64) (int, error) {
	cutoff := time.Now().Add(-s.sweepMinAge)
	queued := 0
	for _, status := range []domain.MessageStatus{domain.StatusNew, domain.StatusRetry} {
		msgs, err := s.messages.ListMessagesByStatus(ctx, channelID, status, 0)
		if err != nil {
			return queued, fmt.Errorf("выборка %s: %w", status, err)
		}
		for _, msg := range msgs {
			if msg.StatusChanged.After(cutoff) {
				continue
			}
			job := domain.DispatchJob{
				ID:          ulid.Make().String(),
				MessageID:   msg.ID,
				ChannelID:   msg.ChannelID,
				RequestedAt: time.Now().UTC(),
				Cause:       domain.DispatchCauseSweep,
			}
			if err := s.queue.Enqueue(ctx, job); err != nil {
				return queued, fmt.Errorf("постановка сообщения %s: %w", msg.ID, err)
			}
			metrics.MessagesQueuedTotal.Inc()
			queued++
		}
	}
	if queued > 0 {
		s.log.Info().Int64("channel", channelID).Int("queued", queued).Msg("dispatch: обход поставил залежавшиеся сообщения")
	}
	return queued, nil
}

// Flush удаляет доставленные и ошибочные сообщения канала. Накопительный
// счётчик доставленных не сбрасывается.
func (s *Service) Flush(ctx context.Context, channelID int64) (int64, error) {
	removed, err := s.messages.DeleteMessagesByStatus(ctx, channelID, domain.StatusSent, domain.StatusError)
	if err != nil {
		return 0, fmt.Errorf("очистка очереди: %w", err)
	}
	s.log.Info().Int64("channel", channelID).Int64("removed", removed).Msg("dispatch: очередь очищена")
	return removed, nil
}

// Stats возвращает количество сообщений по статусам и накопительный
// счётчик доставленных.
func (s *Service) Stats(ctx context.Context, channelID int64) (QueueStats, error) {
	counts, err := s.messages.CountMessagesByStatus(ctx, channelID)
	if err != nil {
		return QueueStats{}, fmt.Errorf("статистика очереди: %w", err)
	}
	sent, err := s.messages.SentTotal(ctx, channelID)
	if err != nil {
		return QueueStats{}, fmt.Errorf("счётчик доставленных: %w", err)
	}
	return QueueStats{Counts: counts, SentTotal: sent}, nil
}

// Requeue вручную возвращает сообщение в доставку независимо от статуса.
func (s *Service) Requeue(ctx context.Context, messageID string) error {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.messages.UpdateMessageStatus(ctx, msg.ID, domain.StatusRetry, "повтор вручную"); err != nil {
		return err
	}
	job := domain.DispatchJob{
		ID:          ulid.Make().String(),
		MessageID:   msg.ID,
		ChannelID:   msg.ChannelID,
		RequestedAt: time.Now().UTC(),
		Cause:       domain.DispatchCauseManual,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("постановка сообщения %s: %w", msg.ID, err)
	}
	metrics.MessagesQueuedTotal.Inc()
	return nil
}
