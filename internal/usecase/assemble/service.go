package assemble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// ErrCollectorNotFound возвращается, когда канал ссылается на
// незарегистрированный коллектор.
var ErrCollectorNotFound = errors.New("коллектор канала не зарегистрирован")

// ErrFormatUnsupported возвращается, когда подписка просит формат,
// которого нет в списке форматов канала.
var ErrFormatUnsupported = errors.New("формат не поддержан каналом")

// ErrComposerNotFound возвращается, когда для формата не зарегистрирован
// рендер.
var ErrComposerNotFound = errors.New("рендер формата не зарегистрирован")

// Report — итог одного прохода сборки по каналу.
type Report struct {
	ChannelID  int64
	Rendered   int
	Suppressed int
	Pending    int
}

// Service реализует проход сборки: подписки канала превращаются в сообщения
// и ставятся в очередь доставки. Реестры коллекторов и рендеров передаются
// явно — сервис не обращается к глобальному состоянию.
type Service struct {
	channels   domain.ChannelRepo
	subs       domain.SubscriptionRepo
	messages   domain.MessageRepo
	queue      domain.DispatchQueue
	collectors map[string]domain.Collector
	composers  map[string]domain.Composer
	log        zerolog.Logger
}

// NewService создаёт сервис сборки.
func NewService(channels domain.ChannelRepo, subs domain.SubscriptionRepo, messages domain.MessageRepo, queue domain.DispatchQueue, collectors map[string]domain.Collector, composers map[string]domain.Composer, log zerolog.Logger) *Service {
	return &Service{
		channels:   channels,
		subs:       subs,
		messages:   messages,
		queue:      queue,
		collectors: collectors,
		composers:  composers,
		log:        log,
	}
}

// AssembleByName находит канал по имени и собирает его.
func (s *Service) AssembleByName(ctx context.Context, name string, cause domain.DispatchCause) (Report, error) {
	ch, err := s.channels.GetChannelByName(ctx, name)
	if err != nil {
		return Report{}, fmt.Errorf("поиск канала: %w", err)
	}
	return s.Assemble(ctx, ch, cause)
}

// Assemble выполняет один проход сборки по каналу. За проход каждая
// подписка рендерится не более одного раза. Подписки в ожидании
// подтверждения пропускаются, их курсор не трогается.
func (s *Service) Assemble(ctx context.Context, ch domain.Channel, cause domain.DispatchCause) (Report, error) {
	began := time.Now()
	report := Report{ChannelID: ch.ID}

	var collector domain.Collector
	if ch.CollectorName != "" {
		registered, ok := s.collectors[ch.CollectorName]
		if !ok {
			metrics.AssembleErrors.Inc()
			return report, fmt.Errorf("канал %s, коллектор %q: %w", ch.Name, ch.CollectorName, ErrCollectorNotFound)
		}
		collector = registered
	}

	grouped, err := s.subs.ListSubscriptionsGrouped(ctx, ch.ID)
	if err != nil {
		metrics.AssembleErrors.Inc()
		return report, fmt.Errorf("подписки канала %s: %w", ch.Name, err)
	}

	addresses := make([]string, 0, len(grouped))
	for address := range grouped {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	for _, address := range addresses {
		for _, sub := range grouped[address] {
			if sub.Pending {
				report.Pending++
				continue
			}
			if err := s.assembleOne(ctx, ch, collector, sub, cause, &report); err != nil {
				metrics.AssembleErrors.Inc()
				return report, err
			}
		}
	}

	metrics.AssembleSeconds.Observe(time.Since(began).Seconds())
	s.log.Info().
		Str("channel", ch.Name).
		Int("rendered", report.Rendered).
		Int("suppressed", report.Suppressed).
		Int("pending", report.Pending).
		Msg("assemble: проход завершён")
	return report, nil
}

func (s *Service) assembleOne(ctx context.Context, ch domain.Channel, collector domain.Collector, sub domain.Subscription, cause domain.DispatchCause, report *Report) error {
	composer, err := s.resolveComposer(ch, sub.Format)
	if err != nil {
		return fmt.Errorf("подписка %d: %w", sub.ID, err)
	}

	var (
		items  []domain.Item
		newCue domain.Cue
	)
	if collector != nil {
		items, newCue, err = collector.GetItems(ctx, sub.Cue, sub)
		if err != nil {
			return fmt.Errorf("сбор для подписки %d: %w", sub.ID, err)
		}
		if len(items) == 0 {
			// Пустая выборка подавляет выпуск, но поток прочитан —
			// курсор продвигаем.
			if newCue != sub.Cue {
				if err := s.subs.UpdateSubscriptionCue(ctx, sub.ID, newCue); err != nil {
					return fmt.Errorf("курсор подписки %d: %w", sub.ID, err)
				}
			}
			report.Suppressed++
			metrics.MessagesSuppressedTotal.Inc()
			return nil
		}
	}

	msg, err := composer.Render(ctx, sub, items)
	if err != nil {
		return fmt.Errorf("рендер подписки %d: %w", sub.ID, err)
	}
	msg.ID = ulid.Make().String()
	msg.ChannelID = ch.ID
	msg.SubscriptionID = sub.ID
	msg.Address = sub.Address
	msg.Status = domain.StatusNew
	msg.StatusMessage = ""

	stored, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("сохранение сообщения подписки %d: %w", sub.ID, err)
	}
	report.Rendered++

	// Курсор сохраняем после сообщения: сбой между ними приведёт к повтору
	// выпуска, но не к потере элементов.
	if collector != nil && newCue != sub.Cue {
		if err := s.subs.UpdateSubscriptionCue(ctx, sub.ID, newCue); err != nil {
			return fmt.Errorf("курсор подписки %d: %w", sub.ID, err)
		}
	}

	job := domain.DispatchJob{
		ID:          ulid.Make().String(),
		MessageID:   stored.ID,
		ChannelID:   ch.ID,
		RequestedAt: time.Now().UTC(),
		Cause:       cause,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// Сообщение уже сохранено со статусом new: его подберёт обход
		// очереди доставки.
		return fmt.Errorf("постановка в очередь сообщения %s: %w", stored.ID, err)
	}
	metrics.MessagesQueuedTotal.Inc()
	return nil
}

func (s *Service) resolveComposer(ch domain.Channel, format string) (domain.Composer, error) {
	supported := false
	for _, f := range ch.Formats {
		if f == format {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%q: %w", format, ErrFormatUnsupported)
	}
	composer, ok := s.composers[format]
	if !ok {
		return nil, fmt.Errorf("%q: %w", format, ErrComposerNotFound)
	}
	return composer, nil
}
