package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
	"newsletter-engine/internal/usecase/assemble"
)

// Assembler запускает проход сборки канала.
type Assembler interface {
	Assemble(ctx context.Context, ch domain.Channel, cause domain.DispatchCause) (assemble.Report, error)
}

// Service решает, каким каналам пора собираться, и запускает сборку.
type Service struct {
	channels  domain.ChannelRepo
	assembler Assembler
	cache     domain.Cache
	lockTTL   time.Duration
	log       zerolog.Logger
}

// NewService создаёт сервис расписания. Кэш используется как распределённый
// замок, чтобы реплики не собирали канал одновременно; nil отключает замок.
func NewService(channels domain.ChannelRepo, assembler Assembler, cache domain.Cache, lockTTL time.Duration, log zerolog.Logger) *Service {
	if lockTTL <= 0 {
		lockTTL = 50 * time.Second
	}
	return &Service{channels: channels, assembler: assembler, cache: cache, lockTTL: lockTTL, log: log}
}

// Interval возвращает период расписания канала.
func Interval(kind domain.SchedulerKind) time.Duration {
	switch kind {
	case domain.SchedulerDaily:
		return 24 * time.Hour
	case domain.SchedulerWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Due сообщает, пора ли каналу собираться: канал активен, расписание задано
// и с последнего срабатывания прошёл полный период.
func Due(ch domain.Channel, now time.Time) bool {
	if !ch.Active || ch.SchedulerKind == domain.SchedulerNone {
		return false
	}
	interval := Interval(ch.SchedulerKind)
	if interval <= 0 {
		return false
	}
	return now.Sub(ch.TriggeredLast) >= interval
}

// TickChannel собирает канал, если ему пора. Для неактивного канала или до
// истечения периода это пустая операция. Момент срабатывания записывается до
// сборки: упавший проход не зациклит канал на каждом тике, повторить выпуск
// можно вручную.
func (s *Service) TickChannel(ctx context.Context, ch domain.Channel, now time.Time) error {
	if !Due(ch, now) {
		return nil
	}
	if err := s.channels.UpdateTriggeredLast(ctx, ch.ID, now); err != nil {
		return fmt.Errorf("отметка срабатывания %s: %w", ch.Name, err)
	}
	metrics.IncTickForChannel(ch.Name)
	if _, err := s.assembler.Assemble(ctx, ch, domain.DispatchCauseScheduled); err != nil {
		return fmt.Errorf("сборка %s: %w", ch.Name, err)
	}
	return nil
}

// TickAll проверяет все каналы и собирает те, которым пора. Ошибка одного
// канала не останавливает остальные.
func (s *Service) TickAll(ctx context.Context, now time.Time) (int, error) {
	channels, err := s.channels.ListChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("список каналов: %w", err)
	}

	ticked := 0
	for _, ch := range channels {
		if !Due(ch, now) {
			continue
		}
		tick := func() error { return s.TickChannel(ctx, ch, now) }
		if s.cache != nil {
			err = s.cache.Once("schedule:tick:"+ch.Name, s.lockTTL, tick)
		} else {
			err = tick()
		}
		if err != nil {
			s.log.Error().Err(err).Str("channel", ch.Name).Msg("schedule: срабатывание не удалось")
			continue
		}
		ticked++
	}
	return ticked, nil
}
