package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
)

var (
	// ErrNameInvalid — имя канала не проходит по формату.
	ErrNameInvalid = errors.New("некорректное имя канала")
	// ErrNoFormats — канал должен поддерживать хотя бы один формат.
	ErrNoFormats = errors.New("не указан ни один формат")
	// ErrFormatUnregistered — формат не имеет зарегистрированного рендера.
	ErrFormatUnregistered = errors.New("формат не зарегистрирован")
	// ErrCollectorUnregistered — коллектор с таким именем не зарегистрирован.
	ErrCollectorUnregistered = errors.New("коллектор не зарегистрирован")
	// ErrSchedulerUnknown — вариант расписания вне допустимого набора.
	ErrSchedulerUnknown = errors.New("неизвестный вариант расписания")
)

var nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// Service управляет реестром каналов рассылки.
type Service struct {
	repo       domain.ChannelRepo
	collectors map[string]domain.Collector
	composers  map[string]domain.Composer
	log        zerolog.Logger
}

// NewService создаёт сервис каналов. Реестры нужны для проверки ссылок
// канала на коллектор и форматы при регистрации.
func NewService(repo domain.ChannelRepo, collectors map[string]domain.Collector, composers map[string]domain.Composer, log zerolog.Logger) *Service {
	return &Service{repo: repo, collectors: collectors, composers: composers, log: log}
}

// Register создаёт канал после проверки имени, форматов, коллектора и
// расписания.
func (s *Service) Register(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ch.Name = strings.ToLower(strings.TrimSpace(ch.Name))
	if !nameRegex.MatchString(ch.Name) {
		return domain.Channel{}, fmt.Errorf("%q: %w", ch.Name, ErrNameInvalid)
	}
	if strings.TrimSpace(ch.Title) == "" {
		ch.Title = ch.Name
	}
	if len(ch.Formats) == 0 {
		return domain.Channel{}, ErrNoFormats
	}
	for _, format := range ch.Formats {
		if _, ok := s.composers[format]; !ok {
			return domain.Channel{}, fmt.Errorf("%q: %w", format, ErrFormatUnregistered)
		}
	}
	if ch.CollectorName != "" {
		if _, ok := s.collectors[ch.CollectorName]; !ok {
			return domain.Channel{}, fmt.Errorf("%q: %w", ch.CollectorName, ErrCollectorUnregistered)
		}
	}
	switch ch.SchedulerKind {
	case domain.SchedulerNone, domain.SchedulerDaily, domain.SchedulerWeekly:
	default:
		return domain.Channel{}, fmt.Errorf("%q: %w", ch.SchedulerKind, ErrSchedulerUnknown)
	}

	created, err := s.repo.CreateChannel(ctx, ch)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("сохранение канала: %w", err)
	}
	s.log.Info().Str("channel", created.Name).Str("scheduler", string(created.SchedulerKind)).Msg("channels: канал зарегистрирован")
	return created, nil
}

// Get возвращает канал по имени.
func (s *Service) Get(ctx context.Context, name string) (domain.Channel, error) {
	return s.repo.GetChannelByName(ctx, name)
}

// List возвращает все каналы.
func (s *Service) List(ctx context.Context) ([]domain.Channel, error) {
	return s.repo.ListChannels(ctx)
}

// SetActive включает или выключает участие канала в расписании.
func (s *Service) SetActive(ctx context.Context, name string, active bool) error {
	ch, err := s.repo.GetChannelByName(ctx, name)
	if err != nil {
		return fmt.Errorf("поиск канала: %w", err)
	}
	if err := s.repo.SetChannelActive(ctx, ch.ID, active); err != nil {
		return fmt.Errorf("переключение канала: %w", err)
	}
	s.log.Info().Str("channel", name).Bool("active", active).Msg("channels: статус изменён")
	return nil
}
