package subscribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
)

var (
	// ErrAddressEmpty — адресат подписки не указан.
	ErrAddressEmpty = errors.New("адресат не указан")
	// ErrFormatUnknown — канал не поддерживает запрошенный формат.
	ErrFormatUnknown = errors.New("канал не поддерживает формат")
)

// Form описывает данные для формы подписки на канал.
type Form struct {
	Channel    string   `json:"channel"`
	Title      string   `json:"title"`
	Formats    []string `json:"formats"`
	FieldTitle string   `json:"field_title,omitempty"`
	Vocabulary []string `json:"vocabulary,omitempty"`
}

// Service управляет жизненным циклом подписок: создание в ожидании
// подтверждения, подтверждение по секрету, отказ.
type Service struct {
	channels   domain.ChannelRepo
	subs       domain.SubscriptionRepo
	collectors map[string]domain.Collector
	log        zerolog.Logger
}

// NewService создаёт сервис подписок.
func NewService(channels domain.ChannelRepo, subs domain.SubscriptionRepo, collectors map[string]domain.Collector, log zerolog.Logger) *Service {
	return &Service{channels: channels, subs: subs, collectors: collectors, log: log}
}

// Subscribe создаёт подписку в ожидании подтверждения и возвращает её
// вместе с секретом. Выбор интересов сужается до словаря коллектора.
func (s *Service) Subscribe(ctx context.Context, channelName, address, format string, selection []string) (domain.Subscription, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.Subscription{}, ErrAddressEmpty
	}

	ch, err := s.channels.GetChannelByName(ctx, channelName)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("поиск канала: %w", err)
	}
	if !formatSupported(ch, format) {
		return domain.Subscription{}, fmt.Errorf("%q: %w", format, ErrFormatUnknown)
	}

	normalized, err := s.normalizeSelection(ctx, ch, selection)
	if err != nil {
		return domain.Subscription{}, err
	}

	sub := domain.Subscription{
		ChannelID: ch.ID,
		Secret:    uuid.NewString(),
		Address:   address,
		Format:    format,
		Pending:   true,
		Selection: normalized,
	}
	created, err := s.subs.CreateSubscription(ctx, sub)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("создание подписки: %w", err)
	}
	s.log.Info().Str("channel", ch.Name).Str("address", address).Str("format", format).Msg("subscribe: подписка ожидает подтверждения")
	return created, nil
}

// Confirm подтверждает подписку по секрету и возвращает её актуальное
// состояние.
func (s *Service) Confirm(ctx context.Context, secret string) (domain.Subscription, error) {
	if err := s.subs.ConfirmSubscription(ctx, secret); err != nil {
		return domain.Subscription{}, err
	}
	sub, err := s.subs.GetSubscriptionBySecret(ctx, secret)
	if err != nil {
		return domain.Subscription{}, err
	}
	s.log.Info().Int64("subscription_id", sub.ID).Msg("subscribe: подписка подтверждена")
	return sub, nil
}

// Cancel удаляет подписку по секрету.
func (s *Service) Cancel(ctx context.Context, secret string) error {
	if err := s.subs.DeleteSubscription(ctx, secret); err != nil {
		return err
	}
	s.log.Info().Msg("subscribe: подписка удалена")
	return nil
}

// Get возвращает подписку по секрету.
func (s *Service) Get(ctx context.Context, secret string) (domain.Subscription, error) {
	return s.subs.GetSubscriptionBySecret(ctx, secret)
}

// BuildForm собирает данные формы подписки: форматы канала, подпись поля
// выбора и словарь значений, если коллектор его предоставляет.
func (s *Service) BuildForm(ctx context.Context, channelName string) (Form, error) {
	ch, err := s.channels.GetChannelByName(ctx, channelName)
	if err != nil {
		return Form{}, fmt.Errorf("поиск канала: %w", err)
	}
	form := Form{
		Channel: ch.Name,
		Title:   ch.Title,
		Formats: append([]string(nil), ch.Formats...),
	}
	if provider, ok := s.vocabularyProvider(ch); ok {
		form.FieldTitle = provider.FieldTitle()
		vocab, err := provider.Vocabulary(ctx)
		if err != nil {
			return Form{}, fmt.Errorf("словарь коллектора: %w", err)
		}
		form.Vocabulary = vocab
	}
	return form, nil
}

func (s *Service) normalizeSelection(ctx context.Context, ch domain.Channel, selection []string) ([]string, error) {
	cleaned := make([]string, 0, len(selection))
	seen := make(map[string]struct{}, len(selection))
	for _, value := range selection {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	provider, ok := s.vocabularyProvider(ch)
	if !ok {
		return cleaned, nil
	}
	vocab, err := provider.Vocabulary(ctx)
	if err != nil {
		return nil, fmt.Errorf("словарь коллектора: %w", err)
	}
	if len(vocab) == 0 {
		return cleaned, nil
	}
	allowed := make(map[string]struct{}, len(vocab))
	for _, value := range vocab {
		allowed[value] = struct{}{}
	}
	filtered := cleaned[:0]
	for _, value := range cleaned {
		if _, ok := allowed[value]; ok {
			filtered = append(filtered, value)
		}
	}
	return filtered, nil
}

func (s *Service) vocabularyProvider(ch domain.Channel) (domain.VocabularyProvider, bool) {
	if ch.CollectorName == "" {
		return nil, false
	}
	collector, ok := s.collectors[ch.CollectorName]
	if !ok {
		return nil, false
	}
	provider, ok := collector.(domain.VocabularyProvider)
	return provider, ok
}

func formatSupported(ch domain.Channel, format string) bool {
	for _, f := range ch.Formats {
		if f == format {
			return true
		}
	}
	return false
}
