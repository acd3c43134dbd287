package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// Terms отдаёт элементы хранилища, пересекающиеся с выбором тем подписки.
// Курсором служит момент прошлого сбора: всё, что опубликовано позже, ещё
// не доставлялось. Пустой курсор означает сбор с самого начала.
type Terms struct {
	items domain.ItemRepo
	log   zerolog.Logger

	mu   sync.RWMutex
	opts Options
}

var (
	_ domain.Collector          = (*Terms)(nil)
	_ domain.VocabularyProvider = (*Terms)(nil)
)

// NewTerms создаёт коллектор по словарю тем.
func NewTerms(items domain.ItemRepo, opts Options, log zerolog.Logger) *Terms {
	return &Terms{items: items, opts: opts, log: log}
}

// SetOptions применяет новые настройки на лету.
func (t *Terms) SetOptions(opts Options) {
	t.mu.Lock()
	t.opts = opts
	t.mu.Unlock()
}

// FieldTitle возвращает подпись поля выбора для формы подписки.
func (t *Terms) FieldTitle() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.opts.FieldTitle != "" {
		return t.opts.FieldTitle
	}
	return "Темы"
}

// Vocabulary возвращает темы, предлагаемые новым подпискам: настроенное
// сужение словаря либо все темы, встречающиеся в хранилище.
func (t *Terms) Vocabulary(ctx context.Context) ([]string, error) {
	t.mu.RLock()
	filtered := t.opts.FilteredItems
	t.mu.RUnlock()
	if len(filtered) > 0 {
		return append([]string(nil), filtered...), nil
	}
	return t.items.ListTerms(ctx)
}

// GetItems реализует domain.Collector. Пустой выбор не ошибка: коллектор
// возвращает пустой список и нетронутый курсор. Сужение словаря действует
// только на предлагаемые темы, уже сохранённый выбор собирается целиком.
func (t *Terms) GetItems(ctx context.Context, cue domain.Cue, sub domain.Subscription) ([]domain.Item, domain.Cue, error) {
	if len(sub.Selection) == 0 {
		return nil, cue, nil
	}
	return t.GetItemsForTerms(ctx, cue, sub.Selection)
}

// GetItemsForTerms собирает элементы по явному списку тем.
func (t *Terms) GetItemsForTerms(ctx context.Context, cue domain.Cue, terms []string) ([]domain.Item, domain.Cue, error) {
	var since time.Time
	if cue != "" {
		parsed, err := time.Parse(time.RFC3339Nano, string(cue))
		if err != nil {
			return nil, cue, fmt.Errorf("разбор курсора %q: %w", cue, err)
		}
		since = parsed
	}

	// Новый курсор берём до чтения: опубликованное во время сбора придёт
	// повторно, но не потеряется.
	collectedAt := time.Now().UTC()
	items, err := t.items.ListItemsSince(ctx, since, terms)
	if err != nil {
		return nil, cue, fmt.Errorf("выборка элементов: %w", err)
	}
	metrics.CollectorItemsTotal.WithLabelValues("terms").Add(float64(len(items)))
	t.log.Debug().Int("terms", len(terms)).Int("items", len(items)).Msg("collector: темы собраны")
	return items, domain.Cue(collectedAt.Format(time.RFC3339Nano)), nil
}
