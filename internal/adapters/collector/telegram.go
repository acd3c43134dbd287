package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// Telegram собирает историю публичных Telegram-каналов через MTProto.
// Выбор подписки — алиасы каналов-источников, курсор — карта
// «алиас → последний прочитанный id сообщения».
type Telegram struct {
	client  *telegram.Client
	limiter *rate.Limiter
	limit   int
	log     zerolog.Logger

	mu   sync.RWMutex
	opts Options
}

var (
	_ domain.Collector          = (*Telegram)(nil)
	_ domain.VocabularyProvider = (*Telegram)(nil)
)

// NewTelegram создаёт MTProto-коллектор. Сессия должна быть авторизована
// заранее, клиент её только читает и продлевает.
func NewTelegram(apiID int, apiHash, sessionPath string, rps int, opts Options, log zerolog.Logger) *Telegram {
	if rps <= 0 {
		rps = 5
	}
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
	})
	return &Telegram{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		limit:   50,
		log:     log,
		opts:    opts,
	}
}

// SetOptions применяет новые настройки на лету.
func (t *Telegram) SetOptions(opts Options) {
	t.mu.Lock()
	t.opts = opts
	t.mu.Unlock()
}

// FieldTitle возвращает подпись поля выбора для формы подписки.
func (t *Telegram) FieldTitle() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.opts.FieldTitle != "" {
		return t.opts.FieldTitle
	}
	return "Telegram-каналы"
}

// Vocabulary возвращает настроенные источники.
func (t *Telegram) Vocabulary(ctx context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.opts.Sources...), nil
}

// GetItems реализует domain.Collector.
func (t *Telegram) GetItems(ctx context.Context, cue domain.Cue, sub domain.Subscription) ([]domain.Item, domain.Cue, error) {
	sources := t.allowedSources(sub.Selection)
	if len(sources) == 0 {
		return nil, cue, nil
	}

	marks := decodeWatermarks(cue)
	var items []domain.Item
	err := t.client.Run(ctx, func(ctx context.Context) error {
		status, err := t.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("статус авторизации: %w", err)
		}
		if !status.Authorized {
			return errors.New("сессия не авторизована, импортируйте сессию")
		}
		api := t.client.API()
		for _, alias := range sources {
			collected, lastID, err := t.collectSource(ctx, api, alias, marks[alias])
			if err != nil {
				return fmt.Errorf("источник %s: %w", alias, err)
			}
			if lastID > marks[alias] {
				marks[alias] = lastID
			}
			items = append(items, collected...)
		}
		return nil
	})
	if err != nil {
		return nil, cue, err
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})
	metrics.CollectorItemsTotal.WithLabelValues("telegram").Add(float64(len(items)))
	t.log.Debug().Int64("subscription_id", sub.ID).Int("items", len(items)).Msg("collector: telegram собран")
	return items, encodeWatermarks(marks), nil
}

func (t *Telegram) collectSource(ctx context.Context, api *tg.Client, alias string, minID int) ([]domain.Item, int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	start := time.Now()
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: alias})
	metrics.ObserveNetworkRequest("mtproto", "resolve_username", alias, start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("резолв алиаса: %w", err)
	}
	var channel *tg.Channel
	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			channel = ch
			break
		}
	}
	if channel == nil {
		return nil, 0, fmt.Errorf("алиас не является каналом")
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	req := &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash},
		Limit: t.limit,
	}
	if minID > 0 {
		req.MinID = minID
	}
	start = time.Now()
	history, err := api.MessagesGetHistory(ctx, req)
	metrics.ObserveNetworkRequest("mtproto", "messages_get_history", alias, start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("история: %w", err)
	}

	var raw []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	default:
		return nil, 0, fmt.Errorf("неожиданный ответ истории: %T", history)
	}

	items := make([]domain.Item, 0, len(raw))
	lastID := minID
	for _, msg := range raw {
		m, ok := msg.(*tg.Message)
		if !ok || m.Message == "" {
			continue
		}
		if m.ID > lastID {
			lastID = m.ID
		}
		items = append(items, domain.Item{
			ID:          fmt.Sprintf("tg:%s:%d", alias, m.ID),
			Title:       headline(m.Message),
			URL:         fmt.Sprintf("https://t.me/%s/%d", alias, m.ID),
			Body:        m.Message,
			Terms:       []string{alias},
			PublishedAt: time.Unix(int64(m.Date), 0).UTC(),
		})
	}
	return items, lastID, nil
}

func (t *Telegram) allowedSources(selection []string) []string {
	t.mu.RLock()
	sources := t.opts.Sources
	t.mu.RUnlock()
	if len(sources) == 0 {
		return selection
	}
	allowed := make(map[string]struct{}, len(sources))
	for _, alias := range sources {
		allowed[alias] = struct{}{}
	}
	var result []string
	for _, alias := range selection {
		if _, ok := allowed[alias]; ok {
			result = append(result, alias)
		}
	}
	return result
}

// decodeWatermarks терпимо читает курсор: повреждённое значение означает
// повторный сбор с начала, что допустимо при доставке «как минимум один раз».
func decodeWatermarks(cue domain.Cue) map[string]int {
	marks := make(map[string]int)
	if cue == "" {
		return marks
	}
	_ = json.Unmarshal([]byte(cue), &marks)
	return marks
}

func encodeWatermarks(marks map[string]int) domain.Cue {
	data, _ := json.Marshal(marks)
	return domain.Cue(data)
}

// headline выделяет заголовок из текста сообщения.
func headline(text string) string {
	line := strings.TrimSpace(text)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	runes := []rune(line)
	if len(runes) > 80 {
		return string(runes[:79]) + "…"
	}
	return line
}
