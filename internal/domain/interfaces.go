package domain

import (
	"context"
	"time"
)

// Collector выгружает новые единицы контента с момента, зафиксированного
// курсором. Пустой выбор интересов подписки — валидное состояние: коллектор
// возвращает пустой список и нетронутый курсор, а не ошибку. Повторные
// элементы допустимы (at-least-once); пропуски — нет.
type Collector interface {
	GetItems(ctx context.Context, cue Cue, sub Subscription) ([]Item, Cue, error)
}

// VocabularyProvider — необязательная способность коллектора: перечислить
// допустимые значения выбора и подпись поля для формы подписки.
type VocabularyProvider interface {
	Vocabulary(ctx context.Context) ([]string, error)
	FieldTitle() string
}

// Composer строит сообщение подписки из собранных элементов. Ядро не
// заглядывает в полезную нагрузку и не считает рендер идемпотентным.
type Composer interface {
	Render(ctx context.Context, sub Subscription, items []Item) (Message, error)
}

// Dispatcher доставляет сообщение адресату. Возвращённая ошибка означает
// постоянную неудачу; временную Dispatcher выражает статусом StatusRetry.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) (MessageStatus, string, error)
}

// ChannelRepo управляет каналами и состоянием их расписания.
type ChannelRepo interface {
	CreateChannel(ctx context.Context, ch Channel) (Channel, error)
	GetChannelByName(ctx context.Context, name string) (Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	SetChannelActive(ctx context.Context, channelID int64, active bool) error
	UpdateTriggeredLast(ctx context.Context, channelID int64, triggered time.Time) error
}

// SubscriptionRepo управляет подписками канала.
type SubscriptionRepo interface {
	CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	GetSubscriptionBySecret(ctx context.Context, secret string) (Subscription, error)
	ConfirmSubscription(ctx context.Context, secret string) error
	DeleteSubscription(ctx context.Context, secret string) error
	// ListSubscriptionsGrouped возвращает подписки канала, сгруппированные
	// по адресату. Порядок внутри группы стабилен между вызовами.
	ListSubscriptionsGrouped(ctx context.Context, channelID int64) (map[string][]Subscription, error)
	UpdateSubscriptionCue(ctx context.Context, subscriptionID int64, cue Cue) error
}

// ItemRepo хранит контент для коллектора по словарю тем.
type ItemRepo interface {
	SaveItems(ctx context.Context, items []Item) (int, error)
	ListItemsSince(ctx context.Context, since time.Time, terms []string) ([]Item, error)
	ListTerms(ctx context.Context) ([]string, error)
}

// MessageRepo хранит собранные сообщения и статус их доставки.
type MessageRepo interface {
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	// UpdateMessageStatus переводит сообщение в новый статус, запоминает
	// пояснение и увеличивает счётчик попыток доставки.
	UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, note string) error
	ListMessagesByStatus(ctx context.Context, channelID int64, status MessageStatus, limit int) ([]Message, error)
	CountMessagesByStatus(ctx context.Context, channelID int64) (map[MessageStatus]int, error)
	DeleteMessagesByStatus(ctx context.Context, channelID int64, statuses ...MessageStatus) (int64, error)
	// AddSent увеличивает накопительный счётчик доставленных сообщений
	// канала; счётчик переживает очистку очереди.
	AddSent(ctx context.Context, channelID int64, n int) error
	SentTotal(ctx context.Context, channelID int64) (int64, error)
}

// Cache используется для простых TTL-хранилищ и распределённых замков.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
