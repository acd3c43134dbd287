package domain

import "time"

// SchedulerKind определяет вариант расписания канала.
type SchedulerKind string

const (
	// SchedulerNone — канал собирается только вручную.
	SchedulerNone SchedulerKind = ""
	// SchedulerDaily — раз в сутки.
	SchedulerDaily SchedulerKind = "daily"
	// SchedulerWeekly — раз в неделю.
	SchedulerWeekly SchedulerKind = "weekly"
)

// Cue — непрозрачный курсор коллектора: всё, что было до него, уже
// доставлялось. Элементы на самой границе могут прийти повторно, доставка
// не строже чем "хотя бы один раз". Пустое значение означает, что поток ещё
// не читался.
type Cue string

// Channel описывает адрес доставки рассылки: какие форматы он умеет,
// какой коллектор поставляет контент и по какому расписанию срабатывает.
type Channel struct {
	ID            int64
	Name          string
	Title         string
	CollectorName string
	Formats       []string
	SchedulerKind SchedulerKind
	Active        bool
	TriggeredLast time.Time
	CreatedAt     time.Time
}

// Subscription хранит состояние подписки адресата на канал.
type Subscription struct {
	ID        int64
	ChannelID int64
	Secret    string
	Address   string
	Format    string
	Pending   bool
	Selection []string
	Cue       Cue
	CreatedAt time.Time
}

// Item представляет единицу контента, собранную коллектором.
type Item struct {
	ID          string
	Title       string
	URL         string
	Body        string
	Terms       []string
	PublishedAt time.Time
}

// MessageStatus — состояние сообщения в очереди доставки.
type MessageStatus string

const (
	// StatusNew — сообщение собрано и ждёт доставки.
	StatusNew MessageStatus = "new"
	// StatusSent — доставлено.
	StatusSent MessageStatus = "sent"
	// StatusError — доставка завершилась постоянной ошибкой.
	StatusError MessageStatus = "error"
	// StatusRetry — временная ошибка, сообщение будет доставлено повторно.
	StatusRetry MessageStatus = "retry"
)

// MessageStatuses перечисляет допустимые состояния сообщения.
var MessageStatuses = []MessageStatus{StatusNew, StatusSent, StatusError, StatusRetry}

// Valid сообщает, входит ли статус в допустимый набор.
func (s MessageStatus) Valid() bool {
	for _, known := range MessageStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Message — отрендеренное сообщение одной подписки за один проход сборки.
type Message struct {
	ID             string
	ChannelID      int64
	SubscriptionID int64
	Address        string
	Format         string
	Subject        string
	Payload        []byte
	Status         MessageStatus
	StatusMessage  string
	Attempts       int
	StatusChanged  time.Time
	CreatedAt      time.Time
}
