package domain

import (
	"context"
	"time"
)

// DispatchCause описывает источник задачи доставки.
type DispatchCause string

const (
	// DispatchCauseScheduled — сообщение собрано по расписанию.
	DispatchCauseScheduled DispatchCause = "scheduled"
	// DispatchCauseManual — оператор запустил сборку вручную.
	DispatchCauseManual DispatchCause = "manual"
	// DispatchCauseSweep — сообщение подхвачено обходом залежавшихся статусов.
	DispatchCauseSweep DispatchCause = "sweep"
)

// DispatchJob — задача на доставку одного собранного сообщения.
type DispatchJob struct {
	ID          string        `json:"job_id"`
	MessageID   string        `json:"message_id"`
	ChannelID   int64         `json:"channel_id"`
	RequestedAt time.Time     `json:"requested_at"`
	Cause       DispatchCause `json:"cause"`
}

// DispatchAckFunc подтверждает обработку задачи или возвращает её в очередь.
type DispatchAckFunc func(success bool) error

// DispatchQueue описывает очередь задач доставки.
type DispatchQueue interface {
	Enqueue(ctx context.Context, job DispatchJob) error
	Receive(ctx context.Context) (DispatchJob, DispatchAckFunc, error)
}
