package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// RabbitDispatchQueue реализует очередь задач доставки поверх AMQP.
// Публикация и потребление идут по разным каналам одного соединения.
type RabbitDispatchQueue struct {
	conn  *amqp.Connection
	pub   *amqp.Channel
	queue string

	mu         sync.Mutex
	sub        *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ domain.DispatchQueue = (*RabbitDispatchQueue)(nil)

// NewRabbitDispatchQueue подключается к брокеру и объявляет долговечную очередь.
func NewRabbitDispatchQueue(amqpURL, queue string) (*RabbitDispatchQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := pub.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitDispatchQueue{conn: conn, pub: pub, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitDispatchQueue) Enqueue(ctx context.Context, job domain.DispatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
//
// Подтверждение успеха снимает сообщение с брокера, отказ возвращает его
// в очередь через nack с requeue.
func (q *RabbitDispatchQueue) Receive(ctx context.Context) (domain.DispatchJob, domain.DispatchAckFunc, error) {
	deliveries, err := q.consumeChannel()
	if err != nil {
		return domain.DispatchJob{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.DispatchJob{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.DispatchJob{}, nil, errors.New("rabbitmq queue: канал доставки закрыт")
			}
			var job domain.DispatchJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				// Нечитаемый payload не вернётся в очередь: повтор даст тот же результат.
				_ = d.Nack(false, false)
				return domain.DispatchJob{}, nil, fmt.Errorf("decode job: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}
			return job, ack, nil
		}
	}
}

// Close закрывает каналы и соединение с брокером.
func (q *RabbitDispatchQueue) Close() error {
	q.mu.Lock()
	if q.sub != nil {
		_ = q.sub.Close()
		q.sub = nil
		q.deliveries = nil
	}
	q.mu.Unlock()
	_ = q.pub.Close()
	return q.conn.Close()
}

func (q *RabbitDispatchQueue) consumeChannel() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	sub, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	// Небольшой prefetch не даёт одному воркеру забрать всю очередь.
	if err := sub.Qos(8, 0, false); err != nil {
		sub.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := sub.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("consume queue: %w", err)
	}
	q.sub = sub
	q.deliveries = deliveries
	return deliveries, nil
}
