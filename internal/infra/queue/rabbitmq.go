package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/metrics"
)

// AMQPTitleQueue реализует очередь заданий поверх RabbitMQ.
// Задания подтверждаются явным ack, при неуспехе возвращаются в очередь.
type AMQPTitleQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewAMQPTitleQueue подключается к брокеру и декларирует durable-очередь.
func NewAMQPTitleQueue(amqpURL, queue string) (*AMQPTitleQueue, error) {
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
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPTitleQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задание в очередь.
func (q *AMQPTitleQueue) Enqueue(ctx context.Context, job domain.TitleJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	metrics.IncTitleJob(string(job.Cause))
	return nil
}

// Receive блокирующе читает задание из очереди.
func (q *AMQPTitleQueue) Receive(ctx context.Context) (domain.TitleJob, domain.TitleAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.TitleJob{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.TitleJob{}, nil, ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return domain.TitleJob{}, nil, errors.New("amqp queue: канал доставки закрыт")
			}
			var job domain.TitleJob
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				// Битое задание повторять бессмысленно.
				_ = delivery.Nack(false, false)
				return domain.TitleJob{}, nil, fmt.Errorf("decode job: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return delivery.Ack(false)
				}
				return delivery.Nack(false, true)
			}
			return job, ack, nil
		}
	}
}

func (q *AMQPTitleQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и соединение с брокером.
func (q *AMQPTitleQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
