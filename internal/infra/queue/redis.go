package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/metrics"
)

// RedisTitleQueue реализует очередь заданий на базе Redis lists.
// BRPOP снимает задание без подтверждения, ack — no-op.
type RedisTitleQueue struct {
	client *redis.Client
	key    string
}

// NewRedisTitleQueue создаёт очередь по указанному ключу.
func NewRedisTitleQueue(client *redis.Client, key string) *RedisTitleQueue {
	return &RedisTitleQueue{client: client, key: key}
}

// Enqueue публикует задание в очередь.
func (q *RedisTitleQueue) Enqueue(ctx context.Context, job domain.TitleJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	metrics.IncTitleJob(string(job.Cause))
	return nil
}

// Receive блокирующе читает задание из очереди.
func (q *RedisTitleQueue) Receive(ctx context.Context) (domain.TitleJob, domain.TitleAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.TitleJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.TitleJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.TitleJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.TitleJob{}, nil, errors.New("redis queue: unexpected response")
		}
		var job domain.TitleJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.TitleJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, func(bool) error { return nil }, nil
	}
}
