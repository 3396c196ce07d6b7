package domain

import (
	"context"
	"time"
)

// TitleJobCause описывает источник задачи на обновление титула.
type TitleJobCause string

const (
	// TitleCauseNotification — уведомление с процентом из чата.
	TitleCauseNotification TitleJobCause = "notification"
	// TitleCauseAdmin — ручная задача, поставленная администратором.
	TitleCauseAdmin TitleJobCause = "admin"
)

// TitleJob содержит данные уведомления, поставленного в очередь.
type TitleJob struct {
	ID          string        `json:"job_id,omitempty"`
	UserTGID    int64         `json:"user_tg_id"`
	ChatID      int64         `json:"chat_id"`
	Percentage  int           `json:"percentage"`
	OccurredAt  time.Time     `json:"occurred_at"`
	RequestedAt time.Time     `json:"requested_at"`
	Cause       TitleJobCause `json:"cause"`
}

// TitleAckFunc подтверждает обработку задачи либо запрашивает повтор доставки.
type TitleAckFunc func(success bool) error

// TitleQueue — очередь задач на обновление титулов.
type TitleQueue interface {
	Enqueue(ctx context.Context, job TitleJob) error
	// Receive блокирующе отдаёт следующую задачу и функцию подтверждения.
	Receive(ctx context.Context) (TitleJob, TitleAckFunc, error)
}
