package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventUserRegistered фиксирует регистрацию нового пользователя.
	BusinessMetricEventUserRegistered = "user_registered"
	// BusinessMetricEventTitleApplied фиксирует автоматическое применение титула.
	BusinessMetricEventTitleApplied = "title_applied"
	// BusinessMetricEventTitleOverridden фиксирует ручное изменение титула администратором.
	BusinessMetricEventTitleOverridden = "title_overridden"
	// BusinessMetricEventSnapshotSwept фиксирует досоздание снапшотов плановой задачей.
	BusinessMetricEventSnapshotSwept = "snapshot_swept"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
