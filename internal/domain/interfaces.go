package domain

import "time"

// UpdateOutcome — исход обработки уведомления о проценте.
// AlreadyProcessed и TitleLocked — валидные no-op исходы, а не ошибки.
type UpdateOutcome string

const (
	OutcomeApplied          UpdateOutcome = "applied"
	OutcomeAlreadyProcessed UpdateOutcome = "already_processed_today"
	OutcomeTitleLocked      UpdateOutcome = "title_locked"
)

// TitleUpdateResult описывает результат атомарного обновления титула.
type TitleUpdateResult struct {
	Outcome  UpdateOutcome
	User     User
	OldTitle string
}

// ComputeTitleFunc вычисляет новый отображаемый титул. activeUsers читается
// хранилищем внутри той же транзакции, чтобы штраф за 100% соответствовал
// текущему числу участников.
type ComputeTitleFunc func(user User, activeUsers int) string

// UserRepo управляет пользователями.
type UserRepo interface {
	// Register создаёт пользователя либо возвращает существующего.
	// Новая запись получает пустой отображаемый титул и ноль букв: база
	// задаёт только потолок для правил пересчёта. Второй результат — true,
	// если запись была создана.
	Register(profile TelegramProfile, baseTitle string) (User, bool, error)
	GetByTGID(tgUserID int64) (User, error)
	GetByUsername(username string) (User, error)
	ListAll() ([]User, error)
	CountActive() (int, error)
	SetTitleLock(userID int64, locked bool) error
	// SetBaseTitle меняет базовый титул. Отображаемый титул не пересчитывается:
	// он может устареть относительно новой базы, авто-сжатие не выполняется.
	SetBaseTitle(userID int64, baseTitle string) error
	SetDisplayedTitle(userID int64, displayedTitle string, letterCount int) error
	DeleteUser(userID int64) error
}

// TitleUpdateRepo исполняет шлюз обновления как одну атомарную единицу:
// проверка «первое сообщение за день», пересчёт титула, история, снапшот и
// сброс кэша статистики выполняются в одной транзакции с блокировкой строки
// пользователя. Повтор уведомления в тот же локальный день — no-op.
type TitleUpdateRepo interface {
	ApplyAutomatic(tgUserID int64, percentage int, localDate time.Time, compute ComputeTitleFunc) (TitleUpdateResult, error)
}

// HistoryRepo хранит историю изменений титулов.
type HistoryRepo interface {
	AppendChange(change TitleChange) error
	ListRecentChanges(userID int64, limit int) ([]TitleChange, error)
}

// StatsRepo управляет снапшотами и кэшем агрегатов.
type StatsRepo interface {
	// UpsertSnapshot записывает снапшот за день. Возвращает false, если
	// запись за эту дату уже существовала (вставка — no-op).
	UpsertSnapshot(snapshot DailySnapshot) (bool, error)
	// ListUsersMissingSnapshot возвращает пользователей с активностью за
	// дату, но без снапшота за неё.
	ListUsersMissingSnapshot(date time.Time) ([]User, error)
	// AveragePercentage считает среднее по снапшотам за период в днях
	// (0 — за всё время). Второй результат — размер выборки.
	AveragePercentage(periodDays int, now time.Time) (float64, int, error)
	// UserAverage считает средний процент пользователя на отрезке дат.
	// nil — если снапшотов за период нет.
	UserAverage(userID int64, from, to time.Time) (*float64, error)
	GetCachedStat(kind string, periodDays int, now time.Time) (*float64, error)
	PutCachedStat(entry StatCacheEntry) error
	InvalidateStatCache() error
}

// LeaderboardRepo отдаёт срезы рейтинга по числу букв.
type LeaderboardRepo interface {
	// ListByLetterCount сортирует по letter_count с детерминированным
	// тай-брейком по id, чтобы пагинация была воспроизводимой.
	ListByLetterCount(order SortOrder, limit, offset int) ([]User, error)
	// CountRankedBefore возвращает число пользователей строго выше данного
	// в полном порядке сортировки.
	CountRankedBefore(user User, order SortOrder) (int, error)
}

// SettingsRepo — key-value настройки бота.
type SettingsRepo interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value, description string) error
}

// Cache используется для TTL-замков и простых значений (Redis).
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
