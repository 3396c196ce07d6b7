package domain

import "time"

// User описывает участника титульного рейтинга.
type User struct {
	ID                int64
	TGUserID          int64
	Username          string
	DisplayName       string
	BaseTitle         string
	DisplayedTitle    string
	LetterCount       int
	TitleLocked       bool
	Timezone          string
	Locale            string
	LastPercentage    *int
	LastProcessedDate *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ChangeKind определяет источник изменения титула.
type ChangeKind string

const (
	// ChangeCreated — титул присвоен при регистрации.
	ChangeCreated ChangeKind = "created"
	// ChangeAutomatic — титул пересчитан по проценту из уведомления.
	ChangeAutomatic ChangeKind = "automatic"
	// ChangeManualAdmin — титул изменён администратором вручную.
	ChangeManualAdmin ChangeKind = "manual_admin"
)

// TitleChange хранит запись истории изменений титула. История append-only:
// записи не изменяются и удаляются только каскадом вместе с пользователем.
type TitleChange struct {
	ID         int64
	UserID     int64
	OldTitle   string
	NewTitle   string
	Percentage *int
	Kind       ChangeKind
	CreatedAt  time.Time
}

// DailySnapshot фиксирует состояние пользователя на календарную дату.
// На пару (UserID, Date) существует не более одной записи.
type DailySnapshot struct {
	UserID      int64
	Date        time.Time
	Percentage  *int
	Title       string
	LetterCount int
}

// StatCacheEntry хранит закэшированный агрегат. Просроченная запись
// трактуется как промах кэша.
type StatCacheEntry struct {
	Kind       string
	PeriodDays int
	Value      float64
	ExpiresAt  time.Time
}

// StatKindGlobalAverage — ключ кэша глобального среднего процента.
const StatKindGlobalAverage = "global_average"

// Ключи bot_settings.
const (
	SettingGlobalAveragePeriod = "global_average_period"
	SettingDefaultTitle        = "default_title"
)

// SortOrder задаёт направление сортировки лидерборда.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// LeaderboardEntry — позиция пользователя в полном отсортированном списке.
// Rank считается от единицы по всему списку, а не внутри страницы.
type LeaderboardEntry struct {
	Rank int
	User User
}

// UserStats агрегирует данные для карточки пользователя.
type UserStats struct {
	User          User
	Rank          int
	RecentChanges []TitleChange
	DailyTrend    *float64
	WeeklyTrend   *float64
	MonthlyTrend  *float64
}

// TelegramProfile содержит данные профиля, известные транспортному слою.
type TelegramProfile struct {
	TGUserID    int64
	Username    string
	DisplayName string
	Locale      string
	Timezone    string
}
