package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/metrics"
	"tg-title-bot/internal/usecase/leaderboard"
)

const (
	cacheTTL          = 24 * time.Hour
	recentChangeLimit = 5
)

// PeriodFromSettings передаётся в GlobalAverage, чтобы период был прочитан
// из настроек бота.
const PeriodFromSettings = -1

// Service считает агрегаты по снапшотам и обслуживает плановую досоздачу
// снапшотов.
type Service struct {
	users       domain.UserRepo
	stats       domain.StatsRepo
	history     domain.HistoryRepo
	settings    domain.SettingsRepo
	leaderboard *leaderboard.Service
}

// NewService создаёт сервис статистики.
func NewService(users domain.UserRepo, stats domain.StatsRepo, history domain.HistoryRepo, settings domain.SettingsRepo, lb *leaderboard.Service) *Service {
	return &Service{users: users, stats: stats, history: history, settings: settings, leaderboard: lb}
}

// GlobalAverage возвращает средний процент по всем снапшотам за период в днях
// (0 — всё время, PeriodFromSettings — период из настроек). nil — данных нет.
// Просроченный кэш — промах; свежий результат кэшируется на сутки. Отказ
// записи кэша не блокирует ответ: значение отдаётся из прямой агрегации.
func (s *Service) GlobalAverage(ctx context.Context, periodDays int) (*float64, error) {
	if periodDays < 0 {
		fromSettings, err := s.averagingPeriod()
		if err != nil {
			return nil, err
		}
		periodDays = fromSettings
	}

	now := time.Now().UTC()
	cached, err := s.stats.GetCachedStat(domain.StatKindGlobalAverage, periodDays, now)
	if err == nil && cached != nil {
		metrics.IncStatCache("hit")
		return cached, nil
	}
	metrics.IncStatCache("miss")

	value, samples, err := s.stats.AveragePercentage(periodDays, now)
	if err != nil {
		return nil, fmt.Errorf("агрегация снапшотов: %w", err)
	}
	if samples == 0 {
		return nil, nil
	}
	// Гонки конкурентного пересчёта разрешаются последней записью.
	if err := s.stats.PutCachedStat(domain.StatCacheEntry{
		Kind:       domain.StatKindGlobalAverage,
		PeriodDays: periodDays,
		Value:      value,
		ExpiresAt:  now.Add(cacheTTL),
	}); err != nil {
		metrics.IncStatCache("write_error")
	}
	return &value, nil
}

func (s *Service) averagingPeriod() (int, error) {
	raw, err := s.settings.GetSetting(domain.SettingGlobalAveragePeriod)
	if err != nil {
		return 0, fmt.Errorf("чтение периода: %w", err)
	}
	if raw == "" {
		return 0, nil
	}
	period, err := strconv.Atoi(raw)
	if err != nil || period < 0 {
		return 0, nil
	}
	return period, nil
}

// UserStats собирает карточку пользователя: титул, позицию в рейтинге,
// последние изменения и тренды процента за день, неделю и месяц.
func (s *Service) UserStats(ctx context.Context, tgUserID int64) (domain.UserStats, error) {
	user, err := s.users.GetByTGID(tgUserID)
	if err != nil {
		return domain.UserStats{}, err
	}

	rank, err := s.leaderboard.Position(ctx, user, domain.OrderAsc)
	if err != nil {
		return domain.UserStats{}, err
	}

	changes, err := s.history.ListRecentChanges(user.ID, recentChangeLimit)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("история изменений: %w", err)
	}

	today := domain.LocalDate(time.Now().UTC(), user.Timezone)
	daily, err := s.stats.UserAverage(user.ID, today, today)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("дневной тренд: %w", err)
	}
	weekly, err := s.stats.UserAverage(user.ID, today.AddDate(0, 0, -7), today)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("недельный тренд: %w", err)
	}
	monthly, err := s.stats.UserAverage(user.ID, today.AddDate(0, 0, -30), today)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("месячный тренд: %w", err)
	}

	return domain.UserStats{
		User:          user,
		Rank:          rank,
		RecentChanges: changes,
		DailyTrend:    daily,
		WeeklyTrend:   weekly,
		MonthlyTrend:  monthly,
	}, nil
}

// SweepMissingSnapshots досоздаёт снапшоты за дату для пользователей, чья
// последняя обработка пришлась на неё, но строка снапшота отсутствует.
// Повторный запуск за ту же дату — no-op.
func (s *Service) SweepMissingSnapshots(ctx context.Context, date time.Time) (int, error) {
	missing, err := s.stats.ListUsersMissingSnapshot(date)
	if err != nil {
		return 0, fmt.Errorf("поиск пропущенных снапшотов: %w", err)
	}

	created := 0
	for _, user := range missing {
		inserted, err := s.stats.UpsertSnapshot(domain.DailySnapshot{
			UserID:      user.ID,
			Date:        date,
			Percentage:  user.LastPercentage,
			Title:       user.DisplayedTitle,
			LetterCount: user.LetterCount,
		})
		if err != nil {
			return created, fmt.Errorf("снапшот пользователя %d: %w", user.TGUserID, err)
		}
		if inserted {
			created++
		}
	}

	if created > 0 {
		if err := s.stats.InvalidateStatCache(); err != nil {
			return created, fmt.Errorf("сброс кэша статистики: %w", err)
		}
	}
	metrics.AddSweptSnapshots(created)
	return created, nil
}

// RecheckMissedDays прогоняет досоздание за ограниченное окно последних дней.
func (s *Service) RecheckMissedDays(ctx context.Context, daysBack int) (int, error) {
	today := domain.LocalDate(time.Now().UTC(), "")
	total := 0
	for i := 0; i < daysBack; i++ {
		created, err := s.SweepMissingSnapshots(ctx, today.AddDate(0, 0, -i))
		if err != nil {
			return total, err
		}
		total += created
	}
	return total, nil
}
