package stats

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/usecase/leaderboard"
)

type stubRepo struct {
	users     map[int64]domain.User
	snapshots map[string]domain.DailySnapshot
	cache     map[string]domain.StatCacheEntry
	settings  map[string]string
	changes   map[int64][]domain.TitleChange

	averageCalls int
	average      float64
	samples      int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:     map[int64]domain.User{},
		snapshots: map[string]domain.DailySnapshot{},
		cache:     map[string]domain.StatCacheEntry{},
		settings:  map[string]string{},
		changes:   map[int64][]domain.TitleChange{},
	}
}

func snapKey(userID int64, date time.Time) string {
	return date.Format("2006-01-02") + "|" + strconv.FormatInt(userID, 10)
}

func cacheKey(kind string, period int) string {
	return kind + "|" + strconv.Itoa(period)
}

// UserRepo (только используемая часть).

func (s *stubRepo) Register(profile domain.TelegramProfile, baseTitle string) (domain.User, bool, error) {
	panic("не используется")
}

func (s *stubRepo) GetByTGID(tgUserID int64) (domain.User, error) {
	u, ok := s.users[tgUserID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) GetByUsername(username string) (domain.User, error) {
	panic("не используется")
}

func (s *stubRepo) ListAll() ([]domain.User, error) {
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubRepo) CountActive() (int, error) { return len(s.users), nil }

func (s *stubRepo) SetTitleLock(userID int64, locked bool) error { panic("не используется") }

func (s *stubRepo) SetBaseTitle(userID int64, baseTitle string) error { panic("не используется") }

func (s *stubRepo) SetDisplayedTitle(userID int64, displayedTitle string, letterCount int) error {
	panic("не используется")
}

func (s *stubRepo) DeleteUser(userID int64) error { panic("не используется") }

// StatsRepo.

func (s *stubRepo) UpsertSnapshot(snapshot domain.DailySnapshot) (bool, error) {
	key := snapKey(snapshot.UserID, snapshot.Date)
	if _, ok := s.snapshots[key]; ok {
		return false, nil
	}
	s.snapshots[key] = snapshot
	return true, nil
}

func (s *stubRepo) ListUsersMissingSnapshot(date time.Time) ([]domain.User, error) {
	var out []domain.User
	for _, u := range s.users {
		if u.LastProcessedDate == nil || !domain.SameDate(*u.LastProcessedDate, date) {
			continue
		}
		if _, ok := s.snapshots[snapKey(u.ID, date)]; !ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) AveragePercentage(periodDays int, now time.Time) (float64, int, error) {
	s.averageCalls++
	return s.average, s.samples, nil
}

func (s *stubRepo) UserAverage(userID int64, from, to time.Time) (*float64, error) {
	return nil, nil
}

func (s *stubRepo) GetCachedStat(kind string, periodDays int, now time.Time) (*float64, error) {
	entry, ok := s.cache[cacheKey(kind, periodDays)]
	if !ok || !entry.ExpiresAt.After(now) {
		return nil, nil
	}
	v := entry.Value
	return &v, nil
}

func (s *stubRepo) PutCachedStat(entry domain.StatCacheEntry) error {
	s.cache[cacheKey(entry.Kind, entry.PeriodDays)] = entry
	return nil
}

func (s *stubRepo) InvalidateStatCache() error {
	s.cache = map[string]domain.StatCacheEntry{}
	return nil
}

// HistoryRepo.

func (s *stubRepo) AppendChange(change domain.TitleChange) error {
	s.changes[change.UserID] = append(s.changes[change.UserID], change)
	return nil
}

func (s *stubRepo) ListRecentChanges(userID int64, limit int) ([]domain.TitleChange, error) {
	all := s.changes[userID]
	var out []domain.TitleChange
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// SettingsRepo.

func (s *stubRepo) GetSetting(key string) (string, error) { return s.settings[key], nil }

func (s *stubRepo) SetSetting(key, value, description string) error {
	s.settings[key] = value
	return nil
}

// LeaderboardRepo.

func (s *stubRepo) ListByLetterCount(order domain.SortOrder, limit, offset int) ([]domain.User, error) {
	panic("не используется")
}

func (s *stubRepo) CountRankedBefore(user domain.User, order domain.SortOrder) (int, error) {
	n := 0
	for _, u := range s.users {
		if u.LetterCount < user.LetterCount || (u.LetterCount == user.LetterCount && u.ID < user.ID) {
			n++
		}
	}
	return n, nil
}

func newService(repo *stubRepo) *Service {
	return NewService(repo, repo, repo, repo, leaderboard.NewService(repo))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGlobalAverageCachesResult(t *testing.T) {
	repo := newStubRepo()
	repo.average = 42.5
	repo.samples = 10
	svc := newService(repo)

	got, err := svc.GlobalAverage(context.Background(), 30)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got == nil || *got != 42.5 {
		t.Fatalf("ожидали 42.5, получили %v", got)
	}
	if repo.averageCalls != 1 {
		t.Fatalf("ожидали один вызов агрегации, получили %d", repo.averageCalls)
	}

	// Повтор до истечения TTL отдаётся из кэша.
	got, err = svc.GlobalAverage(context.Background(), 30)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got == nil || *got != 42.5 {
		t.Fatalf("ожидали 42.5 из кэша, получили %v", got)
	}
	if repo.averageCalls != 1 {
		t.Fatalf("кэш не сработал: %d вызовов агрегации", repo.averageCalls)
	}
}

func TestGlobalAverageExpiredCacheRecomputes(t *testing.T) {
	repo := newStubRepo()
	repo.average = 10
	repo.samples = 3
	repo.cache[cacheKey(domain.StatKindGlobalAverage, 0)] = domain.StatCacheEntry{
		Kind:      domain.StatKindGlobalAverage,
		Value:     99,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	svc := newService(repo)

	got, err := svc.GlobalAverage(context.Background(), 0)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got == nil || *got != 10 {
		t.Fatalf("просроченный кэш должен пересчитываться, получили %v", got)
	}
	if repo.averageCalls != 1 {
		t.Fatalf("ожидали пересчёт, вызовов: %d", repo.averageCalls)
	}
}

func TestGlobalAverageNoData(t *testing.T) {
	repo := newStubRepo()
	repo.samples = 0
	svc := newService(repo)

	got, err := svc.GlobalAverage(context.Background(), 0)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != nil {
		t.Fatalf("без снапшотов ожидали nil, получили %v", *got)
	}
}

func TestGlobalAveragePeriodFromSettings(t *testing.T) {
	repo := newStubRepo()
	repo.average = 7
	repo.samples = 1
	repo.settings[domain.SettingGlobalAveragePeriod] = "14"
	svc := newService(repo)

	if _, err := svc.GlobalAverage(context.Background(), PeriodFromSettings); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if _, ok := repo.cache[cacheKey(domain.StatKindGlobalAverage, 14)]; !ok {
		t.Fatalf("ожидали кэш под периодом из настроек, кэш: %v", repo.cache)
	}
}

func TestSweepMissingSnapshots(t *testing.T) {
	repo := newStubRepo()
	day := date(2024, time.March, 10)
	pct := 55
	repo.users[100] = domain.User{ID: 1, TGUserID: 100, DisplayedTitle: "Lord", LetterCount: 4, LastPercentage: &pct, LastProcessedDate: &day}
	other := date(2024, time.March, 9)
	repo.users[200] = domain.User{ID: 2, TGUserID: 200, LastProcessedDate: &other}
	repo.cache[cacheKey(domain.StatKindGlobalAverage, 0)] = domain.StatCacheEntry{ExpiresAt: time.Now().Add(time.Hour)}
	svc := newService(repo)

	created, err := svc.SweepMissingSnapshots(context.Background(), day)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if created != 1 {
		t.Fatalf("ожидали один досозданный снапшот, получили %d", created)
	}
	if len(repo.cache) != 0 {
		t.Fatalf("кэш статистики должен быть сброшен, кэш: %v", repo.cache)
	}

	// Повторный прогон за ту же дату ничего не создаёт.
	created, err = svc.SweepMissingSnapshots(context.Background(), day)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if created != 0 {
		t.Fatalf("повторный прогон должен быть no-op, создано %d", created)
	}
}

func TestUserStatsUnknownUser(t *testing.T) {
	svc := newService(newStubRepo())
	if _, err := svc.UserStats(context.Background(), 999); err != domain.ErrUserNotFound {
		t.Fatalf("ожидали ErrUserNotFound, получили %v", err)
	}
}

func TestUserStatsRankAndHistory(t *testing.T) {
	repo := newStubRepo()
	repo.users[100] = domain.User{ID: 1, TGUserID: 100, LetterCount: 9}
	repo.users[200] = domain.User{ID: 2, TGUserID: 200, LetterCount: 4}
	for i := 0; i < 7; i++ {
		repo.changes[1] = append(repo.changes[1], domain.TitleChange{UserID: 1, NewTitle: "t" + strconv.Itoa(i)})
	}
	svc := newService(repo)

	got, err := svc.UserStats(context.Background(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got.Rank != 2 {
		t.Fatalf("ожидали позицию 2, получили %d", got.Rank)
	}
	if len(got.RecentChanges) != 5 {
		t.Fatalf("ожидали 5 последних изменений, получили %d", len(got.RecentChanges))
	}
	if got.RecentChanges[0].NewTitle != "t6" || got.RecentChanges[4].NewTitle != "t2" {
		t.Fatalf("изменения должны идти от нового к старому, получили %q … %q", got.RecentChanges[0].NewTitle, got.RecentChanges[4].NewTitle)
	}
}
