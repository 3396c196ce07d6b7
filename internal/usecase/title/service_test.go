package title

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tg-title-bot/internal/domain"
)

// stubRepo эмулирует хранилище, включая семантику атомарного шлюза.
type stubRepo struct {
	users     map[int64]*domain.User
	history   []domain.TitleChange
	snapshots map[string]domain.DailySnapshot
	settings  map[string]string
	nextID    int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:     make(map[int64]*domain.User),
		snapshots: make(map[string]domain.DailySnapshot),
		settings:  make(map[string]string),
	}
}

func (s *stubRepo) addUser(u domain.User) *domain.User {
	s.nextID++
	u.ID = s.nextID
	s.users[u.TGUserID] = &u
	return s.users[u.TGUserID]
}

func (s *stubRepo) Register(profile domain.TelegramProfile, baseTitle string) (domain.User, bool, error) {
	if existing, ok := s.users[profile.TGUserID]; ok {
		return *existing, false, nil
	}
	created := s.addUser(domain.User{
		TGUserID:    profile.TGUserID,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		BaseTitle:   baseTitle,
		Timezone:    profile.Timezone,
	})
	return *created, true, nil
}

func (s *stubRepo) GetByTGID(tgUserID int64) (domain.User, error) {
	u, ok := s.users[tgUserID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *u, nil
}

func (s *stubRepo) GetByUsername(username string) (domain.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return *u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (s *stubRepo) ListAll() ([]domain.User, error) {
	var out []domain.User
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out, nil
}

func (s *stubRepo) CountActive() (int, error) { return len(s.users), nil }

func (s *stubRepo) SetTitleLock(userID int64, locked bool) error {
	for _, u := range s.users {
		if u.ID == userID {
			u.TitleLocked = locked
			return nil
		}
	}
	return domain.ErrUserNotFound
}

func (s *stubRepo) SetBaseTitle(userID int64, baseTitle string) error {
	for _, u := range s.users {
		if u.ID == userID {
			u.BaseTitle = baseTitle
			return nil
		}
	}
	return domain.ErrUserNotFound
}

func (s *stubRepo) SetDisplayedTitle(userID int64, displayedTitle string, letterCount int) error {
	for _, u := range s.users {
		if u.ID == userID {
			u.DisplayedTitle = displayedTitle
			u.LetterCount = letterCount
			return nil
		}
	}
	return domain.ErrUserNotFound
}

func (s *stubRepo) DeleteUser(userID int64) error {
	for tgID, u := range s.users {
		if u.ID == userID {
			delete(s.users, tgID)
			return nil
		}
	}
	return domain.ErrUserNotFound
}

func (s *stubRepo) ApplyAutomatic(tgUserID int64, percentage int, localDate time.Time, compute domain.ComputeTitleFunc) (domain.TitleUpdateResult, error) {
	u, ok := s.users[tgUserID]
	if !ok {
		return domain.TitleUpdateResult{}, domain.ErrUserNotFound
	}
	if u.LastProcessedDate != nil && domain.SameDate(*u.LastProcessedDate, localDate) {
		return domain.TitleUpdateResult{Outcome: domain.OutcomeAlreadyProcessed, User: *u}, nil
	}
	if u.TitleLocked {
		return domain.TitleUpdateResult{Outcome: domain.OutcomeTitleLocked, User: *u}, nil
	}
	newTitle := compute(*u, len(s.users))
	old := u.DisplayedTitle
	if newTitle != old {
		s.history = append(s.history, domain.TitleChange{
			UserID:     u.ID,
			OldTitle:   old,
			NewTitle:   newTitle,
			Percentage: &percentage,
			Kind:       domain.ChangeAutomatic,
		})
	}
	key := fmt.Sprintf("%d|%s", u.ID, localDate.Format("2006-01-02"))
	if _, exists := s.snapshots[key]; !exists {
		s.snapshots[key] = domain.DailySnapshot{
			UserID:      u.ID,
			Date:        localDate,
			Percentage:  &percentage,
			Title:       newTitle,
			LetterCount: domain.CountLetters(newTitle),
		}
	}
	u.DisplayedTitle = newTitle
	u.LetterCount = domain.CountLetters(newTitle)
	u.LastPercentage = &percentage
	date := localDate
	u.LastProcessedDate = &date
	return domain.TitleUpdateResult{Outcome: domain.OutcomeApplied, User: *u, OldTitle: old}, nil
}

func (s *stubRepo) AppendChange(change domain.TitleChange) error {
	s.history = append(s.history, change)
	return nil
}

func (s *stubRepo) ListRecentChanges(userID int64, limit int) ([]domain.TitleChange, error) {
	var out []domain.TitleChange
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].UserID == userID {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

func (s *stubRepo) GetSetting(key string) (string, error) { return s.settings[key], nil }

func (s *stubRepo) SetSetting(key, value, description string) error {
	s.settings[key] = value
	return nil
}

func newTestService(repo *stubRepo) *Service {
	return NewService(repo, repo, repo, repo)
}

func TestProcessNotificationAppliesOncePerDay(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(domain.User{TGUserID: 42, BaseTitle: "Super Gay Title", Timezone: "UTC"})
	service := newTestService(repo)

	morning := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)

	first, err := service.ProcessNotification(context.Background(), 42, 0, morning)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.Outcome != domain.OutcomeApplied {
		t.Fatalf("ожидали применение, получили %s", first.Outcome)
	}
	if first.User.DisplayedTitle != "Sup" {
		t.Fatalf("ожидали титул Sup, получили %q", first.User.DisplayedTitle)
	}

	second, err := service.ProcessNotification(context.Background(), 42, 0, evening)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.Outcome != domain.OutcomeAlreadyProcessed {
		t.Fatalf("повтор за день должен быть no-op, получили %s", second.Outcome)
	}
	if len(repo.history) != 1 {
		t.Fatalf("ожидали одну запись истории, получили %d", len(repo.history))
	}
	if len(repo.snapshots) != 1 {
		t.Fatalf("ожидали один снапшот, получили %d", len(repo.snapshots))
	}
}

func TestProcessNotificationCrossMidnight(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(domain.User{TGUserID: 42, BaseTitle: "Super Gay Title", Timezone: "Europe/Moscow"})
	service := newTestService(repo)

	// 20:59 UTC = 23:59 по Москве; 21:01 UTC = 00:01 следующего дня.
	lateNight := time.Date(2024, 6, 1, 20, 59, 0, 0, time.UTC)
	pastMidnight := time.Date(2024, 6, 1, 21, 1, 0, 0, time.UTC)

	first, err := service.ProcessNotification(context.Background(), 42, 1, lateNight)
	if err != nil || first.Outcome != domain.OutcomeApplied {
		t.Fatalf("первое уведомление: %v, %s", err, first.Outcome)
	}
	second, err := service.ProcessNotification(context.Background(), 42, 1, pastMidnight)
	if err != nil || second.Outcome != domain.OutcomeApplied {
		t.Fatalf("уведомление после полуночи: %v, %s", err, second.Outcome)
	}
	if len(repo.snapshots) != 2 {
		t.Fatalf("ожидали два снапшота по обе стороны полуночи, получили %d", len(repo.snapshots))
	}
}

func TestProcessNotificationLockedUserSkipped(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(domain.User{TGUserID: 42, BaseTitle: "Super Gay Title", DisplayedTitle: "Sup", LetterCount: 3, TitleLocked: true, Timezone: "UTC"})
	service := newTestService(repo)

	for day := 1; day <= 3; day++ {
		ts := time.Date(2024, 6, day, 12, 0, 0, 0, time.UTC)
		result, err := service.ProcessNotification(context.Background(), 42, 0, ts)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if result.Outcome != domain.OutcomeTitleLocked {
			t.Fatalf("ожидали пропуск из-за блокировки, получили %s", result.Outcome)
		}
	}

	user, _ := repo.GetByTGID(42)
	if user.DisplayedTitle != "Sup" {
		t.Fatalf("титул заблокированного пользователя изменился: %q", user.DisplayedTitle)
	}
	if user.LastProcessedDate != nil {
		t.Fatal("дата обработки заблокированного пользователя не должна двигаться")
	}
	if len(repo.history) != 0 || len(repo.snapshots) != 0 {
		t.Fatal("блокировка не должна оставлять историю и снапшоты")
	}
}

func TestProcessNotificationRejectsBadPercentage(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(domain.User{TGUserID: 42, BaseTitle: "Abc", Timezone: "UTC"})
	service := newTestService(repo)

	for _, p := range []int{-1, 101} {
		if _, err := service.ProcessNotification(context.Background(), 42, p, time.Now()); !errors.Is(err, domain.ErrInvalidPercentage) {
			t.Fatalf("процент %d должен отклоняться, получили %v", p, err)
		}
	}
}

func TestProcessNotificationUnknownUser(t *testing.T) {
	service := newTestService(newStubRepo())
	if _, err := service.ProcessNotification(context.Background(), 7, 50, time.Now()); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("ожидали ErrUserNotFound, получили %v", err)
	}
}

func TestAdminOverrideBypassesLock(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(domain.User{TGUserID: 42, BaseTitle: "Super Gay Title", DisplayedTitle: "Sup", LetterCount: 3, TitleLocked: true, Timezone: "UTC"})
	service := newTestService(repo)

	if err := service.SetDisplayedTitleDirect(context.Background(), 42, "Super"); err != nil {
		t.Fatalf("ручное изменение должно игнорировать блокировку: %v", err)
	}
	user, _ := repo.GetByTGID(42)
	if user.DisplayedTitle != "Super" || user.LetterCount != 5 {
		t.Fatalf("титул не применился: %q (%d)", user.DisplayedTitle, user.LetterCount)
	}
	if user.LastProcessedDate != nil {
		t.Fatal("ручное изменение не должно двигать дату обработки")
	}
	if len(repo.history) != 1 || repo.history[0].Kind != domain.ChangeManualAdmin {
		t.Fatalf("ожидали запись истории manual_admin, получили %+v", repo.history)
	}
}

func TestRegisterUserUsesDefaultTitle(t *testing.T) {
	repo := newStubRepo()
	repo.settings[domain.SettingDefaultTitle] = "Super Gay Title"
	service := newTestService(repo)

	user, created, err := service.RegisterUser(context.Background(), domain.TelegramProfile{TGUserID: 42, Username: "alice"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !created {
		t.Fatal("ожидали создание пользователя")
	}
	if user.BaseTitle != "Super Gay Title" {
		t.Fatalf("базовый титул не взят из настроек: %q", user.BaseTitle)
	}
	if user.DisplayedTitle != "" || user.LetterCount != 0 {
		t.Fatalf("новый пользователь должен стартовать с пустым титулом, получили %q (%d букв)", user.DisplayedTitle, user.LetterCount)
	}
	if len(repo.history) != 1 || repo.history[0].Kind != domain.ChangeCreated {
		t.Fatalf("ожидали запись истории created, получили %+v", repo.history)
	}

	_, createdAgain, err := service.RegisterUser(context.Background(), domain.TelegramProfile{TGUserID: 42, Username: "alice"})
	if err != nil || createdAgain {
		t.Fatalf("повторная регистрация должна быть no-op: %v, %v", err, createdAgain)
	}
}

func TestSetBaseTitleValidation(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(domain.User{TGUserID: 42, Timezone: "UTC"})
	service := newTestService(repo)

	long := make([]byte, maxTitleLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := service.SetBaseTitle(context.Background(), 42, string(long)); !errors.Is(err, ErrTitleTooLong) {
		t.Fatalf("ожидали ErrTitleTooLong, получили %v", err)
	}
	if err := service.SetBaseTitle(context.Background(), 42, "bad\x00title"); !errors.Is(err, ErrTitleInvalid) {
		t.Fatalf("ожидали ErrTitleInvalid, получили %v", err)
	}
	if err := service.SetBaseTitle(context.Background(), 42, "Super Gay Title"); err != nil {
		t.Fatalf("корректный титул отклонён: %v", err)
	}
}

func TestSetAveragingPeriod(t *testing.T) {
	repo := newStubRepo()
	service := newTestService(repo)

	if err := service.SetAveragingPeriod(context.Background(), -1); !errors.Is(err, ErrNegativePeriod) {
		t.Fatalf("ожидали ErrNegativePeriod, получили %v", err)
	}
	if err := service.SetAveragingPeriod(context.Background(), 30); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if repo.settings[domain.SettingGlobalAveragePeriod] != "30" {
		t.Fatalf("период не сохранён: %q", repo.settings[domain.SettingGlobalAveragePeriod])
	}
}
