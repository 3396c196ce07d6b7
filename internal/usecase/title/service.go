package title

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"tg-title-bot/internal/domain"
	"tg-title-bot/internal/infra/metrics"
)

const maxTitleLength = 500

var (
	// ErrTitleTooLong возвращается для титулов длиннее 500 символов.
	ErrTitleTooLong = errors.New("титул слишком длинный")
	// ErrTitleInvalid возвращается для титулов с управляющими символами.
	ErrTitleInvalid = errors.New("титул содержит недопустимые символы")
	// ErrNegativePeriod возвращается для отрицательного периода усреднения.
	ErrNegativePeriod = errors.New("период не может быть отрицательным")
)

// Service — шлюз обновления титулов и административные операции над ними.
// Авторизация администратора выполняется транспортным слоем; сервис доверяет
// вызывающему.
type Service struct {
	users    domain.UserRepo
	updates  domain.TitleUpdateRepo
	history  domain.HistoryRepo
	settings domain.SettingsRepo
}

// NewService создаёт сервис титулов.
func NewService(users domain.UserRepo, updates domain.TitleUpdateRepo, history domain.HistoryRepo, settings domain.SettingsRepo) *Service {
	return &Service{users: users, updates: updates, history: history, settings: settings}
}

// ProcessNotification применяет уведомление о проценте. Гарантия
// идемпотентности: не более одной автоматической мутации на пользователя за
// локальный календарный день; повтор возвращает OutcomeAlreadyProcessed.
// Заблокированный титул пропускается целиком — без истории, снапшота и
// продвижения даты, поэтому пользователь будет переоценён в следующий день.
func (s *Service) ProcessNotification(ctx context.Context, tgUserID int64, percentage int, occurredAt time.Time) (domain.TitleUpdateResult, error) {
	if percentage < 0 || percentage > 100 {
		return domain.TitleUpdateResult{}, domain.ErrInvalidPercentage
	}

	user, err := s.users.GetByTGID(tgUserID)
	if err != nil {
		return domain.TitleUpdateResult{}, err
	}

	localDate := domain.LocalDate(occurredAt, user.Timezone)
	result, err := s.updates.ApplyAutomatic(tgUserID, percentage, localDate, func(u domain.User, activeUsers int) string {
		return ComputeNewTitle(u.BaseTitle, u.DisplayedTitle, percentage, activeUsers)
	})
	if err != nil {
		return domain.TitleUpdateResult{}, fmt.Errorf("обновление титула: %w", err)
	}
	metrics.IncTitleUpdate(string(result.Outcome))
	return result, nil
}

// RegisterUser создаёт пользователя с базовым титулом по умолчанию.
// Повторная регистрация — no-op.
func (s *Service) RegisterUser(ctx context.Context, profile domain.TelegramProfile) (domain.User, bool, error) {
	defaultTitle, err := s.settings.GetSetting(domain.SettingDefaultTitle)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("чтение титула по умолчанию: %w", err)
	}
	user, created, err := s.users.Register(profile, defaultTitle)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("регистрация: %w", err)
	}
	if created {
		if err := s.history.AppendChange(domain.TitleChange{
			UserID:   user.ID,
			NewTitle: user.DisplayedTitle,
			Kind:     domain.ChangeCreated,
		}); err != nil {
			return domain.User{}, false, fmt.Errorf("история регистрации: %w", err)
		}
	}
	return user, created, nil
}

// SetBaseTitle задаёт базовый титул пользователя. Отображаемый титул не
// пересчитывается и дата последней обработки не двигается.
func (s *Service) SetBaseTitle(ctx context.Context, tgUserID int64, text string) error {
	if err := validateTitle(text); err != nil {
		return err
	}
	user, err := s.users.GetByTGID(tgUserID)
	if err != nil {
		return err
	}
	if err := s.users.SetBaseTitle(user.ID, text); err != nil {
		return fmt.Errorf("сохранение базового титула: %w", err)
	}
	return s.history.AppendChange(domain.TitleChange{
		UserID:   user.ID,
		OldTitle: user.BaseTitle,
		NewTitle: text,
		Kind:     domain.ChangeManualAdmin,
	})
}

// SetBaseTitleForAll применяет базовый титул ко всем пользователям.
// Возвращает число обновлённых.
func (s *Service) SetBaseTitleForAll(ctx context.Context, text string) (int, error) {
	if err := validateTitle(text); err != nil {
		return 0, err
	}
	users, err := s.users.ListAll()
	if err != nil {
		return 0, fmt.Errorf("список пользователей: %w", err)
	}
	updated := 0
	for _, user := range users {
		if user.BaseTitle == text {
			continue
		}
		if err := s.users.SetBaseTitle(user.ID, text); err != nil {
			return updated, fmt.Errorf("пользователь %d: %w", user.TGUserID, err)
		}
		if err := s.history.AppendChange(domain.TitleChange{
			UserID:   user.ID,
			OldTitle: user.BaseTitle,
			NewTitle: text,
			Kind:     domain.ChangeManualAdmin,
		}); err != nil {
			return updated, fmt.Errorf("история пользователя %d: %w", user.TGUserID, err)
		}
		updated++
	}
	return updated, nil
}

// SetDisplayedTitleDirect выставляет отображаемый титул напрямую, игнорируя
// блокировку. Дата последней обработки не меняется.
func (s *Service) SetDisplayedTitleDirect(ctx context.Context, tgUserID int64, text string) error {
	if err := validateTitle(text); err != nil {
		return err
	}
	user, err := s.users.GetByTGID(tgUserID)
	if err != nil {
		return err
	}
	if err := s.users.SetDisplayedTitle(user.ID, text, domain.CountLetters(text)); err != nil {
		return fmt.Errorf("сохранение титула: %w", err)
	}
	return s.history.AppendChange(domain.TitleChange{
		UserID:   user.ID,
		OldTitle: user.DisplayedTitle,
		NewTitle: text,
		Kind:     domain.ChangeManualAdmin,
	})
}

// LockTitle запрещает автоматические обновления титула.
func (s *Service) LockTitle(ctx context.Context, tgUserID int64) error {
	return s.setLock(tgUserID, true)
}

// UnlockTitle снимает блокировку.
func (s *Service) UnlockTitle(ctx context.Context, tgUserID int64) error {
	return s.setLock(tgUserID, false)
}

func (s *Service) setLock(tgUserID int64, locked bool) error {
	user, err := s.users.GetByTGID(tgUserID)
	if err != nil {
		return err
	}
	return s.users.SetTitleLock(user.ID, locked)
}

// DeleteUser удаляет пользователя; история и снапшоты уходят каскадом.
func (s *Service) DeleteUser(ctx context.Context, tgUserID int64) error {
	user, err := s.users.GetByTGID(tgUserID)
	if err != nil {
		return err
	}
	return s.users.DeleteUser(user.ID)
}

// SetDefaultTitle сохраняет титул по умолчанию для новых регистраций.
func (s *Service) SetDefaultTitle(ctx context.Context, text string) error {
	if err := validateTitle(text); err != nil {
		return err
	}
	return s.settings.SetSetting(domain.SettingDefaultTitle, strings.TrimSpace(text), "базовый титул для новых пользователей")
}

// SetAveragingPeriod сохраняет период глобального среднего (0 — всё время).
func (s *Service) SetAveragingPeriod(ctx context.Context, days int) error {
	if days < 0 {
		return ErrNegativePeriod
	}
	return s.settings.SetSetting(domain.SettingGlobalAveragePeriod, fmt.Sprintf("%d", days), "период глобального среднего в днях")
}

func validateTitle(text string) error {
	if utf8.RuneCountInString(text) > maxTitleLength {
		return ErrTitleTooLong
	}
	for _, r := range text {
		if unicode.IsControl(r) {
			return ErrTitleInvalid
		}
	}
	return nil
}
