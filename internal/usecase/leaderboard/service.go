package leaderboard

import (
	"context"
	"fmt"

	"tg-title-bot/internal/domain"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Service отдаёт рейтинг пользователей по числу букв в титуле.
type Service struct {
	repo domain.LeaderboardRepo
}

// NewService создаёт сервис лидерборда.
func NewService(repo domain.LeaderboardRepo) *Service {
	return &Service{repo: repo}
}

// Top возвращает страницу рейтинга. Ранг — позиция в полном отсортированном
// списке, поэтому страница offset=10,limit=10 несёт ранги 11–20. Порядок
// стабилен между записями: равные letter_count упорядочены по id.
func (s *Service) Top(ctx context.Context, order domain.SortOrder, limit, offset int) ([]domain.LeaderboardEntry, error) {
	if order != domain.OrderDesc {
		order = domain.OrderAsc
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.repo.ListByLetterCount(order, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("выборка рейтинга: %w", err)
	}
	entries := make([]domain.LeaderboardEntry, 0, len(users))
	for i, user := range users {
		entries = append(entries, domain.LeaderboardEntry{Rank: offset + i + 1, User: user})
	}
	return entries, nil
}

// Position возвращает ранг пользователя в полном списке (от единицы).
func (s *Service) Position(ctx context.Context, user domain.User, order domain.SortOrder) (int, error) {
	if order != domain.OrderDesc {
		order = domain.OrderAsc
	}
	before, err := s.repo.CountRankedBefore(user, order)
	if err != nil {
		return 0, fmt.Errorf("подсчёт позиции: %w", err)
	}
	return before + 1, nil
}
