package title

import "tg-title-bot/internal/domain"

// ComputeNewTitle применяет таблицу правил к текущему числу букв титула:
//
//	0%      → +3 буквы
//	1–5%    → +1 буква
//	6–94%   → без изменений
//	95–99%  → −1 буква
//	100%    → −activeUsers букв
//
// Результат зажимается в [0, букв в базовом титуле] и извлекается как
// структурный префикс базового титула. Пустая база всегда даёт пустой титул.
func ComputeNewTitle(baseTitle, currentTitle string, percentage, activeUsers int) string {
	baseLetters := domain.CountLetters(baseTitle)
	if baseLetters == 0 {
		return ""
	}

	current := domain.CountLetters(currentTitle)

	var delta int
	switch {
	case percentage == 0:
		delta = 3
	case percentage <= 5:
		delta = 1
	case percentage <= 94:
		return currentTitle
	case percentage <= 99:
		delta = -1
	default:
		delta = -activeUsers
	}

	target := current + delta
	if target < 0 {
		target = 0
	}
	if target > baseLetters {
		target = baseLetters
	}
	return domain.PrefixByLetterCount(baseTitle, target)
}
