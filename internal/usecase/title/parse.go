package title

import (
	"errors"
	"regexp"
	"strconv"

	"tg-title-bot/internal/domain"
)

// ErrNotNotification возвращается, если текст не похож на уведомление с процентом.
var ErrNotNotification = errors.New("сообщение не содержит процент")

// sourceBotUsername — бот, чьи уведомления обрабатывает шлюз.
const sourceBotUsername = "HowGayBot"

var percentagePattern = regexp.MustCompile(`(?i)I am (\d+)% gay!`)

// ShouldProcessFrom проверяет, что сообщение переслано от исходного бота.
func ShouldProcessFrom(viaBotUsername string) bool {
	return viaBotUsername == sourceBotUsername
}

// ExtractPercentage достаёт процент из текста уведомления. Значения вне
// диапазона 0–100 отклоняются до передачи в ядро.
func ExtractPercentage(text string) (int, error) {
	matches := percentagePattern.FindStringSubmatch(text)
	if len(matches) < 2 {
		return 0, ErrNotNotification
	}
	value, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, ErrNotNotification
	}
	if value < 0 || value > 100 {
		return 0, domain.ErrInvalidPercentage
	}
	return value, nil
}
