package telegram

import "strings"

const messageLimit = 4096

// SplitMessage разбивает текст на сообщения в пределах лимита Telegram.
// Чанки набираются построчно, чтобы строки рейтинга не рвались посередине;
// по рунам режется только строка, которая сама длиннее лимита.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	var (
		parts []string
		chunk []rune
	)
	flush := func() {
		if s := strings.Trim(string(chunk), "\n"); s != "" {
			parts = append(parts, s)
		}
		chunk = chunk[:0]
	}

	for _, line := range strings.Split(trimmed, "\n") {
		runes := []rune(line)
		for len(runes) > messageLimit {
			flush()
			parts = append(parts, string(runes[:messageLimit]))
			runes = runes[messageLimit:]
		}
		if len(chunk)+len(runes)+1 > messageLimit {
			flush()
		}
		if len(chunk) > 0 {
			chunk = append(chunk, '\n')
		}
		chunk = append(chunk, runes...)
	}
	flush()
	return parts
}
