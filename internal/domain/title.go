package domain

import "strings"

func isTitleLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// CountLetters возвращает число алфавитно-цифровых символов в строке.
// Пробелы и пунктуация не учитываются, но из строки не удаляются.
func CountLetters(s string) int {
	count := 0
	for _, r := range s {
		if isTitleLetter(r) {
			count++
		}
	}
	return count
}

// PrefixByLetterCount возвращает кратчайший префикс base, содержащий target
// алфавитно-цифровых символов. Разделители внутри префикса сохраняются, а
// хвост из неалфавитных символов сразу после граничной буквы включается в
// результат, чтобы не резать строку посреди разделителя. target за пределами
// [0, CountLetters(base)] зажимается; при target == 0 результат пустой
// независимо от ведущей пунктуации.
func PrefixByLetterCount(base string, target int) string {
	total := CountLetters(base)
	if target > total {
		target = total
	}
	if target <= 0 || base == "" {
		return ""
	}

	var b strings.Builder
	taken := 0
	for _, r := range base {
		if isTitleLetter(r) {
			if taken == target {
				break
			}
			taken++
		}
		b.WriteRune(r)
	}
	return b.String()
}
