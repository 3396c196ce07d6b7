package domain

import "time"

// LocalDate переводит момент времени в календарную дату в указанном поясе.
// Дата нормализуется к полуночи UTC, чтобы сравнения и ключи снапшотов не
// зависели от часового пояса хранилища. Пустой или неизвестный пояс
// трактуется как UTC.
func LocalDate(ts time.Time, tz string) time.Time {
	loc := time.UTC
	if tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}
	local := ts.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate сравнивает календарные даты без учёта времени суток.
func SameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
