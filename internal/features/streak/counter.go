// Package streak — counter.go отвечает за подсчёт серии по датам отметок.
package streak

import (
	"time"

	"serotonyl.ru/points-engine/internal/common"
)

// CountStreak считает дни подряд, заканчивая сегодняшним днём.
// Если сегодня отметки нет, серия считается от вчерашнего дня:
// пропуск ещё не наступил.
//
// Примеры (сегодня 10-е):
//
//	10, 9, 8    → 3
//	9, 8, 6     → 2
//	8, 7        → 0 (вчера пропущен)
func CountStreak(dates []time.Time, today time.Time) int {
	seen := make(map[string]bool, len(dates))
	for _, d := range dates {
		seen[common.FormatDate(d)] = true
	}

	day := dateOnly(today)
	streak := 0
	if seen[common.FormatDate(day)] {
		streak = 1
	}
	for check := day.AddDate(0, 0, -1); seen[common.FormatDate(check)]; check = check.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}

// dateOnly переносит календарную дату t в UTC без времени.
// Колонка DATE в PostgreSQL читается именно так.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
