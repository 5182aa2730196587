// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: работа с часовым поясом, границы суток, обрезка ключей идемпотентности.
package common

import (
	"time"
	"unicode/utf8"
)

// RequestIDMaxLen — максимальная длина request_id в леджере и журналах.
const RequestIDMaxLen = 64

// LoadLocation загружает часовой пояс приложения.
// Если tzdata в образе нет — используем UTC+3 вручную, как и раньше.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// DayStart возвращает полночь того же дня в часовом поясе t.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FormatDate форматирует дату как 2006-01-02.
// Этот формат входит в детерминированные request_id, менять нельзя.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// TruncateRequestID обрезает ключ до RequestIDMaxLen байт, не разрывая руну.
func TruncateRequestID(id string) string {
	if len(id) <= RequestIDMaxLen {
		return id
	}
	cut := RequestIDMaxLen
	for cut > 0 && !utf8.RuneStart(id[cut]) {
		cut--
	}
	return id[:cut]
}
