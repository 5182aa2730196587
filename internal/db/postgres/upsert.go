// Package postgres — upsert.go описывает вставку с явной политикой конфликта.
// Политика выбирается под конкретную таблицу: журнал дедупликации и заявки на
// награду игнорируют повтор, счётчики прогресса и остатки сливают значения.
package postgres

import (
	"fmt"
	"strings"
)

// ConflictPolicy — что делать, если вставка упёрлась в уникальный ключ.
type ConflictPolicy int

const (
	// ConflictIgnore — ничего не делать (ON CONFLICT DO NOTHING).
	// RETURNING при этом не вернёт строк, так вызывающий узнаёт о повторе.
	ConflictIgnore ConflictPolicy = iota
	// ConflictMerge — обновить существующую строку выражением Merge.
	ConflictMerge
)

// Upsert — описание INSERT ... ON CONFLICT для одной таблицы.
type Upsert struct {
	Table    string
	Columns  []string
	Conflict []string // целевой ключ; пусто — любой уникальный ключ (только для ConflictIgnore)
	Policy   ConflictPolicy
	// Merge — тело SET для ConflictMerge, может ссылаться на EXCLUDED и саму таблицу
	Merge     string
	Returning []string
}

// SQL собирает текст запроса с плейсхолдерами $1..$N по порядку Columns.
func (u Upsert) SQL() string {
	placeholders := make([]string, len(u.Columns))
	for i := range u.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s)",
		u.Table, strings.Join(u.Columns, ", "), strings.Join(placeholders, ", "))

	target := ""
	if len(u.Conflict) > 0 {
		target = " (" + strings.Join(u.Conflict, ", ") + ")"
	}

	switch u.Policy {
	case ConflictIgnore:
		sb.WriteString(" ON CONFLICT" + target + " DO NOTHING")
	case ConflictMerge:
		sb.WriteString(" ON CONFLICT" + target + " DO UPDATE SET " + u.Merge)
	default:
		panic(fmt.Sprintf("postgres: неизвестная политика конфликта %d", u.Policy))
	}

	if len(u.Returning) > 0 {
		sb.WriteString(" RETURNING " + strings.Join(u.Returning, ", "))
	}
	return sb.String()
}
