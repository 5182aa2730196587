// Package economy управляет баллами пользователей.
// models.go описывает баланс, записи леджера и причины операций.
package economy

import "time"

// Balance — кэш баланса пользователя.
// Строка создаётся лениво при первой операции и всегда удовлетворяет
// balance = total_earned - total_spent, balance >= 0.
type Balance struct {
	ID          int64     `db:"id" json:"-"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Balance     int64     `db:"balance" json:"balance"`
	TotalEarned int64     `db:"total_earned" json:"total_earned"`
	TotalSpent  int64     `db:"total_spent" json:"total_spent"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Entry — неизменяемая запись леджера.
type Entry struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	Amount       int64     `db:"amount" json:"amount"`               // со знаком: + начисление, - списание
	BalanceAfter int64     `db:"balance_after" json:"balance_after"` // баланс сразу после записи
	Reason       Reason    `db:"reason" json:"reason"`
	RefType      *string   `db:"ref_type" json:"ref_type,omitempty"`
	RefID        *int64    `db:"ref_id" json:"ref_id,omitempty"`
	RequestID    string    `db:"request_id" json:"request_id"`
	Description  string    `db:"description" json:"description"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`

	// Duplicate — запись уже существовала, эффект повторно не применялся
	Duplicate bool `db:"-" json:"is_duplicate"`
}

// Mutation — запрос на изменение баланса.
type Mutation struct {
	UserID int64
	Amount int64 // всегда положительное, знак задаёт операция
	Reason Reason
	// RefType/RefID — ссылка на доменный объект (draw, bet, task, ...)
	RefType string
	RefID   int64
	// RequestID — ключ идемпотентности. Пустой — будет сгенерирован.
	RequestID   string
	Description string
}

// Stats — сводка по счёту пользователя.
type Stats struct {
	Balance
	Entries     int   `json:"entries"`
	EarnedToday int64 `json:"earned_today"`
	SpentToday  int64 `json:"spent_today"`
}

// ReasonTotal — агрегат по одной причине за период.
type ReasonTotal struct {
	Reason Reason `json:"reason"`
	Count  int    `json:"count"`
	Sum    int64  `json:"sum"`
}

// DailyReport — итоги экономики за сутки.
type DailyReport struct {
	Day         time.Time      `json:"day"`
	Entries     int            `json:"entries"`
	Credited    int64          `json:"credited"`
	Debited     int64          `json:"debited"`
	ActiveUsers int            `json:"active_users"`
	ByReason    []*ReasonTotal `json:"by_reason"`
}
