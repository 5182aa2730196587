// Package members ведёт реестр пользователей движка: регистрацию и блокировки.
// models.go описывает структуры данных для работы с таблицей members.
package members

import "time"

// MaxDisplayNameLen — предел длины отображаемого имени, в символах.
const MaxDisplayNameLen = 64

// Member — зарегистрированный пользователь.
// Пользователь без записи в members тоже может играть: реестр нужен
// для бонуса за регистрацию и блокировок.
type Member struct {
	UserID      int64     `db:"user_id" json:"user_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	IsBanned    bool      `db:"is_banned" json:"is_banned"`
	BanReason   *string   `db:"ban_reason" json:"ban_reason,omitempty"` // заполнена только у заблокированных
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Registration — итог регистрации.
type Registration struct {
	*Member
	Created bool  `json:"created"`
	Bonus   int64 `json:"bonus"`
}
