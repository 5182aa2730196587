// Package admin реализует вход в админку по паролю.
// models.go описывает структуры сессий и попыток входа.
package admin

import "time"

// SessionTTL — сколько живёт сессия администратора.
const SessionTTL = 24 * time.Hour

// AttemptWindow — окно, в котором считаются неудачные попытки входа.
const AttemptWindow = time.Hour

// Session — активная сессия администратора.
type Session struct {
	ID              int64     `db:"id" json:"-"`
	SessionToken    string    `db:"session_token" json:"token"`
	RemoteAddr      string    `db:"remote_addr" json:"-"`
	AuthenticatedAt time.Time `db:"authenticated_at" json:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at" json:"expires_at"`
	LastActivity    time.Time `db:"last_activity" json:"-"`
	IsActive        bool      `db:"is_active" json:"-"`
}

// Adjustment — ручное начисление или списание баллов.
type Adjustment struct {
	UserID      int64  `json:"user_id"`
	Amount      int64  `json:"amount"` // > 0 начисление, < 0 списание
	Description string `json:"description"`
	RequestID   string `json:"request_id"`
}
