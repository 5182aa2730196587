// Package streak управляет ежедневными отметками и сериями (стриками).
// models.go описывает структуру данных отметки.
package streak

import "time"

// WindowDays — на сколько дней назад смотрим при подсчёте серии.
const WindowDays = 30

// Signin — отметка пользователя за один день.
// Серия растёт, пока пользователь отмечается каждый день подряд.
type Signin struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	SigninDate    time.Time `db:"signin_date" json:"signin_date"`
	PointsAwarded int64     `db:"points_awarded" json:"points_awarded"` // Базовые баллы
	BonusPoints   int64     `db:"bonus_points" json:"bonus_points"`     // Бонус за рубеж серии
	StreakDay     int       `db:"streak_day" json:"streak_day"`         // День серии с учётом сегодняшнего
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Milestone — бонус за достижение дня серии.
type Milestone struct {
	Day         int    `db:"day" json:"day"`
	BonusPoints int64  `db:"bonus_points" json:"bonus_points"`
	Description string `db:"description" json:"description"`
	IsActive    bool   `db:"is_active" json:"is_active"`
}

// Result — итог отметки.
type Result struct {
	SigninDate  string `json:"signin_date"`
	StreakDay   int    `json:"streak_day"`
	BasePoints  int64  `json:"base_points"`
	BonusPoints int64  `json:"bonus_points"`
	TotalPoints int64  `json:"total_points"`
	Balance     int64  `json:"balance"`
	IsMilestone bool   `json:"is_milestone"`
}

// Status — состояние отметок пользователя.
type Status struct {
	SignedToday bool `json:"signed_today"`
	// Streak — текущая серия. Если сегодня отметки ещё нет, считается по вчера.
	Streak int `json:"streak_days"`
	// StreakDisplay — какой день серии будет после сегодняшней отметки.
	StreakDisplay   int        `json:"streak_display"`
	MonthlySignins  []string   `json:"monthly_signins"`
	NextMilestone   *Milestone `json:"next_milestone,omitempty"`
	DaysToMilestone int        `json:"days_to_milestone"`
}
