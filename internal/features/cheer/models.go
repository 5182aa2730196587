// Package cheer реализует поддержку участников.
// models.go описывает виды поддержки, записи и итоги по получателю.
package cheer

import "time"

// MaxMessageLen — предел длины сообщения к поддержке, в символах.
const MaxMessageLen = 200

// Type — вид поддержки. Совпадает с типом предмета в инвентаре.
type Type string

const (
	TypeCheer  Type = "cheer"
	TypeCoffee Type = "coffee"
	TypeEnergy Type = "energy"
	TypePizza  Type = "pizza"
	TypeStar   Type = "star"
)

// Points — сколько очков популярности получает адресат.
func (t Type) Points() int {
	switch t {
	case TypeCheer:
		return 1
	case TypeCoffee:
		return 2
	case TypeEnergy:
		return 3
	case TypePizza:
		return 4
	case TypeStar:
		return 5
	default:
		return 0
	}
}

func (t Type) Valid() bool {
	return t.Points() > 0
}

// Cheer — запись о поддержке.
type Cheer struct {
	ID         int64     `db:"id" json:"id"`
	FromUserID int64     `db:"from_user_id" json:"from_user_id"`
	ToUserID   int64     `db:"to_user_id" json:"to_user_id"`
	CheerType  Type      `db:"cheer_type" json:"cheer_type"`
	Points     int       `db:"points" json:"points"`
	Message    *string   `db:"message" json:"message,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Request — поддержка от пользователя.
type Request struct {
	ToUserID  int64  `json:"to_user_id"`
	CheerType Type   `json:"cheer_type"`
	Message   string `json:"message"`
}

// Stats — итоги получателя.
type Stats struct {
	UserID         int64        `db:"user_id" json:"user_id"`
	TotalPoints    int64        `db:"total_points" json:"total_points"`
	CheersReceived int          `db:"cheers_received" json:"cheers_received"`
	ByType         map[Type]int `db:"-" json:"by_type"`
}

// Result — итог поддержки.
type Result struct {
	*Cheer
	RecipientPoints int64 `json:"recipient_points"`
}
