// Package inventory хранит то, что пользователь получил помимо баллов:
// предметы, значки, билеты и API-ключи.
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// BadgeTier — уровень значка.
type BadgeTier string

const (
	TierBronze  BadgeTier = "bronze"
	TierSilver  BadgeTier = "silver"
	TierGold    BadgeTier = "gold"
	TierDiamond BadgeTier = "diamond"
	TierStar    BadgeTier = "star"
	TierKing    BadgeTier = "king"
)

// Value — стоимость значка в баллах.
// По ней значок обменивается на баллы и ею же заменяется повторный значок.
func (t BadgeTier) Value() int64 {
	switch t {
	case TierBronze:
		return 50
	case TierSilver:
		return 100
	case TierGold:
		return 200
	case TierDiamond:
		return 500
	case TierStar:
		return 1000
	case TierKing:
		return 2000
	default:
		return 0
	}
}

// TicketType — вид билета. Совпадает с режимом розыгрыша.
type TicketType string

const (
	TicketLottery TicketType = "lottery"
	TicketScratch TicketType = "scratch"
	TicketGacha   TicketType = "gacha"
	TicketSlot    TicketType = "slot"
)

// Valid сообщает, известен ли вид билета.
func (t TicketType) Valid() bool {
	switch t {
	case TicketLottery, TicketScratch, TicketGacha, TicketSlot:
		return true
	default:
		return false
	}
}

type Item struct {
	ItemType  string    `db:"item_type" json:"item_type"`
	Quantity  int       `db:"quantity" json:"quantity"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Ticket struct {
	TicketType TicketType `db:"ticket_type" json:"ticket_type"`
	Quantity   int        `db:"quantity" json:"quantity"`
}

// Badge — значок пользователя. ExchangedAt != nil — значок обменян на баллы.
type Badge struct {
	ID          int64      `db:"id" json:"id"`
	UserID      int64      `db:"user_id" json:"user_id"`
	BadgeKey    string     `db:"badge_key" json:"badge_key"`
	Tier        BadgeTier  `db:"tier" json:"tier"`
	Source      string     `db:"source" json:"source"`
	ExchangedAt *time.Time `db:"exchanged_at" json:"exchanged_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// APIKeyCode — код из пула, выдаваемый как приз.
type APIKeyCode struct {
	ID             int64            `db:"id" json:"id"`
	Code           string           `db:"code" json:"code"`
	Quota          *decimal.Decimal `db:"quota" json:"quota,omitempty"`
	Status         string           `db:"status" json:"status"`
	Description    string           `db:"description" json:"description"`
	AssignedUserID *int64           `db:"assigned_user_id" json:"-"`
	AssignedAt     *time.Time       `db:"assigned_at" json:"assigned_at,omitempty"`
}

// Статусы кода
const (
	KeyStatusAvailable = "available"
	KeyStatusAssigned  = "assigned"
)

// Inventory — всё имущество пользователя.
type Inventory struct {
	Items   []*Item       `json:"items"`
	Tickets []*Ticket     `json:"tickets"`
	Badges  []*Badge      `json:"badges"`
	APIKeys []*APIKeyCode `json:"api_keys"`
}
