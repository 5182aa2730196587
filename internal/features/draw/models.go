// Package draw проводит розыгрыши призов: лотерею, гачу и скретч-карты.
// Все режимы используют один взвешенный выбор и одну схему списания.
package draw

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// weightScale — NUMERIC(12,4) переводится в целые единицы без потерь.
const weightScale = 4

// Mode — режим розыгрыша.
type Mode string

const (
	ModeLottery Mode = "lottery"
	ModeGacha   Mode = "gacha"
	ModeScratch Mode = "scratch"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeLottery, ModeGacha, ModeScratch:
		return true
	default:
		return false
	}
}

// SpendReason — причина списания стоимости попытки.
func (m Mode) SpendReason() economy.Reason {
	switch m {
	case ModeGacha:
		return economy.ReasonGachaSpend
	default:
		return economy.ReasonLotterySpend
	}
}

// WinReason — причина начисления выигрыша.
func (m Mode) WinReason() economy.Reason {
	switch m {
	case ModeGacha:
		return economy.ReasonGachaWin
	default:
		return economy.ReasonLotteryWin
	}
}

func (m Mode) TicketType() inventory.TicketType {
	switch m {
	case ModeGacha:
		return inventory.TicketGacha
	case ModeScratch:
		return inventory.TicketScratch
	default:
		return inventory.TicketLottery
	}
}

func (m Mode) TaskType() tasks.TaskType {
	switch m {
	case ModeGacha:
		return tasks.TypeGacha
	case ModeScratch:
		return tasks.TypeScratch
	default:
		return tasks.TypeLottery
	}
}

// PrizeKind — что получает победитель.
type PrizeKind string

const (
	KindPoints PrizeKind = "points"
	KindItem   PrizeKind = "item"
	KindBadge  PrizeKind = "badge"
	KindAPIKey PrizeKind = "api_key"
	KindEmpty  PrizeKind = "empty"
)

func (k PrizeKind) Valid() bool {
	switch k {
	case KindPoints, KindItem, KindBadge, KindAPIKey, KindEmpty:
		return true
	default:
		return false
	}
}

// Статусы записи розыгрыша.
const (
	StatusCompleted = "completed"
	StatusPurchased = "purchased" // скретч-карта куплена, приз выбран
	StatusRevealed  = "revealed"
)

// Pool — настройки одного розыгрыша.
type Pool struct {
	ID         int64      `db:"id" json:"id"`
	PoolKey    string     `db:"pool_key" json:"pool_key"`
	Mode       Mode       `db:"mode" json:"mode"`
	Name       string     `db:"name" json:"name"`
	Cost       int64      `db:"cost" json:"cost"`
	DailyLimit int        `db:"daily_limit" json:"daily_limit"` // 0 — без лимита
	IsActive   bool       `db:"is_active" json:"is_active"`
	StartsAt   *time.Time `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt     *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// OpenAt — розыгрыш включён и t внутри окна проведения.
func (p *Pool) OpenAt(t time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.StartsAt != nil && t.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && t.After(*p.EndsAt) {
		return false
	}
	return true
}

// Prize — приз в таблице пула.
type Prize struct {
	ID         int64           `db:"id" json:"id"`
	PoolID     int64           `db:"pool_id" json:"pool_id"`
	Name       string          `db:"name" json:"name"`
	Kind       PrizeKind       `db:"kind" json:"kind"`
	Weight     decimal.Decimal `db:"weight" json:"weight"`
	Stock      *int            `db:"stock" json:"stock"` // nil — без ограничения
	IsRare     bool            `db:"is_rare" json:"is_rare"`
	Points     int64           `db:"points" json:"points"`
	ItemType   *string         `db:"item_type" json:"item_type,omitempty"`
	ItemAmount int             `db:"item_amount" json:"item_amount"`
	BadgeKey   *string         `db:"badge_key" json:"badge_key,omitempty"`
	BadgeTier  *string         `db:"badge_tier" json:"badge_tier,omitempty"`
	Enabled    bool            `db:"enabled" json:"enabled"`
	SortOrder  int             `db:"sort_order" json:"sort_order"`
}

func (p *Prize) DrawWeight() int64 {
	return p.Weight.Shift(weightScale).IntPart()
}

func (p *Prize) Available() bool {
	return p.Enabled && (p.Stock == nil || *p.Stock > 0)
}

// SubstitutePoints — сколько баллов дать вместо повторного значка.
// Баллы приза, если заданы, иначе стоимость уровня.
func (p *Prize) SubstitutePoints() int64 {
	if p.Points > 0 {
		return p.Points
	}
	if p.BadgeTier == nil {
		return 0
	}
	return inventory.BadgeTier(*p.BadgeTier).Value()
}

// Draw — запись о розыгрыше.
type Draw struct {
	ID               int64      `db:"id" json:"id"`
	PoolID           int64      `db:"pool_id" json:"pool_id"`
	UserID           int64      `db:"user_id" json:"user_id"`
	Mode             Mode       `db:"mode" json:"mode"`
	PrizeID          *int64     `db:"prize_id" json:"prize_id,omitempty"`
	PrizeKind        PrizeKind  `db:"prize_kind" json:"prize_kind"`
	PrizeName        string     `db:"prize_name" json:"prize_name"`
	Cost             int64      `db:"cost" json:"cost"`
	PointsAwarded    int64      `db:"points_awarded" json:"points_awarded"`
	IsRare           bool       `db:"is_rare" json:"is_rare"`
	UsedTicket       bool       `db:"used_ticket" json:"used_ticket"`
	BadgeSubstituted bool       `db:"badge_substituted" json:"badge_substituted"`
	APIKeyCodeID     *int64     `db:"api_key_code_id" json:"-"`
	Status           string     `db:"status" json:"status"`
	RequestID        string     `db:"request_id" json:"request_id"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	RevealedAt       *time.Time `db:"revealed_at" json:"revealed_at,omitempty"`

	// APIKey — выданный код, только в ответе на розыгрыш
	APIKey    *string `db:"-" json:"api_key,omitempty"`
	Duplicate bool    `db:"-" json:"is_duplicate"`
}

// PlayRequest — параметры попытки.
type PlayRequest struct {
	RequestID string `json:"request_id"`
	UseTicket bool   `json:"use_ticket"`
}

// PoolStats — сводка по пулу для админки.
type PoolStats struct {
	PoolKey       string `json:"pool_key"`
	Draws         int    `json:"draws"`
	Players       int    `json:"players"`
	TicketDraws   int    `json:"ticket_draws"`
	TotalCost     int64  `json:"total_cost"`
	PointsAwarded int64  `json:"points_awarded"`
	RareDraws     int    `json:"rare_draws"`
}

// PoolInput и PrizeInput — данные из админки.
type PoolInput struct {
	PoolKey    string     `json:"pool_key"`
	Mode       Mode       `json:"mode"`
	Name       string     `json:"name"`
	Cost       int64      `json:"cost"`
	DailyLimit int        `json:"daily_limit"`
	StartsAt   *time.Time `json:"starts_at"`
	EndsAt     *time.Time `json:"ends_at"`
}

type PrizeInput struct {
	Name       string          `json:"name"`
	Kind       PrizeKind       `json:"kind"`
	Weight     decimal.Decimal `json:"weight"`
	Stock      *int            `json:"stock"`
	IsRare     bool            `json:"is_rare"`
	Points     int64           `json:"points"`
	ItemType   *string         `json:"item_type"`
	ItemAmount int             `json:"item_amount"`
	BadgeKey   *string         `json:"badge_key"`
	BadgeTier  *string         `json:"badge_tier"`
	SortOrder  int             `json:"sort_order"`
}
