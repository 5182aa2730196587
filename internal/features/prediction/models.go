// Package prediction реализует рынки прогнозов с тотализатором:
// ставки на варианты, закрытие, расчёт выплат из общего пула и отмену с возвратом.
package prediction

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus — состояние рынка.
//
//	draft --open--> open --close--> closed --settle--> settled
//	draft|open|closed --cancel--> canceled
type MarketStatus string

const (
	StatusDraft    MarketStatus = "draft"
	StatusOpen     MarketStatus = "open"
	StatusClosed   MarketStatus = "closed"
	StatusSettled  MarketStatus = "settled"
	StatusCanceled MarketStatus = "canceled"
)

func (s MarketStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusClosed, StatusSettled, StatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal — из этого состояния переходов нет.
func (s MarketStatus) Terminal() bool {
	switch s {
	case StatusSettled, StatusCanceled:
		return true
	default:
		return false
	}
}

// BetStatus — состояние ставки.
type BetStatus string

const (
	BetPlaced   BetStatus = "placed"
	BetWon      BetStatus = "won"
	BetLost     BetStatus = "lost"
	BetRefunded BetStatus = "refunded"
)

func (s BetStatus) Valid() bool {
	switch s {
	case BetPlaced, BetWon, BetLost, BetRefunded:
		return true
	default:
		return false
	}
}

// Market — рынок прогнозов.
type Market struct {
	ID          int64           `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Status      MarketStatus    `db:"status" json:"status"`
	FeeRate     decimal.Decimal `db:"fee_rate" json:"fee_rate"`
	MinBet      int64           `db:"min_bet" json:"min_bet"`
	MaxBet      *int64          `db:"max_bet" json:"max_bet,omitempty"`
	TotalPool   int64           `db:"total_pool" json:"total_pool"`
	OpensAt     *time.Time      `db:"opens_at" json:"opens_at,omitempty"`
	ClosesAt    *time.Time      `db:"closes_at" json:"closes_at,omitempty"`
	SettledAt   *time.Time      `db:"settled_at" json:"settled_at,omitempty"`
	CreatedBy   *int64          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`

	Options []*Option `db:"-" json:"options"`
}

// AcceptsBets — рынок открыт и срок приёма ставок не истёк.
func (m *Market) AcceptsBets(now time.Time) bool {
	if m.Status != StatusOpen {
		return false
	}
	return m.ClosesAt == nil || !now.After(*m.ClosesAt)
}

// Option — вариант исхода.
type Option struct {
	ID         int64               `db:"id" json:"id"`
	MarketID   int64               `db:"market_id" json:"market_id"`
	Label      string              `db:"label" json:"label"`
	SortOrder  int                 `db:"sort_order" json:"sort_order"`
	TotalStake int64               `db:"total_stake" json:"total_stake"`
	Odds       decimal.NullDecimal `db:"odds" json:"odds"`
	IsWinner   *bool               `db:"is_winner" json:"is_winner"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
}

// Bet — ставка пользователя.
type Bet struct {
	ID        int64      `db:"id" json:"id"`
	MarketID  int64      `db:"market_id" json:"market_id"`
	OptionID  int64      `db:"option_id" json:"option_id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	Stake     int64      `db:"stake" json:"stake"`
	Payout    *int64     `db:"payout" json:"payout,omitempty"`
	Status    BetStatus  `db:"status" json:"status"`
	RequestID string     `db:"request_id" json:"request_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	SettledAt *time.Time `db:"settled_at" json:"settled_at,omitempty"`

	Duplicate bool `db:"-" json:"is_duplicate"`
}

// UserBet — ставка с названием рынка и варианта.
type UserBet struct {
	Bet
	MarketTitle  string       `json:"market_title"`
	MarketStatus MarketStatus `json:"market_status"`
	OptionLabel  string       `json:"option_label"`
}

// MarketInput — данные для создания рынка.
type MarketInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	FeeRate     *decimal.Decimal `json:"fee_rate"`
	MinBet      *int64           `json:"min_bet"`
	MaxBet      *int64           `json:"max_bet"`
	OpensAt     *time.Time       `json:"opens_at"`
	ClosesAt    *time.Time       `json:"closes_at"`
	Options     []string         `json:"options"`
	CreatedBy   *int64           `json:"created_by"`
}

// BetRequest — ставка от пользователя.
type BetRequest struct {
	MarketID  int64  `json:"market_id"`
	OptionID  int64  `json:"option_id"`
	Stake     int64  `json:"stake"`
	RequestID string `json:"request_id"`
}

// SettlementStats — итог расчёта рынка.
type SettlementStats struct {
	MarketID    int64 `json:"market_id"`
	TotalPool   int64 `json:"total_pool"`
	Fee         int64 `json:"fee"`
	PayoutPool  int64 `json:"payout_pool"`
	WinnerStake int64 `json:"winner_total_stake"`
	WinnerCount int   `json:"winner_count"`
	LoserCount  int   `json:"loser_count"`
	TotalPayout int64 `json:"total_payout"`
}

// RefundStats — итог отмены рынка.
type RefundStats struct {
	MarketID    int64 `json:"market_id"`
	RefundCount int   `json:"refund_count"`
	RefundTotal int64 `json:"refund_total"`
}

// OptionStats — вариант с долей в пуле.
type OptionStats struct {
	*Option
	Percentage decimal.Decimal `json:"percentage"`
}

// MarketStats — сводка по рынку.
type MarketStats struct {
	MarketID         int64           `json:"market_id"`
	Title            string          `json:"title"`
	Status           MarketStatus    `json:"status"`
	TotalPool        int64           `json:"total_pool"`
	ParticipantCount int             `json:"participant_count"`
	BetCount         int             `json:"bet_count"`
	FeeRate          decimal.Decimal `json:"fee_rate"`
	Options          []*OptionStats  `json:"options"`
}
