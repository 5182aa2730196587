// Package casino реализует слот-машину: три барабана с взвешенными символами,
// выплаты за три и две одинаковых, журнал спинов и статистику RTP.
// models.go описывает все структуры данных казино.
package casino

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config — настройки слот-машины. Активна последняя включённая.
type Config struct {
	ID                int64           `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	IsActive          bool            `db:"is_active" json:"is_active"`
	Cost              int64           `db:"cost" json:"cost"`
	Reels             int             `db:"reels" json:"reels"`
	TwoKindMultiplier decimal.Decimal `db:"two_kind_multiplier" json:"two_kind_multiplier"`
	JackpotSymbolKey  string          `db:"jackpot_symbol_key" json:"jackpot_symbol_key"`
	DailyLimit        int             `db:"daily_limit" json:"daily_limit"` // 0 — без лимита
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Symbol — символ барабана.
type Symbol struct {
	ID         int64  `db:"id" json:"id"`
	ConfigID   int64  `db:"config_id" json:"-"`
	SymbolKey  string `db:"symbol_key" json:"symbol_key"`
	Emoji      string `db:"emoji" json:"emoji"`  // 🍒, 💎, 7️⃣ и т.д.
	Name       string `db:"name" json:"name"`
	Multiplier int    `db:"multiplier" json:"multiplier"` // множитель за три одинаковых
	Weight     int    `db:"weight" json:"weight"`         // чем больше вес, тем чаще выпадает
	SortOrder  int    `db:"sort_order" json:"sort_order"`
	IsEnabled  bool   `db:"is_enabled" json:"is_enabled"`
	IsJackpot  bool   `db:"is_jackpot" json:"is_jackpot"`
}

func (s *Symbol) DrawWeight() int64 { return int64(s.Weight) }

func (s *Symbol) Available() bool { return s.IsEnabled && s.Weight > 0 }

// WinType — вид выигрыша спина.
type WinType string

const (
	WinNone  WinType = "none"
	WinTwo   WinType = "two"
	WinThree WinType = "three"
)

// Spin — запись одного спина в БД.
type Spin struct {
	ID         int64           `db:"id" json:"id"`
	UserID     int64           `db:"user_id" json:"user_id"`
	ConfigID   int64           `db:"config_id" json:"config_id"`
	Cost       int64           `db:"cost" json:"cost"`
	Reels      []string        `db:"reels" json:"reels"`
	WinType    WinType         `db:"win_type" json:"win_type"`
	Multiplier decimal.Decimal `db:"multiplier" json:"multiplier"`
	Payout     int64           `db:"payout" json:"payout"`
	IsJackpot  bool            `db:"is_jackpot" json:"is_jackpot"`
	UsedTicket bool            `db:"used_ticket" json:"used_ticket"`
	RequestID  string          `db:"request_id" json:"request_id"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`

	Duplicate bool `db:"-" json:"is_duplicate"`
}

// SpinRequest — параметры спина.
type SpinRequest struct {
	RequestID string `json:"request_id"`
	UseTicket bool   `json:"use_ticket"`
}

// SpinResult — ответ на спин.
type SpinResult struct {
	*Spin
	Balance int64 `json:"balance"`
}

// Stats — статистика казино пользователя.
type Stats struct {
	UserID       int64           `db:"user_id" json:"user_id"`
	TotalSpins   int             `db:"total_spins" json:"total_spins"`
	TotalWagered int64           `db:"total_wagered" json:"total_wagered"`
	TotalWon     int64           `db:"total_won" json:"total_won"`
	BiggestWin   int64           `db:"biggest_win" json:"biggest_win"`
	CurrentRTP   decimal.Decimal `db:"current_rtp" json:"current_rtp"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// PublicView — витрина слот-машины для пользователя.
type PublicView struct {
	Active         bool      `json:"active"`
	Config         *Config   `json:"config,omitempty"`
	Symbols        []*Symbol `json:"symbols"`
	TodayCount     int       `json:"today_count"`
	RemainingToday *int      `json:"remaining_today"` // nil — без лимита
	Balance        int64     `json:"balance"`
	CanPlay        bool      `json:"can_play"`
}

// Metrics — показатели таблицы символов.
type Metrics struct {
	TotalWeight    int64           `json:"total_weight"`
	SymbolsCount   int             `json:"symbols_count"`
	EnabledCount   int             `json:"enabled_count"`
	TheoreticalRTP decimal.Decimal `json:"theoretical_rtp"` // в процентах
}

// AdminView — конфигурация с метриками для админки.
type AdminView struct {
	Config  *Config   `json:"config"`
	Symbols []*Symbol `json:"symbols"`
	Metrics Metrics   `json:"metrics"`
}

// DrawStats — итоги спинов за период.
type DrawStats struct {
	Days         int             `json:"days"`
	TotalDraws   int             `json:"total_draws"`
	TotalCost    int64           `json:"total_cost"`
	TotalPayout  int64           `json:"total_payout"`
	WinCount     int             `json:"win_count"`
	JackpotCount int             `json:"jackpot_count"`
	ActualRTP    decimal.Decimal `json:"actual_rtp"`
	WinRate      decimal.Decimal `json:"win_rate"`
	HouseProfit  int64           `json:"house_profit"`
}

// ConfigInput — изменения конфигурации. nil — не менять.
type ConfigInput struct {
	Name              *string          `json:"name"`
	IsActive          *bool            `json:"is_active"`
	Cost              *int64           `json:"cost"`
	TwoKindMultiplier *decimal.Decimal `json:"two_kind_multiplier"`
	JackpotSymbolKey  *string          `json:"jackpot_symbol_key"`
	DailyLimit        *int             `json:"daily_limit"`
}

// SymbolInput — символ для полной замены таблицы.
type SymbolInput struct {
	SymbolKey  string `json:"symbol_key"`
	Emoji      string `json:"emoji"`
	Name       string `json:"name"`
	Multiplier int    `json:"multiplier"`
	Weight     int    `json:"weight"`
	SortOrder  int    `json:"sort_order"`
	IsEnabled  *bool  `json:"is_enabled"`
	IsJackpot  bool   `json:"is_jackpot"`
}
