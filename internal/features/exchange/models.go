// Package exchange — магазин обмена баллов на билеты и предметы.
package exchange

import "time"

// RewardType — что выдаёт товар.
type RewardType string

const (
	// RewardTicket — билеты; RewardKey хранит вид билета
	RewardTicket RewardType = "ticket"
	// RewardItem — предмет инвентаря; RewardKey хранит тип предмета
	RewardItem RewardType = "item"
)

func (t RewardType) Valid() bool {
	return t == RewardTicket || t == RewardItem
}

// MaxQuantity — больше за один обмен взять нельзя.
const MaxQuantity = 100

// Item — товар магазина.
type Item struct {
	ID           int64      `db:"id" json:"id"`
	ItemKey      string     `db:"item_key" json:"item_key"`
	Name         string     `db:"name" json:"name"`
	Description  string     `db:"description" json:"description"`
	Cost         int64      `db:"cost" json:"cost"`
	RewardType   RewardType `db:"reward_type" json:"reward_type"`
	RewardKey    string     `db:"reward_key" json:"reward_key"`
	RewardAmount int        `db:"reward_amount" json:"reward_amount"`
	Stock        *int       `db:"stock" json:"stock"` // nil — без ограничения
	DailyLimit   int        `db:"daily_limit" json:"daily_limit"`
	TotalLimit   int        `db:"total_limit" json:"total_limit"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	SortOrder    int        `db:"sort_order" json:"sort_order"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// HasStock — хватает ли остатка на quantity штук.
func (i *Item) HasStock(quantity int) bool {
	return i.Stock == nil || *i.Stock >= quantity
}

// Record — запись об обмене.
type Record struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ItemID    int64     `db:"item_id" json:"item_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	Cost      int64     `db:"cost" json:"cost"`
	RequestID string    `db:"request_id" json:"request_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	ItemName  string `db:"-" json:"item_name,omitempty"`
	Duplicate bool   `db:"-" json:"is_duplicate"`
}

// Request — запрос на обмен.
type Request struct {
	ItemKey   string `json:"item_key"`
	Quantity  int    `json:"quantity"`
	RequestID string `json:"request_id"`
}

// ItemInput — поля товара для админки. nil — не менять.
type ItemInput struct {
	ItemKey      *string     `json:"item_key"`
	Name         *string     `json:"name"`
	Description  *string     `json:"description"`
	Cost         *int64      `json:"cost"`
	RewardType   *RewardType `json:"reward_type"`
	RewardKey    *string     `json:"reward_key"`
	RewardAmount *int        `json:"reward_amount"`
	Stock        *int        `json:"stock"`
	DailyLimit   *int        `json:"daily_limit"`
	TotalLimit   *int        `json:"total_limit"`
	IsActive     *bool       `json:"is_active"`
	SortOrder    *int        `json:"sort_order"`
}
