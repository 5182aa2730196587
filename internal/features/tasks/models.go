// Package tasks реализует ежедневные и еженедельные задания:
// учёт событий, прогресс за период, выдачу наград и бонус за цепочку.
package tasks

import "time"

// Schedule — период сброса задания.
type Schedule string

const (
	ScheduleDaily  Schedule = "daily"
	ScheduleWeekly Schedule = "weekly"
)

// Schedules — все периоды в порядке обработки события.
var Schedules = []Schedule{ScheduleDaily, ScheduleWeekly}

func (s Schedule) Valid() bool {
	switch s {
	case ScheduleDaily, ScheduleWeekly:
		return true
	default:
		return false
	}
}

// TaskType — вид действия, которое двигает прогресс.
type TaskType string

const (
	TypeSignin     TaskType = "signin"
	TypeCheer      TaskType = "cheer"
	TypeLottery    TaskType = "lottery"
	TypeGacha      TaskType = "gacha"
	TypeSlot       TaskType = "slot"
	TypeScratch    TaskType = "scratch"
	TypeBet        TaskType = "bet"
	TypeExchange   TaskType = "exchange"
	TypeChainBonus TaskType = "chain_bonus"
)

func (t TaskType) Valid() bool {
	switch t {
	case TypeSignin, TypeCheer, TypeLottery, TypeGacha, TypeSlot,
		TypeScratch, TypeBet, TypeExchange, TypeChainBonus:
		return true
	default:
		return false
	}
}

// Definition — описание задания, настраивается администратором.
type Definition struct {
	ID           int64    `db:"id" json:"id"`
	TaskKey      string   `db:"task_key" json:"task_key"`
	Name         string   `db:"name" json:"name"`
	Description  string   `db:"description" json:"description"`
	Schedule     Schedule `db:"schedule" json:"schedule"`
	TaskType     TaskType `db:"task_type" json:"task_type"`
	TargetValue  int      `db:"target_value" json:"target_value"`
	RewardPoints int64    `db:"reward_points" json:"reward_points"`
	IsActive     bool     `db:"is_active" json:"is_active"`
	AutoClaim    bool     `db:"auto_claim" json:"auto_claim"`
	SortOrder    int      `db:"sort_order" json:"sort_order"`

	StartsAt *time.Time `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt   *time.Time `db:"ends_at" json:"ends_at,omitempty"`

	// ChainGroupKey — группа, в которую входит задание.
	// ChainRequiresGroupKey — у chain_bonus: группа, которую нужно закрыть целиком.
	ChainGroupKey         *string `db:"chain_group_key" json:"chain_group_key,omitempty"`
	ChainRequiresGroupKey *string `db:"chain_requires_group_key" json:"chain_requires_group_key,omitempty"`

	CreatedBy *int64    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Progress — прогресс пользователя по заданию за один период.
type Progress struct {
	ID            int64      `db:"id" json:"-"`
	UserID        int64      `db:"user_id" json:"-"`
	TaskID        int64      `db:"task_id" json:"task_id"`
	PeriodStart   time.Time  `db:"period_start" json:"period_start"`
	PeriodEnd     time.Time  `db:"period_end" json:"period_end"`
	ProgressValue int        `db:"progress_value" json:"progress_value"`
	TargetValue   int        `db:"target_value" json:"target_value"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ClaimedAt     *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	LastEventAt   *time.Time `db:"last_event_at" json:"last_event_at,omitempty"`
}

// Completed — задание выполнено в периоде.
func (p *Progress) Completed() bool {
	return p != nil && (p.CompletedAt != nil || (p.TargetValue > 0 && p.ProgressValue >= p.TargetValue))
}

// Claim — выданная награда. Одна строка на (пользователь, задание, период).
type Claim struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	TaskID       int64     `db:"task_id"`
	PeriodStart  time.Time `db:"period_start"`
	RewardPoints int64     `db:"reward_points"`
	RequestID    string    `db:"request_id"`
	ClaimedAt    time.Time `db:"claimed_at"`
}

// Event — действие пользователя, которое засчитывается заданиям.
type Event struct {
	UserID   int64
	TaskType TaskType
	Delta    int
	// EventKey — ключ дедупликации внутри периода, например "bet:15"
	EventKey string
	RefType  string
	RefID    int64
}

// EventResult — сколько заданий продвинуто, сколько наград выдано,
// сколько периодов пропущено как повтор.
type EventResult struct {
	Updated int `json:"updated"`
	Claimed int `json:"claimed"`
	Skipped int `json:"skipped"`
}

// ClaimResult — итог получения награды.
type ClaimResult struct {
	TaskID         int64  `json:"task_id"`
	AlreadyClaimed bool   `json:"already_claimed"`
	PeriodStart    string `json:"period_start"`
	RewardPoints   int64  `json:"reward_points"`
	RequestID      string `json:"request_id"`
}

// DefinitionInput — поля для создания или изменения задания.
// В Update nil означает «не менять».
type DefinitionInput struct {
	TaskKey               *string    `json:"task_key"`
	Name                  *string    `json:"name"`
	Description           *string    `json:"description"`
	Schedule              *Schedule  `json:"schedule"`
	TaskType              *TaskType  `json:"task_type"`
	TargetValue           *int       `json:"target_value"`
	RewardPoints          *int64     `json:"reward_points"`
	IsActive              *bool      `json:"is_active"`
	AutoClaim             *bool      `json:"auto_claim"`
	SortOrder             *int       `json:"sort_order"`
	StartsAt              *time.Time `json:"starts_at"`
	EndsAt                *time.Time `json:"ends_at"`
	ChainGroupKey         *string    `json:"chain_group_key"`
	ChainRequiresGroupKey *string    `json:"chain_requires_group_key"`
	CreatedBy             *int64     `json:"created_by"`
}

// ProgressView — прогресс для выдачи пользователю.
type ProgressView struct {
	PeriodStart     string     `json:"period_start"`
	PeriodEnd       string     `json:"period_end"`
	ProgressValue   int        `json:"progress_value"`
	TargetValue     int        `json:"target_value"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	IsCompleted     bool       `json:"is_completed"`
	IsClaimed       bool       `json:"is_claimed"`
	ProgressPercent int        `json:"progress_percent"`
}

type UserTaskItem struct {
	Task     *Definition  `json:"task"`
	Progress ProgressView `json:"progress"`
}

type UserTaskStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Claimed   int `json:"claimed"`
}

// UserTasks — список заданий периода с прогрессом.
type UserTasks struct {
	Schedule    Schedule        `json:"schedule"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	Items       []*UserTaskItem `json:"items"`
	Stats       UserTaskStats   `json:"stats"`
}
